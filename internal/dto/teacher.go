package dto

// CreateTeacherRequest is the payload for registering a teacher.
type CreateTeacherRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	FullName   string  `json:"full_name" validate:"required,min=2,max=120"`
	Department *string `json:"department,omitempty" validate:"omitempty,max=120"`
}

// UpdateTeacherRequest is the payload for editing a teacher.
type UpdateTeacherRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	FullName   string  `json:"full_name" validate:"required,min=2,max=120"`
	Department *string `json:"department,omitempty" validate:"omitempty,max=120"`
	Active     *bool   `json:"active,omitempty"`
}

// TeacherListQuery captures list filters from query params.
type TeacherListQuery struct {
	Search    string `form:"search"`
	Active    *bool  `form:"active"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}
