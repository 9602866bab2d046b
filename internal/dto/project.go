package dto

// CreateProjectRequest is the payload for submitting a project.
type CreateProjectRequest struct {
	Title     string  `json:"title" validate:"required,min=3,max=200"`
	Mode      string  `json:"mode" validate:"required,oneof=solo pair"`
	StudentID *string `json:"student_id,omitempty"`
	PartnerID *string `json:"partner_id,omitempty"`
}

// UpdateProjectStatusRequest moves a project through moderation.
type UpdateProjectStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending published hidden rejected"`
}

// AssignSupervisorRequest binds a supervising teacher to a project.
type AssignSupervisorRequest struct {
	TeacherID string `json:"teacher_id" validate:"required"`
}

// ProjectListQuery captures list filters from query params.
type ProjectListQuery struct {
	Status       string `form:"status"`
	SupervisorID string `form:"supervisor_id"`
	Search       string `form:"search"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
	SortBy       string `form:"sort_by"`
	SortOrder    string `form:"sort_order"`
}
