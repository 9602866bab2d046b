package models

import "time"

// ProjectMode distinguishes solo projects from pair projects.
type ProjectMode string

const (
	ProjectModeSolo ProjectMode = "solo"
	ProjectModePair ProjectMode = "pair"
)

// ProjectStatus tracks the moderation state of a submitted project.
type ProjectStatus string

const (
	ProjectStatusPending   ProjectStatus = "pending"
	ProjectStatusPublished ProjectStatus = "published"
	ProjectStatusHidden    ProjectStatus = "hidden"
	ProjectStatusRejected  ProjectStatus = "rejected"
)

// Project represents an end-of-studies project submission.
type Project struct {
	ID           string        `db:"id" json:"id"`
	Title        string        `db:"title" json:"title"`
	Mode         ProjectMode   `db:"mode" json:"mode"`
	Status       ProjectStatus `db:"status" json:"status"`
	SupervisorID *string       `db:"supervisor_id" json:"supervisor_id,omitempty"`
	StudentID    *string       `db:"student_id" json:"student_id,omitempty"`
	PartnerID    *string       `db:"partner_id" json:"partner_id,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// ProjectFilter captures filtering options for listing projects.
type ProjectFilter struct {
	Status       string
	SupervisorID string
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
