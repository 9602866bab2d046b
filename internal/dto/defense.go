package dto

import "github.com/pfe-hub/pfe-planner-api/internal/models"

// PanelMemberRequest binds one teacher to one panel role.
type PanelMemberRequest struct {
	TeacherID string             `json:"teacherId" validate:"required"`
	Role      models.DefenseRole `json:"role" validate:"required,oneof=SUPERVISOR REVIEWER PRESIDENT"`
}

// CreateDefenseRequest schedules a defense session manually. The panel
// must cover supervisor, reviewer and president exactly once each.
type CreateDefenseRequest struct {
	ProjectID string               `json:"projectId" validate:"required"`
	Room      string               `json:"room" validate:"required"`
	Date      string               `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string               `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string               `json:"endTime" validate:"required,datetime=15:04"`
	Panel     []PanelMemberRequest `json:"panel" validate:"required,len=3,dive"`
}

// UpdateDefenseRequest overwrites room, times and roles of an existing
// session in place.
type UpdateDefenseRequest struct {
	Room      string               `json:"room" validate:"required"`
	Date      string               `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string               `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string               `json:"endTime" validate:"required,datetime=15:04"`
	Panel     []PanelMemberRequest `json:"panel" validate:"required,len=3,dive"`
}

// PublishDefenseRequest toggles planning visibility of a session.
type PublishDefenseRequest struct {
	Published bool `json:"published"`
}

// GenerateDefensesRequest instructs the greedy generator to place every
// supervised project over the supplied dates and rooms. ReplaceExisting
// clears previously committed sessions first; this destructive step is
// caller-controlled, never implicit.
type GenerateDefensesRequest struct {
	Rooms           []string `json:"rooms" validate:"required,min=1"`
	Dates           []string `json:"dates" validate:"required,min=1,dive,datetime=2006-01-02"`
	ReplaceExisting bool     `json:"replaceExisting"`
}

// GenerationStats summarises a generator run.
type GenerationStats struct {
	ProjectCount int `json:"projectCount"`
	PlacedCount  int `json:"placedCount"`
	SkippedCount int `json:"skippedCount"`
}

// GenerateDefensesResponse returns committed sessions plus the projects
// the generator could not place. An unplaceable project is a partial
// outcome, not an error.
type GenerateDefensesResponse struct {
	Sessions   []models.DefenseSession `json:"sessions"`
	Unassigned []string                `json:"unassigned"`
	Stats      GenerationStats         `json:"stats"`
}

// DefensePlanningQuery filters the planning listing.
type DefensePlanningQuery struct {
	From      string `form:"from" json:"from"`
	To        string `form:"to" json:"to"`
	Room      string `form:"room" json:"room"`
	Published *bool  `form:"published" json:"published,omitempty"`
}
