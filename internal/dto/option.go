package dto

import "github.com/pfe-hub/pfe-planner-api/internal/models"

// AllocateOptionsRequest triggers the ranked option assignment. The two
// percentages must sum to 100; when both are omitted the configured
// default split applies.
type AllocateOptionsRequest struct {
	TrackAPercent int `json:"trackAPercent" validate:"omitempty,min=1,max=100"`
	TrackBPercent int `json:"trackBPercent" validate:"omitempty,min=1,max=100"`
}

// OptionAssignmentResult is the per-candidate outcome of an allocation.
type OptionAssignmentResult struct {
	StudentID  string             `json:"studentId"`
	Preference models.OptionTrack `json:"preference"`
	Track      models.OptionTrack `json:"track"`
	Stratum    int                `json:"stratum"`
	Score      float64            `json:"score"`
}

// AllocateOptionsResponse returns final tracks and the two capacity
// records suitable for persistence.
type AllocateOptionsResponse struct {
	Assignments []OptionAssignmentResult `json:"assignments"`
	Capacities  []models.OptionCapacity  `json:"capacities"`
}
