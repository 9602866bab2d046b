package dto

import "github.com/pfe-hub/pfe-planner-api/internal/models"

// ExportJobRequest queues a background planning export.
type ExportJobRequest struct {
	Format    models.ExportFormat `json:"format" validate:"required,oneof=csv pdf"`
	From      string              `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string              `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Room      string              `json:"room"`
	Published *bool               `json:"published,omitempty"`
}

// ExportJobResponse acknowledges a queued export job.
type ExportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ExportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ExportJobStatusResponse exposes job progress and the signed result URL
// once the export is ready.
type ExportJobStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ExportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"result_url,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
