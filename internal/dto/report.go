package dto

import (
	"time"

	"github.com/campusops/sits-bridge/internal/models"
)

// ReportRequest asks for an asynchronous warning report.
type ReportRequest struct {
	Type models.ReportType `json:"type" validate:"required,oneof=unconfigured queue_state"`
}

// ReportJobResponse is the API view of a report job.
type ReportJobResponse struct {
	ID           string              `json:"id"`
	Type         models.ReportType   `json:"type"`
	Status       models.ReportStatus `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
}
