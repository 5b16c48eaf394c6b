package dto

import "github.com/campusops/sits-bridge/internal/models"

// AssignmentStatus is the read view of a registered assignment, carrying the
// derived materialization state alongside the stored fields.
type AssignmentStatus struct {
	*models.AssignmentSpec
	State models.SpecState `json:"state"`
}

// AssignmentPayload is one externally-submitted assignment definition.
// Field names mirror the SITS submission contract.
type AssignmentPayload struct {
	SITSRef        string `json:"sitsref" validate:"required"`
	ContainerID    int64  `json:"containerid" validate:"required"`
	Attempt        int    `json:"attempt" validate:"min=0"`
	Title          string `json:"title" validate:"required"`
	Weighting      int    `json:"weighting" validate:"min=0,max=100"`
	DueDate        int64  `json:"duedate" validate:"min=0"`
	AvailableFrom  int64  `json:"availablefrom" validate:"min=0"`
	GradeExempt    bool   `json:"grademarkexempt"`
	ScaleID        string `json:"scale"`
	AssessmentCode string `json:"assessmentcode" validate:"required"`
	AssessmentName string `json:"assessmentname"`
	AssessmentType string `json:"assessmenttype"`
	SequenceToken  string `json:"sequence"`
	AcademicYear   string `json:"academicyear"`
}

// SubmissionRequest wraps a transactional, all-or-nothing batch of payloads.
type SubmissionRequest struct {
	Assignments []AssignmentPayload `json:"assignments" validate:"required,min=1,dive"`
}
