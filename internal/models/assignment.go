package models

import "time"

// SpecState describes where an assignment specification sits in its
// materialization lifecycle. The state is derived, never stored.
type SpecState string

const (
	// SpecStateUnscheduled means SITS has not supplied a due date yet.
	SpecStateUnscheduled SpecState = "UNSCHEDULED"
	// SpecStatePending means the spec is schedulable but no activity exists.
	SpecStatePending SpecState = "PENDING_MATERIALIZATION"
	// SpecStateMaterialized means a live activity is bound to the spec.
	SpecStateMaterialized SpecState = "MATERIALIZED"
)

// AssignmentSpec is one externally-defined assignment, keyed by its SITS
// reference. ActivityID stays 0 until the spec is materialized; DueDate and
// AvailableFrom are epoch seconds with 0 meaning unset / immediately.
type AssignmentSpec struct {
	ID             int64     `db:"id" json:"id"`
	SITSRef        string    `db:"sits_ref" json:"sits_ref"`
	ContainerID    int64     `db:"container_id" json:"container_id"`
	ActivityID     int64     `db:"activity_id" json:"activity_id"`
	Attempt        int       `db:"attempt" json:"attempt"`
	Title          string    `db:"title" json:"title"`
	Weighting      int       `db:"weighting" json:"weighting"`
	DueDate        int64     `db:"due_date" json:"due_date"`
	AvailableFrom  int64     `db:"available_from" json:"available_from"`
	GradeExempt    bool      `db:"grade_exempt" json:"grade_exempt"`
	ScaleID        string    `db:"scale_id" json:"scale_id"`
	AssessmentCode string    `db:"assessment_code" json:"assessment_code"`
	AssessmentName string    `db:"assessment_name" json:"assessment_name"`
	AssessmentType string    `db:"assessment_type" json:"assessment_type"`
	SequenceToken  string    `db:"sequence_token" json:"sequence_token"`
	AcademicYear   string    `db:"academic_year" json:"academic_year"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// State derives the lifecycle state from the stored fields.
func (s *AssignmentSpec) State() SpecState {
	switch {
	case s.ActivityID > 0:
		return SpecStateMaterialized
	case s.DueDate > 0:
		return SpecStatePending
	default:
		return SpecStateUnscheduled
	}
}

// IsReattempt reports whether the spec is a resit opportunity.
func (s *AssignmentSpec) IsReattempt() bool {
	return s.Attempt > 0
}

// IsExam reports whether SITS classifies the assessment as an exam sitting.
// Exams cut off at the due date exactly, with no submission grace period.
func (s *AssignmentSpec) IsExam() bool {
	return s.AssessmentType == "EXM"
}

// UnconfiguredAssignment is a reporting row for materialized activities whose
// submission mechanism was never set up by course staff.
type UnconfiguredAssignment struct {
	SITSRef        string `db:"sits_ref" json:"sits_ref"`
	ContainerID    int64  `db:"container_id" json:"container_id"`
	ActivityID     int64  `db:"activity_id" json:"activity_id"`
	Title          string `db:"title" json:"title"`
	DueDate        int64  `db:"due_date" json:"due_date"`
	AssessmentCode string `db:"assessment_code" json:"assessment_code"`
}
