package models

import "time"

// Activity is the locally-schedulable LMS assignment bound to a spec. Dates
// are epoch seconds; AllowFrom 0 means available immediately.
type Activity struct {
	ID                int64     `db:"id" json:"id"`
	ContainerID       int64     `db:"container_id" json:"container_id"`
	Title             string    `db:"title" json:"title"`
	DueDate           int64     `db:"due_date" json:"due_date"`
	CutoffDate        int64     `db:"cutoff_date" json:"cutoff_date"`
	GradingDueDate    int64     `db:"grading_due_date" json:"grading_due_date"`
	AllowFrom         int64     `db:"allow_from" json:"allow_from"`
	ScaleID           string    `db:"scale_id" json:"scale_id"`
	Visible           bool      `db:"visible" json:"visible"`
	CompletionTracked bool      `db:"completion_tracked" json:"completion_tracked"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// ContainerStatus is the readiness snapshot of a course container.
type ContainerStatus struct {
	ContainerID       int64 `db:"container_id" json:"container_id"`
	Visible           bool  `db:"visible" json:"visible"`
	ActivityCount     int   `db:"activity_count" json:"activity_count"`
	EnrolledUserCount int   `db:"enrolled_user_count" json:"enrolled_user_count"`
}

// Ready reports whether a container may safely receive a materialized
// activity: not published to students yet, no human-added activities beyond
// the single default placeholder, and nobody enrolled.
func (c ContainerStatus) Ready() bool {
	return !c.Visible && c.ActivityCount <= 1 && c.EnrolledUserCount == 0
}

// FinalizedGrade is one externally-finalized mark discovered by the
// ingestion scan. StudentRef is the raw LMS identifier and may be malformed;
// callers validate it before use. RawGrade -1 means not marked.
type FinalizedGrade struct {
	ActivityID  int64     `db:"activity_id" json:"activity_id"`
	StudentRef  string    `db:"student_ref" json:"student_ref"`
	RawGrade    float64   `db:"raw_grade" json:"raw_grade"`
	GraderID    int64     `db:"grader_id" json:"grader_id"`
	SubmittedAt int64     `db:"submitted_at" json:"submitted_at"`
	Misconduct  bool      `db:"misconduct" json:"misconduct"`
	FinalizedAt time.Time `db:"finalized_at" json:"finalized_at"`
}
