package models

import "time"

// Queue response outcomes. An empty response means the row is still pending
// upload; everything else is terminal until a later re-ingestion supersedes it.
const (
	ResponsePending = ""
	ResponseSuccess = "SUCCESS"
	ResponseFailed  = "FAILED"
	ResponseTimeout = "TIMEOUT"
)

// QueuedGrade is one pending-or-resolved unit of grade data awaiting upload
// to SITS. Grade carries the already-converted, scale-appropriate value.
type QueuedGrade struct {
	ID          string    `db:"id" json:"id"`
	SITSRef     string    `db:"sits_ref" json:"sits_ref"`
	GraderID    int64     `db:"grader_id" json:"grader_id"`
	StudentID   int64     `db:"student_id" json:"student_id"`
	Grade       string    `db:"grade" json:"grade"`
	Message     string    `db:"message" json:"message"`
	Response    string    `db:"response" json:"response"`
	SubmittedAt int64     `db:"submitted_at" json:"submitted_at"`
	Misconduct  bool      `db:"misconduct" json:"misconduct"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Pending reports whether the row is still awaiting upload.
func (g *QueuedGrade) Pending() bool {
	return g.Response == ResponsePending
}
