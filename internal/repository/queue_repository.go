package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusops/sits-bridge/internal/models"
)

// QueueRepository handles the grade upload queue.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue inserts a pending row unless an equivalent one already exists.
// Re-scanning the same finalize event must not stack duplicate pending rows
// for a grade value that is already recorded, so an insert is skipped when a
// row for the same assignment and student carries the same converted value.
func (r *QueueRepository) Enqueue(ctx context.Context, grade *models.QueuedGrade) (bool, error) {
	const existing = `SELECT COUNT(1) FROM queued_grades
	WHERE sits_ref = $1 AND student_id = $2 AND grade = $3`
	var count int
	if err := r.db.GetContext(ctx, &count, existing, grade.SITSRef, grade.StudentID, grade.Grade); err != nil {
		return false, fmt.Errorf("check queued grade: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	grade.CreatedAt = now
	grade.UpdatedAt = now
	const query = `INSERT INTO queued_grades (id, sits_ref, grader_id, student_id, grade, message, response,
		submitted_at, misconduct, created_at, updated_at)
	VALUES (:id, :sits_ref, :grader_id, :student_id, :grade, :message, :response,
		:submitted_at, :misconduct, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return false, fmt.Errorf("enqueue grade: %w", err)
	}
	return true, nil
}

// PendingRefs returns up to limit distinct assignment references that still
// have pending rows, ordered for deterministic batch progress.
func (r *QueueRepository) PendingRefs(ctx context.Context, limit int) ([]string, error) {
	const query = `SELECT DISTINCT sits_ref FROM queued_grades WHERE response = ''
	ORDER BY sits_ref LIMIT $1`
	var refs []string
	if err := r.db.SelectContext(ctx, &refs, query, limit); err != nil {
		return nil, fmt.Errorf("list pending refs: %w", err)
	}
	return refs, nil
}

// PendingByRef returns the pending rows for one assignment reference.
func (r *QueueRepository) PendingByRef(ctx context.Context, sitsRef string) ([]models.QueuedGrade, error) {
	const query = `SELECT id, sits_ref, grader_id, student_id, grade, message, response,
		submitted_at, misconduct, created_at, updated_at
	FROM queued_grades WHERE sits_ref = $1 AND response = '' ORDER BY student_id`
	var grades []models.QueuedGrade
	if err := r.db.SelectContext(ctx, &grades, query, sitsRef); err != nil {
		return nil, fmt.Errorf("list pending grades: %w", err)
	}
	return grades, nil
}

// ListByRef returns every queue row for an assignment, newest first.
func (r *QueueRepository) ListByRef(ctx context.Context, sitsRef string) ([]models.QueuedGrade, error) {
	const query = `SELECT id, sits_ref, grader_id, student_id, grade, message, response,
		submitted_at, misconduct, created_at, updated_at
	FROM queued_grades WHERE sits_ref = $1 ORDER BY updated_at DESC`
	var grades []models.QueuedGrade
	if err := r.db.SelectContext(ctx, &grades, query, sitsRef); err != nil {
		return nil, fmt.Errorf("list queued grades: %w", err)
	}
	return grades, nil
}

// GradeOutcome is one reconciled per-row result.
type GradeOutcome struct {
	ID       string
	Response string
	Message  string
}

// Reconcile writes a batch of per-row outcomes in a single transaction so a
// mid-batch crash leaves no partially reconciled assignment.
func (r *QueueRepository) Reconcile(ctx context.Context, outcomes []GradeOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const query = `UPDATE queued_grades SET response = $1, message = $2, updated_at = $3 WHERE id = $4`
	now := time.Now().UTC()
	for _, outcome := range outcomes {
		if _, err := tx.ExecContext(ctx, query, outcome.Response, outcome.Message, now, outcome.ID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("reconcile queued grade: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconciliation: %w", err)
	}
	return nil
}

// MarkAll stamps the same outcome onto a set of rows atomically.
func (r *QueueRepository) MarkAll(ctx context.Context, ids []string, response, message string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := []interface{}{response, message, time.Now().UTC()}
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE queued_grades SET response = $1, message = $2, updated_at = $3
	WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark queued grades: %w", err)
	}
	return nil
}

// LastQueuedTime returns the newest queue-row creation time, used to anchor
// the ingestion overlap window. Zero time when the queue is empty.
func (r *QueueRepository) LastQueuedTime(ctx context.Context) (time.Time, error) {
	const query = `SELECT created_at FROM queued_grades ORDER BY created_at DESC LIMIT 1`
	var last time.Time
	if err := r.db.GetContext(ctx, &last, query); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last queued time: %w", err)
	}
	return last, nil
}

// OutcomeCounts aggregates queue responses per assignment for the operator
// queue-state report.
func (r *QueueRepository) OutcomeCounts(ctx context.Context) ([]QueueOutcome, error) {
	const query = `SELECT sits_ref,
		COUNT(1) FILTER (WHERE response = '') AS pending,
		COUNT(1) FILTER (WHERE response = 'SUCCESS') AS succeeded,
		COUNT(1) FILTER (WHERE response = 'FAILED') AS failed,
		COUNT(1) FILTER (WHERE response = 'TIMEOUT') AS timed_out
	FROM queued_grades GROUP BY sits_ref ORDER BY sits_ref`
	var rows []QueueOutcome
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("aggregate queue outcomes: %w", err)
	}
	return rows, nil
}

// QueueOutcome summarises response states for one assignment.
type QueueOutcome struct {
	SITSRef  string `db:"sits_ref"`
	Pending  int    `db:"pending"`
	Success  int    `db:"succeeded"`
	Failed   int    `db:"failed"`
	TimedOut int    `db:"timed_out"`
}
