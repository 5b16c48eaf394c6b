package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/campusops/sits-bridge/internal/models"
)

// ActivityRepository handles the LMS-side tables: course containers,
// schedulable activities, and the finalized-grade feed.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// ContainerStatus returns the readiness snapshot for a container.
// sql.ErrNoRows means the container has been deleted externally.
func (r *ActivityRepository) ContainerStatus(ctx context.Context, containerID int64) (*models.ContainerStatus, error) {
	const query = `SELECT c.id AS container_id, c.visible,
		(SELECT COUNT(1) FROM activities a WHERE a.container_id = c.id) AS activity_count,
		(SELECT COUNT(1) FROM container_enrolments e WHERE e.container_id = c.id) AS enrolled_user_count
	FROM containers c WHERE c.id = $1`
	var status models.ContainerStatus
	if err := r.db.GetContext(ctx, &status, query, containerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("container status: %w", err)
	}
	return &status, nil
}

// ContainerExists reports whether a container id resolves.
func (r *ActivityRepository) ContainerExists(ctx context.Context, containerID int64) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM containers WHERE id = $1`, containerID); err != nil {
		return false, fmt.Errorf("check container: %w", err)
	}
	return count > 0, nil
}

// Get returns an activity row by id.
func (r *ActivityRepository) Get(ctx context.Context, activityID int64) (*models.Activity, error) {
	const query = `SELECT id, container_id, title, due_date, cutoff_date, grading_due_date, allow_from,
		scale_id, visible, completion_tracked, created_at, updated_at
	FROM activities WHERE id = $1`
	var activity models.Activity
	if err := r.db.GetContext(ctx, &activity, query, activityID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return &activity, nil
}

// CreateForSpec inserts an activity and binds it to its spec in one
// transaction. The spec binding re-verifies activity_id is still 0; when a
// concurrent run won, everything rolls back and false is returned.
func (r *ActivityRepository) CreateForSpec(ctx context.Context, sitsRef string, activity *models.Activity) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	activity.CreatedAt = now
	activity.UpdatedAt = now
	const insert = `INSERT INTO activities (container_id, title, due_date, cutoff_date, grading_due_date,
		allow_from, scale_id, visible, completion_tracked, submission_configured, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11) RETURNING id`
	if err := tx.GetContext(ctx, &activity.ID, insert,
		activity.ContainerID, activity.Title, activity.DueDate, activity.CutoffDate, activity.GradingDueDate,
		activity.AllowFrom, activity.ScaleID, activity.Visible, activity.CompletionTracked,
		activity.CreatedAt, activity.UpdatedAt); err != nil {
		tx.Rollback() //nolint:errcheck
		return false, fmt.Errorf("insert activity: %w", err)
	}
	const bind = `UPDATE assignment_specs SET activity_id = $1, updated_at = $2
	WHERE sits_ref = $3 AND activity_id = 0`
	result, err := tx.ExecContext(ctx, bind, activity.ID, now, sitsRef)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return false, fmt.Errorf("bind activity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return false, fmt.Errorf("bind activity: %w", err)
	}
	if affected != 1 {
		tx.Rollback() //nolint:errcheck
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit materialization: %w", err)
	}
	return true, nil
}

// ActivityUpdate carries the recomputed fields pushed onto an existing
// activity. TouchScale false leaves the grading scale untouched, which is how
// the scale-immutability rule for graded activities is enforced at the store.
type ActivityUpdate struct {
	Title          string
	DueDate        int64
	CutoffDate     int64
	GradingDueDate int64
	AllowFrom      int64
	ScaleID        string
	TouchScale     bool
}

// Update pushes recomputed schedule fields onto an activity.
func (r *ActivityRepository) Update(ctx context.Context, activityID int64, upd ActivityUpdate) error {
	now := time.Now().UTC()
	if upd.TouchScale {
		const query = `UPDATE activities SET title = $1, due_date = $2, cutoff_date = $3,
			grading_due_date = $4, allow_from = $5, scale_id = $6, updated_at = $7 WHERE id = $8`
		if _, err := r.db.ExecContext(ctx, query, upd.Title, upd.DueDate, upd.CutoffDate,
			upd.GradingDueDate, upd.AllowFrom, upd.ScaleID, now, activityID); err != nil {
			return fmt.Errorf("update activity: %w", err)
		}
		return nil
	}
	const query = `UPDATE activities SET title = $1, due_date = $2, cutoff_date = $3,
		grading_due_date = $4, allow_from = $5, updated_at = $6 WHERE id = $7`
	if _, err := r.db.ExecContext(ctx, query, upd.Title, upd.DueDate, upd.CutoffDate,
		upd.GradingDueDate, upd.AllowFrom, now, activityID); err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return nil
}

// HasGradedWork reports whether any submission for the activity has been
// marked. A true result freezes the activity's grading configuration.
func (r *ActivityRepository) HasGradedWork(ctx context.Context, activityID int64) (bool, error) {
	const query = `SELECT COUNT(1) FROM activity_grades WHERE activity_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, activityID); err != nil {
		return false, fmt.Errorf("check graded work: %w", err)
	}
	return count > 0, nil
}

// FinalizedSince returns grades finalized after the given instant, oldest
// first, for the ingestion scan.
func (r *ActivityRepository) FinalizedSince(ctx context.Context, since time.Time) ([]models.FinalizedGrade, error) {
	const query = `SELECT activity_id, student_ref, raw_grade, grader_id, submitted_at, misconduct, finalized_at
	FROM activity_grades WHERE finalized = TRUE AND finalized_at > $1
	ORDER BY finalized_at, activity_id, student_ref`
	var grades []models.FinalizedGrade
	if err := r.db.SelectContext(ctx, &grades, query, since); err != nil {
		return nil, fmt.Errorf("scan finalized grades: %w", err)
	}
	return grades, nil
}
