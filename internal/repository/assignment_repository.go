package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/campusops/sits-bridge/internal/models"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
)

const assignmentColumns = `id, sits_ref, container_id, activity_id, attempt, title, weighting,
		due_date, available_from, grade_exempt, scale_id, assessment_code, assessment_name, assessment_type,
		sequence_token, academic_year, created_at, updated_at`

// AssignmentRepository handles assignment specification persistence.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates a new assignment repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts a new specification. A SITS reference collision surfaces as
// ErrDuplicateReference.
func (r *AssignmentRepository) Create(ctx context.Context, spec *models.AssignmentSpec) error {
	now := time.Now().UTC()
	spec.CreatedAt = now
	spec.UpdatedAt = now
	const query = `INSERT INTO assignment_specs (sits_ref, container_id, activity_id, attempt, title, weighting,
		due_date, available_from, grade_exempt, scale_id, assessment_code, assessment_name, assessment_type,
		sequence_token, academic_year, created_at, updated_at)
	VALUES (:sits_ref, :container_id, :activity_id, :attempt, :title, :weighting,
		:due_date, :available_from, :grade_exempt, :scale_id, :assessment_code, :assessment_name, :assessment_type,
		:sequence_token, :academic_year, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, spec); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return appErrors.Clone(appErrors.ErrDuplicateReference,
				fmt.Sprintf("sits reference %s already registered", spec.SITSRef))
		}
		return fmt.Errorf("create assignment spec: %w", err)
	}
	return nil
}

// CreateBatch inserts a submission's specs in one transaction so a rejected
// payload leaves nothing behind.
func (r *AssignmentRepository) CreateBatch(ctx context.Context, specs []models.AssignmentSpec) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	const query = `INSERT INTO assignment_specs (sits_ref, container_id, activity_id, attempt, title, weighting,
		due_date, available_from, grade_exempt, scale_id, assessment_code, assessment_name, assessment_type,
		sequence_token, academic_year, created_at, updated_at)
	VALUES (:sits_ref, :container_id, :activity_id, :attempt, :title, :weighting,
		:due_date, :available_from, :grade_exempt, :scale_id, :assessment_code, :assessment_name, :assessment_type,
		:sequence_token, :academic_year, :created_at, :updated_at)`
	for i := range specs {
		specs[i].CreatedAt = now
		specs[i].UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, query, specs[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return appErrors.Clone(appErrors.ErrDuplicateReference,
					fmt.Sprintf("sits reference %s already registered", specs[i].SITSRef))
			}
			return fmt.Errorf("create assignment spec %s: %w", specs[i].SITSRef, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment specs: %w", err)
	}
	return nil
}

// UpdateBatch rewrites a submission's specs in one transaction. Rows are
// matched by SITS reference; a missing reference aborts the whole call.
func (r *AssignmentRepository) UpdateBatch(ctx context.Context, specs []models.AssignmentSpec) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	const query = `UPDATE assignment_specs SET attempt = :attempt, title = :title, weighting = :weighting,
		due_date = :due_date, available_from = :available_from, grade_exempt = :grade_exempt,
		scale_id = :scale_id, assessment_code = :assessment_code, assessment_name = :assessment_name,
		assessment_type = :assessment_type, sequence_token = :sequence_token, academic_year = :academic_year, updated_at = :updated_at
	WHERE sits_ref = :sits_ref`
	for i := range specs {
		specs[i].UpdatedAt = now
		result, err := tx.NamedExecContext(ctx, query, specs[i])
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("update assignment spec %s: %w", specs[i].SITSRef, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("update assignment spec %s: %w", specs[i].SITSRef, err)
		}
		if affected == 0 {
			tx.Rollback() //nolint:errcheck
			return appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("sits reference %s is not registered", specs[i].SITSRef))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment specs: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a specification. ContainerID and
// ActivityID are deliberately absent from the SET list; container
// reassignment goes through delete+recreate only, and activity binding goes
// through BindActivityTx.
func (r *AssignmentRepository) Update(ctx context.Context, spec *models.AssignmentSpec) error {
	spec.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assignment_specs SET attempt = :attempt, title = :title, weighting = :weighting,
		due_date = :due_date, available_from = :available_from, grade_exempt = :grade_exempt,
		scale_id = :scale_id, assessment_code = :assessment_code, assessment_name = :assessment_name,
		assessment_type = :assessment_type, sequence_token = :sequence_token, academic_year = :academic_year, updated_at = :updated_at
	WHERE sits_ref = :sits_ref`
	result, err := r.db.NamedExecContext(ctx, query, spec)
	if err != nil {
		return fmt.Errorf("update assignment spec: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update assignment spec: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetByRef returns the specification for a SITS reference.
func (r *AssignmentRepository) GetByRef(ctx context.Context, sitsRef string) (*models.AssignmentSpec, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_specs WHERE sits_ref = $1`, assignmentColumns)
	var spec models.AssignmentSpec
	if err := r.db.GetContext(ctx, &spec, query, sitsRef); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get assignment spec: %w", err)
	}
	return &spec, nil
}

// GetByActivity returns the specification bound to an activity id.
func (r *AssignmentRepository) GetByActivity(ctx context.Context, activityID int64) (*models.AssignmentSpec, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_specs WHERE activity_id = $1`, assignmentColumns)
	var spec models.AssignmentSpec
	if err := r.db.GetContext(ctx, &spec, query, activityID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get assignment spec by activity: %w", err)
	}
	return &spec, nil
}

// FindMaterializable returns unmaterialized, schedulable specs ordered by
// SITS reference so repeated partial runs make monotonic progress. Years, when
// non-empty, is an academic-year allow-list.
func (r *AssignmentRepository) FindMaterializable(ctx context.Context, limit int, years []string) ([]models.AssignmentSpec, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_specs WHERE activity_id = 0 AND due_date > 0`, assignmentColumns)
	var args []interface{}
	if len(years) > 0 {
		placeholders := make([]string, len(years))
		for i, year := range years {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, year)
		}
		query += fmt.Sprintf(" AND academic_year IN (%s)", strings.Join(placeholders, ","))
	}
	query += fmt.Sprintf(" ORDER BY sits_ref LIMIT $%d", len(args)+1)
	args = append(args, limit)
	var specs []models.AssignmentSpec
	if err := r.db.SelectContext(ctx, &specs, query, args...); err != nil {
		return nil, fmt.Errorf("find materializable specs: %w", err)
	}
	return specs, nil
}

// FirstAttempt returns the materialized first-attempt spec sharing an
// assessment code, used to inherit its activity's grade scale for reattempts.
func (r *AssignmentRepository) FirstAttempt(ctx context.Context, assessmentCode string) (*models.AssignmentSpec, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignment_specs
	WHERE assessment_code = $1 AND attempt = 0 AND activity_id > 0
	ORDER BY sits_ref LIMIT 1`, assignmentColumns)
	var spec models.AssignmentSpec
	if err := r.db.GetContext(ctx, &spec, query, assessmentCode); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find first attempt spec: %w", err)
	}
	return &spec, nil
}

// BindActivityTx records the materialized activity id, re-verifying inside
// the transaction that no concurrent run bound one first. Returns false when
// the optimistic check loses.
func (r *AssignmentRepository) BindActivityTx(ctx context.Context, tx *sqlx.Tx, sitsRef string, activityID int64) (bool, error) {
	const query = `UPDATE assignment_specs SET activity_id = $1, updated_at = $2
	WHERE sits_ref = $3 AND activity_id = 0`
	result, err := tx.ExecContext(ctx, query, activityID, time.Now().UTC(), sitsRef)
	if err != nil {
		return false, fmt.Errorf("bind activity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bind activity: %w", err)
	}
	return affected == 1, nil
}

// Delete removes a specification by reference.
func (r *AssignmentRepository) Delete(ctx context.Context, sitsRef string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM assignment_specs WHERE sits_ref = $1`, sitsRef)
	if err != nil {
		return fmt.Errorf("delete assignment spec: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete assignment spec: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindUnconfigured returns materialized specs due inside the window whose
// activity still has no submission mechanism configured. Feeds the operator
// warning report only.
func (r *AssignmentRepository) FindUnconfigured(ctx context.Context, windowStart, windowEnd int64) ([]models.UnconfiguredAssignment, error) {
	const query = `SELECT s.sits_ref, s.container_id, s.activity_id, s.title, s.due_date, s.assessment_code
	FROM assignment_specs s
	JOIN activities a ON a.id = s.activity_id
	WHERE s.due_date >= $1 AND s.due_date < $2 AND a.submission_configured = FALSE
	ORDER BY s.due_date, s.sits_ref`
	var rows []models.UnconfiguredAssignment
	if err := r.db.SelectContext(ctx, &rows, query, windowStart, windowEnd); err != nil {
		return nil, fmt.Errorf("find unconfigured assignments: %w", err)
	}
	return rows, nil
}
