package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/sits-bridge/internal/models"
)

func TestActivityRepositoryContainerStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	rows := sqlmock.NewRows([]string{"container_id", "visible", "activity_count", "enrolled_user_count"}).
		AddRow(42, false, 1, 0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM containers c WHERE c.id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	status, err := repo.ContainerStatus(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, status.Ready())
}

func TestActivityRepositoryContainerStatusMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM containers c WHERE c.id = $1")).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ContainerStatus(context.Background(), 404)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestActivityRepositoryCreateForSpecBindsAtomically(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO activities")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9001))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE assignment_specs SET activity_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	activity := &models.Activity{ContainerID: 42, Title: "Essay 1"}
	created, err := repo.CreateForSpec(context.Background(), "A101-001-0", activity)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(9001), activity.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityRepositoryCreateForSpecLosesRace(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO activities")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9001))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE assignment_specs SET activity_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	created, err := repo.CreateForSpec(context.Background(), "A101-001-0", &models.Activity{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityRepositoryUpdateLeavesScaleWhenFrozen(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	// Only six bind params: scale_id must not appear in the SET list.
	mock.ExpectExec(regexp.QuoteMeta("grading_due_date = $4, allow_from = $5, updated_at = $6 WHERE id = $7")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), 9001, ActivityUpdate{
		Title:      "Essay 1",
		DueDate:    1750000000,
		ScaleID:    "points",
		TouchScale: false,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityRepositoryUpdateTouchesScale(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("scale_id = $6, updated_at = $7 WHERE id = $8")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), 9001, ActivityUpdate{ScaleID: "points", TouchScale: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityRepositoryHasGradedWork(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM activity_grades WHERE activity_id = $1")).
		WithArgs(int64(9001)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	graded, err := repo.HasGradedWork(context.Background(), 9001)
	require.NoError(t, err)
	assert.True(t, graded)
}

func TestActivityRepositoryFinalizedSince(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	since := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"activity_id", "student_ref", "raw_grade", "grader_id", "submitted_at", "misconduct", "finalized_at"}).
		AddRow(9001, "12345", 62.5, 7, 1750000000, false, since.Add(time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE finalized = TRUE AND finalized_at > $1")).
		WithArgs(since).
		WillReturnRows(rows)

	grades, err := repo.FinalizedSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, "12345", grades[0].StudentRef)
	assert.InDelta(t, 62.5, grades[0].RawGrade, 0.001)
}
