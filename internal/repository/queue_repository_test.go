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

func TestQueueRepositoryEnqueueInsertsNewRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM queued_grades")).
		WithArgs("A101-001-0", int64(12345), "62").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO queued_grades")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	inserted, err := repo.Enqueue(context.Background(), &models.QueuedGrade{
		SITSRef:   "A101-001-0",
		StudentID: 12345,
		GraderID:  7,
		Grade:     "62",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepositoryEnqueueSkipsDuplicateValue(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM queued_grades")).
		WithArgs("A101-001-0", int64(12345), "62").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	inserted, err := repo.Enqueue(context.Background(), &models.QueuedGrade{
		SITSRef:   "A101-001-0",
		StudentID: 12345,
		Grade:     "62",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepositoryPendingRefs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT sits_ref FROM queued_grades WHERE response = ''")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"sits_ref"}).AddRow("A101-001-0").AddRow("B202-001-0"))

	refs, err := repo.PendingRefs(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"A101-001-0", "B202-001-0"}, refs)
}

func TestQueueRepositoryReconcileSingleTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE queued_grades SET response = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE queued_grades SET response = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Reconcile(context.Background(), []GradeOutcome{
		{ID: "q1", Response: models.ResponseSuccess},
		{ID: "q2", Response: models.ResponseFailed, Message: "student not enrolled"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepositoryReconcileEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	require.NoError(t, repo.Reconcile(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepositoryMarkAll(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id IN ($4,$5)")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.MarkAll(context.Background(), []string{"q1", "q2"}, models.ResponseTimeout, "no response")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepositoryLastQueuedTimeEmptyQueue(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 1")).
		WillReturnError(sql.ErrNoRows)

	last, err := repo.LastQueuedTime(context.Background())
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestQueueRepositoryOutcomeCounts(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	rows := sqlmock.NewRows([]string{"sits_ref", "pending", "succeeded", "failed", "timed_out"}).
		AddRow("A101-001-0", 2, 10, 1, 0)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY sits_ref")).WillReturnRows(rows)

	counts, err := repo.OutcomeCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 2, counts[0].Pending)
	assert.Equal(t, 10, counts[0].Success)
}

func TestQueueRepositoryLastQueuedTimeReturnsNewest(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewQueueRepository(db)

	newest := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(newest))

	last, err := repo.LastQueuedTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newest, last)
}
