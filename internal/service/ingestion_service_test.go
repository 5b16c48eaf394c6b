package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/models"
)

type mockGradeSource struct {
	grades     []models.FinalizedGrade
	activities map[int64]*models.Activity
	sinceSeen  time.Time
}

func (m *mockGradeSource) FinalizedSince(ctx context.Context, since time.Time) ([]models.FinalizedGrade, error) {
	m.sinceSeen = since
	return m.grades, nil
}

func (m *mockGradeSource) Get(ctx context.Context, activityID int64) (*models.Activity, error) {
	if activity, ok := m.activities[activityID]; ok {
		return activity, nil
	}
	return nil, sql.ErrNoRows
}

type mockSpecResolver struct {
	byActivity map[int64]*models.AssignmentSpec
}

func (m *mockSpecResolver) GetByActivity(ctx context.Context, activityID int64) (*models.AssignmentSpec, error) {
	if spec, ok := m.byActivity[activityID]; ok {
		return spec, nil
	}
	return nil, sql.ErrNoRows
}

type mockGradeQueue struct {
	last      time.Time
	duplicate bool
	enqueued  []models.QueuedGrade
}

func (m *mockGradeQueue) Enqueue(ctx context.Context, grade *models.QueuedGrade) (bool, error) {
	if m.duplicate {
		return false, nil
	}
	m.enqueued = append(m.enqueued, *grade)
	return true, nil
}

func (m *mockGradeQueue) LastQueuedTime(ctx context.Context) (time.Time, error) {
	return m.last, nil
}

func newIngestion(t *testing.T, grades *mockGradeSource, specs *mockSpecResolver, queue *mockGradeQueue, metrics *countingMetrics) *IngestionService {
	t.Helper()
	return NewIngestionService(grades, specs, queue, testScales(t), metrics, zap.NewNop(), IngestionConfig{Overlap: time.Minute})
}

func boundSpec(activityID int64) *models.AssignmentSpec {
	return &models.AssignmentSpec{SITSRef: "A101-001-0", ActivityID: activityID}
}

func TestIngestionQueuesConvertedGrade(t *testing.T) {
	grades := &mockGradeSource{
		grades: []models.FinalizedGrade{
			{ActivityID: 9001, StudentRef: "100234", RawGrade: 64.5, GraderID: 7, SubmittedAt: 1700000000},
		},
		activities: map[int64]*models.Activity{9001: {ID: 9001, ScaleID: "grademarkscale"}},
	}
	specs := &mockSpecResolver{byActivity: map[int64]*models.AssignmentSpec{9001: boundSpec(9001)}}
	queue := &mockGradeQueue{}
	metrics := &countingMetrics{}

	svc := newIngestion(t, grades, specs, queue, metrics)
	require.NoError(t, svc.Run(context.Background()))

	require.Len(t, queue.enqueued, 1)
	queued := queue.enqueued[0]
	assert.Equal(t, "A101-001-0", queued.SITSRef)
	assert.Equal(t, int64(100234), queued.StudentID)
	assert.Equal(t, "B", queued.Grade)
	assert.Equal(t, models.ResponsePending, queued.Response)
	assert.Equal(t, 1, metrics.queued)
}

func TestIngestionAnchorsWithOverlap(t *testing.T) {
	last := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	grades := &mockGradeSource{}
	queue := &mockGradeQueue{last: last}

	svc := newIngestion(t, grades, &mockSpecResolver{}, queue, &countingMetrics{})
	require.NoError(t, svc.Run(context.Background()))
	assert.Equal(t, last.Add(-time.Minute), grades.sinceSeen)
}

func TestIngestionFirstRunScansFromZeroTime(t *testing.T) {
	grades := &mockGradeSource{}
	svc := newIngestion(t, grades, &mockSpecResolver{}, &mockGradeQueue{}, &countingMetrics{})
	require.NoError(t, svc.Run(context.Background()))
	assert.True(t, grades.sinceSeen.IsZero())
}

func TestIngestionIgnoresActivitiesWithoutSpec(t *testing.T) {
	grades := &mockGradeSource{
		grades: []models.FinalizedGrade{
			{ActivityID: 5555, StudentRef: "100234", RawGrade: 50, GraderID: 7},
		},
	}
	queue := &mockGradeQueue{}

	svc := newIngestion(t, grades, &mockSpecResolver{}, queue, &countingMetrics{})
	require.NoError(t, svc.Run(context.Background()))
	assert.Empty(t, queue.enqueued)
}

func TestIngestionHoldsBackUnresolvedGrader(t *testing.T) {
	grades := &mockGradeSource{
		grades: []models.FinalizedGrade{
			{ActivityID: 9001, StudentRef: "100234", RawGrade: 50, GraderID: 0},
		},
		activities: map[int64]*models.Activity{9001: {ID: 9001, ScaleID: "points"}},
	}
	specs := &mockSpecResolver{byActivity: map[int64]*models.AssignmentSpec{9001: boundSpec(9001)}}
	queue := &mockGradeQueue{}

	svc := newIngestion(t, grades, specs, queue, &countingMetrics{})
	require.NoError(t, svc.Run(context.Background()))
	assert.Empty(t, queue.enqueued)
}

func TestIngestionSkipsMalformedStudentRef(t *testing.T) {
	grades := &mockGradeSource{
		grades: []models.FinalizedGrade{
			{ActivityID: 9001, StudentRef: "ext-auditor", RawGrade: 50, GraderID: 7},
			{ActivityID: 9001, StudentRef: "100235", RawGrade: 72, GraderID: 7},
		},
		activities: map[int64]*models.Activity{9001: {ID: 9001, ScaleID: "points"}},
	}
	specs := &mockSpecResolver{byActivity: map[int64]*models.AssignmentSpec{9001: boundSpec(9001)}}
	queue := &mockGradeQueue{}

	svc := newIngestion(t, grades, specs, queue, &countingMetrics{})
	require.NoError(t, svc.Run(context.Background()))

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, int64(100235), queue.enqueued[0].StudentID)
	assert.Equal(t, "72", queue.enqueued[0].Grade)
}

func TestIngestionDuplicateScanQueuesNothing(t *testing.T) {
	grades := &mockGradeSource{
		grades: []models.FinalizedGrade{
			{ActivityID: 9001, StudentRef: "100234", RawGrade: 50, GraderID: 7},
		},
		activities: map[int64]*models.Activity{9001: {ID: 9001, ScaleID: "points"}},
	}
	specs := &mockSpecResolver{byActivity: map[int64]*models.AssignmentSpec{9001: boundSpec(9001)}}
	queue := &mockGradeQueue{duplicate: true}
	metrics := &countingMetrics{}

	svc := newIngestion(t, grades, specs, queue, metrics)
	require.NoError(t, svc.Run(context.Background()))
	assert.Equal(t, 0, metrics.queued)
}
