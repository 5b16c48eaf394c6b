package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/dto"
	"github.com/campusops/sits-bridge/internal/models"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
)

type mockAssignmentStore struct {
	specs   map[string]*models.AssignmentSpec
	created []models.AssignmentSpec
	updated []models.AssignmentSpec
	deleted []string
}

func (m *mockAssignmentStore) CreateBatch(ctx context.Context, specs []models.AssignmentSpec) error {
	m.created = append(m.created, specs...)
	return nil
}

func (m *mockAssignmentStore) UpdateBatch(ctx context.Context, specs []models.AssignmentSpec) error {
	m.updated = append(m.updated, specs...)
	return nil
}

func (m *mockAssignmentStore) GetByRef(ctx context.Context, sitsRef string) (*models.AssignmentSpec, error) {
	if spec, ok := m.specs[sitsRef]; ok {
		return spec, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAssignmentStore) Delete(ctx context.Context, sitsRef string) error {
	m.deleted = append(m.deleted, sitsRef)
	return nil
}

type mockContainerReader struct {
	known map[int64]bool
}

func (m *mockContainerReader) ContainerExists(ctx context.Context, containerID int64) (bool, error) {
	return m.known[containerID], nil
}

type mockRefresher struct {
	refreshed []string
	err       error
}

func (m *mockRefresher) RefreshActivity(ctx context.Context, spec *models.AssignmentSpec) error {
	m.refreshed = append(m.refreshed, spec.SITSRef)
	return m.err
}

func payload(ref string, container int64) dto.AssignmentPayload {
	return dto.AssignmentPayload{
		SITSRef:        ref,
		ContainerID:    container,
		Title:          "Essay 1",
		Weighting:      50,
		DueDate:        1750000000,
		AssessmentCode: "A101",
	}
}

func TestAddAssignments(t *testing.T) {
	store := &mockAssignmentStore{}
	containers := &mockContainerReader{known: map[int64]bool{42: true}}
	svc := NewAssignmentService(store, containers, nil, validator.New(), zap.NewNop())

	specs, err := svc.AddAssignments(context.Background(), dto.SubmissionRequest{
		Assignments: []dto.AssignmentPayload{payload("A101-001-0", 42)},
	})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "A101-001-0", specs[0].SITSRef)
	assert.Len(t, store.created, 1)
}

func TestAddAssignmentsUnknownContainer(t *testing.T) {
	store := &mockAssignmentStore{}
	containers := &mockContainerReader{known: map[int64]bool{}}
	svc := NewAssignmentService(store, containers, nil, validator.New(), zap.NewNop())

	_, err := svc.AddAssignments(context.Background(), dto.SubmissionRequest{
		Assignments: []dto.AssignmentPayload{payload("A101-001-0", 42)},
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnknownContainer.Code, appErr.Code)
	assert.Empty(t, store.created)
}

func TestAddAssignmentsEmptyBatchRejected(t *testing.T) {
	svc := NewAssignmentService(&mockAssignmentStore{}, &mockContainerReader{}, nil, validator.New(), zap.NewNop())

	_, err := svc.AddAssignments(context.Background(), dto.SubmissionRequest{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestUpdateAssignmentsPreservesContainerAndActivity(t *testing.T) {
	store := &mockAssignmentStore{specs: map[string]*models.AssignmentSpec{
		"A101-001-0": {SITSRef: "A101-001-0", ContainerID: 42, ActivityID: 9001},
	}}
	refresher := &mockRefresher{}
	svc := NewAssignmentService(store, &mockContainerReader{}, refresher, validator.New(), zap.NewNop())

	specs, err := svc.UpdateAssignments(context.Background(), dto.SubmissionRequest{
		Assignments: []dto.AssignmentPayload{payload("A101-001-0", 42)},
	})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, int64(42), specs[0].ContainerID)
	assert.Equal(t, int64(9001), specs[0].ActivityID)
	assert.Equal(t, []string{"A101-001-0"}, refresher.refreshed)
}

func TestUpdateAssignmentsRejectsContainerMove(t *testing.T) {
	store := &mockAssignmentStore{specs: map[string]*models.AssignmentSpec{
		"A101-001-0": {SITSRef: "A101-001-0", ContainerID: 42},
	}}
	svc := NewAssignmentService(store, &mockContainerReader{}, nil, validator.New(), zap.NewNop())

	_, err := svc.UpdateAssignments(context.Background(), dto.SubmissionRequest{
		Assignments: []dto.AssignmentPayload{payload("A101-001-0", 43)},
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrContainerMismatch.Code, appErr.Code)
	assert.Empty(t, store.updated)
}

func TestUpdateAssignmentsUnknownRef(t *testing.T) {
	store := &mockAssignmentStore{}
	svc := NewAssignmentService(store, &mockContainerReader{}, nil, validator.New(), zap.NewNop())

	_, err := svc.UpdateAssignments(context.Background(), dto.SubmissionRequest{
		Assignments: []dto.AssignmentPayload{payload("A101-404-0", 42)},
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestUpdateAssignmentsRefreshFailureDoesNotAbort(t *testing.T) {
	store := &mockAssignmentStore{specs: map[string]*models.AssignmentSpec{
		"A101-001-0": {SITSRef: "A101-001-0", ContainerID: 42, ActivityID: 9001},
	}}
	refresher := &mockRefresher{err: errors.New("lms unavailable")}
	svc := NewAssignmentService(store, &mockContainerReader{}, refresher, validator.New(), zap.NewNop())

	specs, err := svc.UpdateAssignments(context.Background(), dto.SubmissionRequest{
		Assignments: []dto.AssignmentPayload{payload("A101-001-0", 42)},
	})
	require.NoError(t, err)
	assert.Len(t, specs, 1)
	assert.Len(t, store.updated, 1)
}

func TestDeleteRejectsMaterializedSpec(t *testing.T) {
	store := &mockAssignmentStore{specs: map[string]*models.AssignmentSpec{
		"A101-001-0": {SITSRef: "A101-001-0", ActivityID: 9001},
	}}
	svc := NewAssignmentService(store, &mockContainerReader{}, nil, validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), "A101-001-0")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrActivityExists.Code, appErr.Code)
	assert.Empty(t, store.deleted)
}

func TestDeleteUnmaterializedSpec(t *testing.T) {
	store := &mockAssignmentStore{specs: map[string]*models.AssignmentSpec{
		"A101-001-0": {SITSRef: "A101-001-0"},
	}}
	svc := NewAssignmentService(store, &mockContainerReader{}, nil, validator.New(), zap.NewNop())

	require.NoError(t, svc.Delete(context.Background(), "A101-001-0"))
	assert.Equal(t, []string{"A101-001-0"}, store.deleted)
}
