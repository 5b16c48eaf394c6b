package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/dto"
	"github.com/campusops/sits-bridge/internal/models"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
)

type assignmentStore interface {
	CreateBatch(ctx context.Context, specs []models.AssignmentSpec) error
	UpdateBatch(ctx context.Context, specs []models.AssignmentSpec) error
	GetByRef(ctx context.Context, sitsRef string) (*models.AssignmentSpec, error)
	Delete(ctx context.Context, sitsRef string) error
}

type containerReader interface {
	ContainerExists(ctx context.Context, containerID int64) (bool, error)
}

type activityRefresher interface {
	RefreshActivity(ctx context.Context, spec *models.AssignmentSpec) error
}

// AssignmentService implements the SITS submission interface: transactional
// add and update of assignment specifications.
type AssignmentService struct {
	specs      assignmentStore
	containers containerReader
	refresher  activityRefresher
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAssignmentService constructs AssignmentService. The refresher may be nil
// when running without a materializer (e.g. the API process only stores specs
// and leaves recomputation to the periodic job).
func NewAssignmentService(specs assignmentStore, containers containerReader, refresher activityRefresher, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		specs:      specs,
		containers: containers,
		refresher:  refresher,
		validator:  validate,
		logger:     logger,
	}
}

// AddAssignments registers a batch of new specifications, all or nothing.
func (s *AssignmentService) AddAssignments(ctx context.Context, req dto.SubmissionRequest) ([]models.AssignmentSpec, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	specs := make([]models.AssignmentSpec, 0, len(req.Assignments))
	for _, payload := range req.Assignments {
		if err := s.checkContainer(ctx, payload.ContainerID); err != nil {
			return nil, err
		}
		specs = append(specs, specFromPayload(payload))
	}
	if err := s.specs.CreateBatch(ctx, specs); err != nil {
		if appErr := asAppError(err); appErr != nil {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store assignments")
	}
	s.logger.Info("assignments registered", zap.Int("count", len(specs)))
	return specs, nil
}

// UpdateAssignments rewrites existing specifications, all or nothing. The
// owning container can never change through update; materialized specs get
// their activity refreshed afterwards.
func (s *AssignmentService) UpdateAssignments(ctx context.Context, req dto.SubmissionRequest) ([]models.AssignmentSpec, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}

	specs := make([]models.AssignmentSpec, 0, len(req.Assignments))
	materialized := make([]*models.AssignmentSpec, 0, len(req.Assignments))
	for _, payload := range req.Assignments {
		existing, err := s.specs.GetByRef(ctx, payload.SITSRef)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound,
					fmt.Sprintf("sits reference %s is not registered", payload.SITSRef))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
		}
		if existing.ContainerID != payload.ContainerID {
			return nil, appErrors.Clone(appErrors.ErrContainerMismatch,
				fmt.Sprintf("sits reference %s cannot move container %d -> %d",
					payload.SITSRef, existing.ContainerID, payload.ContainerID))
		}
		spec := specFromPayload(payload)
		spec.ContainerID = existing.ContainerID
		spec.ActivityID = existing.ActivityID
		specs = append(specs, spec)
		if existing.ActivityID > 0 {
			updated := spec
			materialized = append(materialized, &updated)
		}
	}

	if err := s.specs.UpdateBatch(ctx, specs); err != nil {
		if appErr := asAppError(err); appErr != nil {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignments")
	}

	if s.refresher != nil {
		for _, spec := range materialized {
			if err := s.refresher.RefreshActivity(ctx, spec); err != nil {
				// The periodic materializer re-runs the refresh; surface but continue.
				s.logger.Warn("activity refresh failed",
					zap.String("sitsref", spec.SITSRef),
					zap.Int64("activity_id", spec.ActivityID),
					zap.Error(err))
			}
		}
	}
	s.logger.Info("assignments updated", zap.Int("count", len(specs)))
	return specs, nil
}

// Get returns one specification.
func (s *AssignmentService) Get(ctx context.Context, sitsRef string) (*models.AssignmentSpec, error) {
	spec, err := s.specs.GetByRef(ctx, sitsRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("sits reference %s is not registered", sitsRef))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return spec, nil
}

// Delete removes a specification. Removal is an administrative action gated
// on the absence of a live activity.
func (s *AssignmentService) Delete(ctx context.Context, sitsRef string) error {
	spec, err := s.Get(ctx, sitsRef)
	if err != nil {
		return err
	}
	if spec.ActivityID > 0 {
		return appErrors.Clone(appErrors.ErrActivityExists,
			fmt.Sprintf("sits reference %s is bound to activity %d", sitsRef, spec.ActivityID))
	}
	if err := s.specs.Delete(ctx, sitsRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("sits reference %s is not registered", sitsRef))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}
	return nil
}

func (s *AssignmentService) checkContainer(ctx context.Context, containerID int64) error {
	exists, err := s.containers.ContainerExists(ctx, containerID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check container")
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrUnknownContainer, fmt.Sprintf("container %d does not exist", containerID))
	}
	return nil
}

func specFromPayload(p dto.AssignmentPayload) models.AssignmentSpec {
	return models.AssignmentSpec{
		SITSRef:        p.SITSRef,
		ContainerID:    p.ContainerID,
		Attempt:        p.Attempt,
		Title:          p.Title,
		Weighting:      p.Weighting,
		DueDate:        p.DueDate,
		AvailableFrom:  p.AvailableFrom,
		GradeExempt:    p.GradeExempt,
		ScaleID:        p.ScaleID,
		AssessmentCode: p.AssessmentCode,
		AssessmentName: p.AssessmentName,
		AssessmentType: p.AssessmentType,
		SequenceToken:  p.SequenceToken,
		AcademicYear:   p.AcademicYear,
	}
}

func asAppError(err error) *appErrors.Error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
