package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/gradescale"
	"github.com/campusops/sits-bridge/internal/models"
	"github.com/campusops/sits-bridge/internal/repository"
	"github.com/campusops/sits-bridge/internal/schedule"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
)

// Materialization skip reasons, used in trace lines and metrics labels.
const (
	SkipContainerMissing  = "container_missing"
	SkipContainerNotReady = "container_not_ready"
	SkipDueDateUnset      = "due_date_unset"
	SkipAlreadyBound      = "already_bound"
	SkipUnknownScale      = "unknown_scale"
)

type materializableFinder interface {
	FindMaterializable(ctx context.Context, limit int, years []string) ([]models.AssignmentSpec, error)
	FirstAttempt(ctx context.Context, assessmentCode string) (*models.AssignmentSpec, error)
}

type activityStore interface {
	ContainerStatus(ctx context.Context, containerID int64) (*models.ContainerStatus, error)
	Get(ctx context.Context, activityID int64) (*models.Activity, error)
	CreateForSpec(ctx context.Context, sitsRef string, activity *models.Activity) (bool, error)
	Update(ctx context.Context, activityID int64, upd repository.ActivityUpdate) error
	HasGradedWork(ctx context.Context, activityID int64) (bool, error)
}

type readinessCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type materializerMetrics interface {
	IncMaterialized()
	IncSkipped(reason string)
}

// MaterializerConfig bounds a materialization run.
type MaterializerConfig struct {
	Limit             int
	AcademicYears     []string
	ReadinessCacheTTL time.Duration
}

// MaterializerService drives specs through the materialization state
// machine: pending specs become activities once their container is ready,
// and already-materialized specs get schedule updates pushed through without
// ever touching the grading setup of an activity that has marked work.
type MaterializerService struct {
	specs      materializableFinder
	activities activityStore
	cache      readinessCache
	scales     *gradescale.Registry
	schedCfg   schedule.Config
	metrics    materializerMetrics
	logger     *zap.Logger
	cfg        MaterializerConfig
}

// NewMaterializerService constructs the materializer. Cache and metrics may
// be nil.
func NewMaterializerService(specs materializableFinder, activities activityStore, cache readinessCache, scales *gradescale.Registry, schedCfg schedule.Config, metrics materializerMetrics, logger *zap.Logger, cfg MaterializerConfig) *MaterializerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.ReadinessCacheTTL <= 0 {
		cfg.ReadinessCacheTTL = time.Minute
	}
	return &MaterializerService{
		specs:      specs,
		activities: activities,
		cache:      cache,
		scales:     scales,
		schedCfg:   schedCfg,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run materializes up to the configured limit of pending specs. One bad spec
// never blocks the batch: every skip is traced and the run moves on.
func (s *MaterializerService) Run(ctx context.Context) error {
	specs, err := s.specs.FindMaterializable(ctx, s.cfg.Limit, s.cfg.AcademicYears)
	if err != nil {
		return fmt.Errorf("find materializable specs: %w", err)
	}
	for i := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.materializeOne(ctx, &specs[i])
	}
	return nil
}

func (s *MaterializerService) materializeOne(ctx context.Context, spec *models.AssignmentSpec) {
	if spec.DueDate == 0 {
		s.skip(spec, SkipDueDateUnset, "due date not set by sits")
		return
	}

	status, err := s.containerStatus(ctx, spec.ContainerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.skip(spec, SkipContainerMissing, "container deleted externally, will retry")
			return
		}
		s.logger.Error("container status lookup failed",
			zap.String("sitsref", spec.SITSRef), zap.Int64("container_id", spec.ContainerID), zap.Error(err))
		return
	}
	if !status.Ready() {
		s.skip(spec, SkipContainerNotReady, fmt.Sprintf(
			"container not ready: visible=%t activities=%d enrolled=%d",
			status.Visible, status.ActivityCount, status.EnrolledUserCount))
		return
	}

	scaleID, err := s.resolveScale(ctx, spec)
	if err != nil {
		s.skip(spec, SkipUnknownScale, err.Error())
		return
	}

	derived := schedule.Derive(spec.DueDate, spec.AvailableFrom, spec.IsReattempt(), spec.IsExam(), s.schedCfg)
	activity := &models.Activity{
		ContainerID:       spec.ContainerID,
		Title:             spec.Title,
		DueDate:           derived.DueDate,
		CutoffDate:        derived.CutoffDate,
		GradingDueDate:    derived.GradingDueDate,
		AllowFrom:         derived.AllowFrom,
		ScaleID:           scaleID,
		Visible:           !spec.IsReattempt(),
		CompletionTracked: !spec.IsReattempt(),
	}

	bound, err := s.activities.CreateForSpec(ctx, spec.SITSRef, activity)
	if err != nil {
		s.logger.Error("materialization failed",
			zap.String("sitsref", spec.SITSRef), zap.Error(err))
		return
	}
	if !bound {
		// A concurrent run bound an activity between our snapshot and now.
		s.skip(spec, SkipAlreadyBound, "activity already bound")
		return
	}

	spec.ActivityID = activity.ID
	if s.cache != nil {
		// The container now holds a bound activity, so its cached
		// readiness snapshot is stale.
		key := fmt.Sprintf("container:readiness:%d", spec.ContainerID)
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Debug("readiness cache invalidation failed",
				zap.Int64("container_id", spec.ContainerID), zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.IncMaterialized()
	}
	s.logger.Info("spec materialized",
		zap.String("sitsref", spec.SITSRef),
		zap.Int64("container_id", spec.ContainerID),
		zap.Int64("activity_id", activity.ID),
		zap.String("scale", scaleID),
		zap.Int64("cutoff", activity.CutoffDate))
}

// RefreshActivity pushes an updated specification onto its existing
// activity. Schedule fields and the title always follow the spec; the grade
// scale follows only while the activity has no marked work. Grade-scale is
// immutable once grading has begun, whatever the incoming spec asks for.
func (s *MaterializerService) RefreshActivity(ctx context.Context, spec *models.AssignmentSpec) error {
	if spec.ActivityID == 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("sits reference %s has no activity", spec.SITSRef))
	}
	if spec.DueDate == 0 {
		s.logger.Warn("refresh skipped, due date unset", zap.String("sitsref", spec.SITSRef))
		return nil
	}

	graded, err := s.activities.HasGradedWork(ctx, spec.ActivityID)
	if err != nil {
		return fmt.Errorf("check graded work: %w", err)
	}

	derived := schedule.Derive(spec.DueDate, spec.AvailableFrom, spec.IsReattempt(), spec.IsExam(), s.schedCfg)
	upd := repository.ActivityUpdate{
		Title:          spec.Title,
		DueDate:        derived.DueDate,
		CutoffDate:     derived.CutoffDate,
		GradingDueDate: derived.GradingDueDate,
		AllowFrom:      derived.AllowFrom,
	}
	if !graded {
		scaleID, err := s.resolveScale(ctx, spec)
		if err != nil {
			return err
		}
		upd.ScaleID = scaleID
		upd.TouchScale = true
	}

	if err := s.activities.Update(ctx, spec.ActivityID, upd); err != nil {
		return fmt.Errorf("refresh activity %d: %w", spec.ActivityID, err)
	}
	s.logger.Info("activity refreshed",
		zap.String("sitsref", spec.SITSRef),
		zap.Int64("activity_id", spec.ActivityID),
		zap.Bool("scale_updated", upd.TouchScale))
	return nil
}

// resolveScale maps the spec onto a concrete, configured scale id. A
// reattempt sharing an assessment code with a materialized first attempt
// inherits that activity's resolved scale so both attempts stay gradeable on
// the same scale, overriding the default configuration.
func (s *MaterializerService) resolveScale(ctx context.Context, spec *models.AssignmentSpec) (string, error) {
	if spec.IsReattempt() {
		first, err := s.specs.FirstAttempt(ctx, spec.AssessmentCode)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("find first attempt: %w", err)
		}
		if first != nil {
			activity, err := s.activities.Get(ctx, first.ActivityID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return "", fmt.Errorf("load first attempt activity: %w", err)
			}
			if activity != nil && activity.ScaleID != "" {
				return activity.ScaleID, nil
			}
		}
	}
	scaleID := s.scales.ResolveScaleID(spec.ScaleID, spec.GradeExempt)
	if !s.scales.Known(scaleID) {
		return "", appErrors.Clone(appErrors.ErrUnknownScale, fmt.Sprintf("grading scale %q is not configured", scaleID))
	}
	return scaleID, nil
}

func (s *MaterializerService) containerStatus(ctx context.Context, containerID int64) (*models.ContainerStatus, error) {
	key := fmt.Sprintf("container:readiness:%d", containerID)
	if s.cache != nil {
		var cached models.ContainerStatus
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}
	status, err := s.activities.ContainerStatus(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, status, s.cfg.ReadinessCacheTTL); err != nil {
			s.logger.Debug("readiness cache write failed", zap.Int64("container_id", containerID), zap.Error(err))
		}
	}
	return status, nil
}

func (s *MaterializerService) skip(spec *models.AssignmentSpec, reason, detail string) {
	if s.metrics != nil {
		s.metrics.IncSkipped(reason)
	}
	s.logger.Info("spec skipped",
		zap.String("sitsref", spec.SITSRef),
		zap.Int64("container_id", spec.ContainerID),
		zap.String("reason", reason),
		zap.String("detail", detail))
}
