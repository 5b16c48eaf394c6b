package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/gradescale"
	"github.com/campusops/sits-bridge/internal/models"
)

type finalizedGradeSource interface {
	FinalizedSince(ctx context.Context, since time.Time) ([]models.FinalizedGrade, error)
	Get(ctx context.Context, activityID int64) (*models.Activity, error)
}

type specResolver interface {
	GetByActivity(ctx context.Context, activityID int64) (*models.AssignmentSpec, error)
}

type gradeQueue interface {
	Enqueue(ctx context.Context, grade *models.QueuedGrade) (bool, error)
	LastQueuedTime(ctx context.Context) (time.Time, error)
}

type ingestionMetrics interface {
	IncQueued()
}

// IngestionConfig tunes the finalize-event scan.
type IngestionConfig struct {
	// Overlap is subtracted from the last queue time so a finalize event
	// landing exactly on the boundary is never missed. Duplicate scans are
	// absorbed by the queue's value-level dedupe.
	Overlap time.Duration
}

// IngestionService scans for newly finalized grades, converts them onto the
// activity's resolved scale, and queues them for upload.
type IngestionService struct {
	grades  finalizedGradeSource
	specs   specResolver
	queue   gradeQueue
	scales  *gradescale.Registry
	metrics ingestionMetrics
	logger  *zap.Logger
	cfg     IngestionConfig
}

// NewIngestionService constructs the ingestion job. Metrics may be nil.
func NewIngestionService(grades finalizedGradeSource, specs specResolver, queue gradeQueue, scales *gradescale.Registry, metrics ingestionMetrics, logger *zap.Logger, cfg IngestionConfig) *IngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = time.Minute
	}
	return &IngestionService{
		grades:  grades,
		specs:   specs,
		queue:   queue,
		scales:  scales,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run performs one ingestion pass. Activities without a registered spec
// belong to other subsystems and are ignored; malformed student identifiers
// are reported and skipped individually.
func (s *IngestionService) Run(ctx context.Context) error {
	last, err := s.queue.LastQueuedTime(ctx)
	if err != nil {
		return fmt.Errorf("resolve scan anchor: %w", err)
	}
	var since time.Time
	if !last.IsZero() {
		since = last.Add(-s.cfg.Overlap)
	}

	finalized, err := s.grades.FinalizedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("scan finalized grades: %w", err)
	}
	if len(finalized) == 0 {
		return nil
	}

	cache := make(map[int64]*resolvedActivity)

	for i := range finalized {
		grade := &finalized[i]

		entry, ok := cache[grade.ActivityID]
		if !ok {
			entry = s.resolve(ctx, grade.ActivityID)
			cache[grade.ActivityID] = entry
		}
		if entry == nil || entry.spec == nil {
			continue
		}

		if grade.GraderID == 0 {
			// No resolved grader means no usable data for this activity this run.
			s.logger.Info("grader unresolved, grade held back",
				zap.String("sitsref", entry.spec.SITSRef),
				zap.String("student_ref", grade.StudentRef))
			continue
		}

		studentID, err := strconv.ParseInt(grade.StudentRef, 10, 64)
		if err != nil {
			s.logger.Warn("malformed student identifier",
				zap.String("sitsref", entry.spec.SITSRef),
				zap.String("student_ref", grade.StudentRef))
			continue
		}

		converted, err := s.scales.Convert(grade.RawGrade, false, entry.activity.ScaleID)
		if err != nil {
			s.logger.Error("grade conversion failed",
				zap.String("sitsref", entry.spec.SITSRef),
				zap.Int64("student_id", studentID),
				zap.String("scale", entry.activity.ScaleID),
				zap.Error(err))
			continue
		}

		inserted, err := s.queue.Enqueue(ctx, &models.QueuedGrade{
			SITSRef:     entry.spec.SITSRef,
			GraderID:    grade.GraderID,
			StudentID:   studentID,
			Grade:       converted,
			Response:    models.ResponsePending,
			SubmittedAt: grade.SubmittedAt,
			Misconduct:  grade.Misconduct,
		})
		if err != nil {
			s.logger.Error("enqueue failed",
				zap.String("sitsref", entry.spec.SITSRef),
				zap.Int64("student_id", studentID),
				zap.Error(err))
			continue
		}
		if inserted {
			if s.metrics != nil {
				s.metrics.IncQueued()
			}
			s.logger.Info("grade queued",
				zap.String("sitsref", entry.spec.SITSRef),
				zap.Int64("student_id", studentID),
				zap.String("grade", converted))
		}
	}
	return nil
}

type resolvedActivity struct {
	spec     *models.AssignmentSpec
	activity *models.Activity
}

// resolve maps an activity onto its registered spec. A nil result means the
// activity is out of scope for the bridge.
func (s *IngestionService) resolve(ctx context.Context, activityID int64) *resolvedActivity {
	spec, err := s.specs.GetByActivity(ctx, activityID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("spec lookup failed", zap.Int64("activity_id", activityID), zap.Error(err))
		}
		return nil
	}
	activity, err := s.grades.Get(ctx, activityID)
	if err != nil {
		s.logger.Error("activity lookup failed", zap.Int64("activity_id", activityID), zap.Error(err))
		return nil
	}
	return &resolvedActivity{spec: spec, activity: activity}
}
