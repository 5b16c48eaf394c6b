package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/client"
	"github.com/campusops/sits-bridge/internal/models"
	"github.com/campusops/sits-bridge/internal/repository"
)

// TimeoutMessage is the fixed operator-facing note written onto every
// pending row of a batch whose upload produced no usable response.
const TimeoutMessage = "No response received from SITS; the upload may or may not have been applied."

// NotSubmittedSentinel marks a grade exported without a student submission.
const NotSubmittedSentinel = "not submitted"

type exportQueue interface {
	PendingRefs(ctx context.Context, limit int) ([]string, error)
	PendingByRef(ctx context.Context, sitsRef string) ([]models.QueuedGrade, error)
	Reconcile(ctx context.Context, outcomes []repository.GradeOutcome) error
	MarkAll(ctx context.Context, ids []string, response, message string) error
}

type specReader interface {
	GetByRef(ctx context.Context, sitsRef string) (*models.AssignmentSpec, error)
}

type gradeUploader interface {
	ExportGrades(ctx context.Context, payload client.ExportPayload) (*client.ExportResponse, error)
}

type exportMetrics interface {
	AddExported(outcome string, n int)
}

// ExportConfig bounds an export run. MaxAssignments stays small on purpose:
// the upload has no client-side timeout, so it is the blast-radius limit
// when the upstream hangs.
type ExportConfig struct {
	MaxAssignments int
	UnitLeader     string
}

// ExportService drains the grade queue in per-assignment batches and
// reconciles the per-student response back into the queue rows.
type ExportService struct {
	queue    exportQueue
	specs    specReader
	uploader gradeUploader
	metrics  exportMetrics
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs the export job. Metrics may be nil.
func NewExportService(queue exportQueue, specs specReader, uploader gradeUploader, metrics exportMetrics, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAssignments <= 0 {
		cfg.MaxAssignments = 5
	}
	return &ExportService{
		queue:    queue,
		specs:    specs,
		uploader: uploader,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run exports up to MaxAssignments pending batches. A failure on one
// assignment never blocks the rest of the run.
func (s *ExportService) Run(ctx context.Context) error {
	refs, err := s.queue.PendingRefs(ctx, s.cfg.MaxAssignments)
	if err != nil {
		return fmt.Errorf("list pending assignments: %w", err)
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.exportOne(ctx, ref); err != nil {
			s.logger.Error("export failed", zap.String("sitsref", ref), zap.Error(err))
		}
	}
	return nil
}

func (s *ExportService) exportOne(ctx context.Context, sitsRef string) error {
	pending, err := s.queue.PendingByRef(ctx, sitsRef)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	spec, err := s.specs.GetByRef(ctx, sitsRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("queued grades reference unknown assignment %s", sitsRef)
		}
		return err
	}

	payload := s.buildPayload(spec, pending)
	resp, err := s.uploader.ExportGrades(ctx, payload)
	if err != nil {
		// No usable response. Mark everything TIMEOUT so the queue never
		// silently wedges; re-export needs operator intervention because
		// the upload may already have been applied upstream.
		ids := make([]string, len(pending))
		for i, grade := range pending {
			ids[i] = grade.ID
		}
		if markErr := s.queue.MarkAll(ctx, ids, models.ResponseTimeout, TimeoutMessage); markErr != nil {
			return fmt.Errorf("mark timeout: %w", markErr)
		}
		if s.metrics != nil {
			s.metrics.AddExported(models.ResponseTimeout, len(ids))
		}
		s.logger.Warn("upload produced no usable response",
			zap.String("sitsref", sitsRef), zap.Int("grades", len(ids)), zap.Error(err))
		return nil
	}

	if resp.SITSRef != sitsRef {
		// SITS answered for a different record. Touching the queue here
		// would corrupt another assignment's grades, so nothing is written.
		return fmt.Errorf("response sitsref %q does not match request %q", resp.SITSRef, sitsRef)
	}

	batchMessage := resp.Message
	if resp.Status == client.StatusFailed {
		if resp.ErrorCode != "" {
			batchMessage = fmt.Sprintf("%s (%s)", resp.Message, resp.ErrorCode)
		}
		s.logger.Warn("batch rejected by sits",
			zap.String("sitsref", sitsRef),
			zap.String("errorcode", resp.ErrorCode),
			zap.String("message", resp.Message))
	}

	results := make(map[int64]client.GradeResult, len(resp.Grades))
	for _, item := range resp.Grades {
		results[item.StudentID] = item
	}

	outcomes := make([]repository.GradeOutcome, 0, len(pending))
	counts := make(map[string]int)
	for _, grade := range pending {
		item, ok := results[grade.StudentID]
		if !ok {
			// A row without a per-item status stays pending and is
			// surfaced for investigation rather than guessed at.
			s.logger.Warn("no per-item response for student",
				zap.String("sitsref", sitsRef), zap.Int64("student_id", grade.StudentID))
			continue
		}
		message := item.Message
		if message == "" {
			message = batchMessage
		}
		outcomes = append(outcomes, repository.GradeOutcome{
			ID:       grade.ID,
			Response: item.Response,
			Message:  message,
		})
		counts[item.Response]++
	}

	if err := s.queue.Reconcile(ctx, outcomes); err != nil {
		return fmt.Errorf("reconcile outcomes: %w", err)
	}
	if s.metrics != nil {
		for outcome, n := range counts {
			s.metrics.AddExported(outcome, n)
		}
	}
	s.logger.Info("batch reconciled",
		zap.String("sitsref", sitsRef),
		zap.String("status", resp.Status),
		zap.Int("grades", len(outcomes)))
	return nil
}

func (s *ExportService) buildPayload(spec *models.AssignmentSpec, pending []models.QueuedGrade) client.ExportPayload {
	grades := make([]client.ExportGrade, len(pending))
	for i, grade := range pending {
		submission := NotSubmittedSentinel
		if grade.SubmittedAt > 0 {
			submission = time.Unix(grade.SubmittedAt, 0).UTC().Format(time.RFC3339)
		}
		grades[i] = client.ExportGrade{
			StudentID:  grade.StudentID,
			Grade:      grade.Grade,
			Submission: submission,
			Misconduct: grade.Misconduct,
		}
	}
	return client.ExportPayload{
		Module: client.ModuleInfo{
			Code:         spec.AssessmentCode,
			Name:         spec.AssessmentName,
			AcademicYear: spec.AcademicYear,
		},
		Assignment: client.Assignment{
			SITSRef: spec.SITSRef,
			Attempt: spec.Attempt,
		},
		UnitLeader: s.cfg.UnitLeader,
		Grades:     grades,
	}
}
