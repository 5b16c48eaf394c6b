package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/models"
	"github.com/campusops/sits-bridge/internal/repository"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
	"github.com/campusops/sits-bridge/pkg/export"
	"github.com/campusops/sits-bridge/pkg/jobs"
)

type reportStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
}

type unconfiguredFinder interface {
	FindUnconfigured(ctx context.Context, windowStart, windowEnd int64) ([]models.UnconfiguredAssignment, error)
}

type queueSummariser interface {
	OutcomeCounts(ctx context.Context) ([]repository.QueueOutcome, error)
}

// ReportConfig controls the background report worker pool.
type ReportConfig struct {
	StorageDir  string
	Workers     int
	Retries     int
	WindowWeeks int
}

// ReportService produces operator CSV reports asynchronously. Jobs are
// persisted before dispatch so queued work survives a restart.
type ReportService struct {
	store    reportStore
	specs    unconfiguredFinder
	grades   queueSummariser
	exporter *export.CSVExporter
	queue    *jobs.Queue
	logger   *zap.Logger
	cfg      ReportConfig
}

// NewReportService wires the report pipeline and its worker queue.
func NewReportService(store reportStore, specs unconfiguredFinder, grades queueSummariser, logger *zap.Logger, cfg ReportConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowWeeks <= 0 {
		cfg.WindowWeeks = 4
	}
	s := &ReportService{
		store:    store,
		specs:    specs,
		grades:   grades,
		exporter: export.NewCSVExporter(),
		logger:   logger,
		cfg:      cfg,
	}
	s.queue = jobs.NewQueue("reports", s.process, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		Logger:     logger,
	})
	return s
}

// Start launches the workers and requeues jobs left QUEUED by a previous run.
func (s *ReportService) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.StorageDir, 0o755); err != nil {
		return fmt.Errorf("create report storage dir: %w", err)
	}
	s.queue.Start(ctx)

	stale, err := s.store.ListQueued(ctx, 100)
	if err != nil {
		return fmt.Errorf("requeue stale reports: %w", err)
	}
	for _, job := range stale {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("requeue report", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

// Stop drains the worker pool.
func (s *ReportService) Stop() {
	s.queue.Stop()
}

// CreateReport persists and dispatches a new report job.
func (s *ReportService) CreateReport(ctx context.Context, reportType models.ReportType, createdBy string) (*models.ReportJob, error) {
	switch reportType {
	case models.ReportTypeUnconfigured, models.ReportTypeQueueState:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report type %q", reportType))
	}

	job := &models.ReportJob{
		Type:      reportType,
		CreatedBy: createdBy,
	}
	if reportType == models.ReportTypeUnconfigured {
		now := time.Now().UTC()
		job.Params = models.ReportJobParams{
			WindowStart: now.Unix(),
			WindowEnd:   now.AddDate(0, 0, 7*s.cfg.WindowWeeks).Unix(),
		}
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dispatch report job")
	}
	return job, nil
}

// GetReport loads a report job row.
func (s *ReportService) GetReport(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("report job %s not found", id))
	}
	return job, nil
}

func (s *ReportService) process(ctx context.Context, queued jobs.Job) error {
	job, err := s.store.GetByID(ctx, queued.ID)
	if err != nil {
		return fmt.Errorf("load report job: %w", err)
	}
	if job.Status == models.ReportStatusFinished {
		return nil
	}

	if err := s.setStatus(ctx, job.ID, models.ReportStatusProcessing); err != nil {
		return err
	}

	var data export.Dataset
	switch job.Type {
	case models.ReportTypeUnconfigured:
		data, err = s.unconfiguredDataset(ctx, job.Params)
	case models.ReportTypeQueueState:
		data, err = s.queueStateDataset(ctx)
	default:
		err = fmt.Errorf("unsupported report type %q", job.Type)
	}
	if err != nil {
		s.fail(ctx, job.ID, err)
		return err
	}

	content, err := s.exporter.Render(data)
	if err != nil {
		s.fail(ctx, job.ID, err)
		return err
	}

	path := filepath.Join(s.cfg.StorageDir, job.ID+".csv")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		s.fail(ctx, job.ID, err)
		return fmt.Errorf("write report file: %w", err)
	}

	finished := models.ReportStatusFinished
	now := time.Now().UTC()
	if err := s.store.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:     &finished,
		ResultPath: &path,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("finish report job: %w", err)
	}
	s.logger.Info("report finished", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}

func (s *ReportService) unconfiguredDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	rows, err := s.specs.FindUnconfigured(ctx, params.WindowStart, params.WindowEnd)
	if err != nil {
		return export.Dataset{}, err
	}
	data := export.Dataset{
		Headers: []string{"SITS Ref", "Assessment", "Title", "Container", "Activity", "Due Date"},
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"SITS Ref":   row.SITSRef,
			"Assessment": row.AssessmentCode,
			"Title":      row.Title,
			"Container":  strconv.FormatInt(row.ContainerID, 10),
			"Activity":   strconv.FormatInt(row.ActivityID, 10),
			"Due Date":   time.Unix(row.DueDate, 0).UTC().Format("2006-01-02 15:04"),
		})
	}
	return data, nil
}

func (s *ReportService) queueStateDataset(ctx context.Context) (export.Dataset, error) {
	rows, err := s.grades.OutcomeCounts(ctx)
	if err != nil {
		return export.Dataset{}, err
	}
	data := export.Dataset{
		Headers: []string{"SITS Ref", "Pending", "Success", "Failed", "Timeout"},
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"SITS Ref": row.SITSRef,
			"Pending":  strconv.Itoa(row.Pending),
			"Success":  strconv.Itoa(row.Success),
			"Failed":   strconv.Itoa(row.Failed),
			"Timeout":  strconv.Itoa(row.TimedOut),
		})
	}
	return data, nil
}

func (s *ReportService) setStatus(ctx context.Context, id string, status models.ReportStatus) error {
	if err := s.store.Update(ctx, id, repository.UpdateReportJobParams{Status: &status}); err != nil {
		return fmt.Errorf("set report status: %w", err)
	}
	return nil
}

func (s *ReportService) fail(ctx context.Context, id string, cause error) {
	failed := models.ReportStatusFailed
	msg := cause.Error()
	now := time.Now().UTC()
	if err := s.store.Update(ctx, id, repository.UpdateReportJobParams{
		Status:       &failed,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Error("mark report failed", zap.String("job_id", id), zap.Error(err))
	}
}
