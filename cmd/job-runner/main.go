package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/client"
	"github.com/campusops/sits-bridge/internal/gradescale"
	"github.com/campusops/sits-bridge/internal/repository"
	"github.com/campusops/sits-bridge/internal/schedule"
	"github.com/campusops/sits-bridge/internal/service"
	"github.com/campusops/sits-bridge/pkg/cache"
	"github.com/campusops/sits-bridge/pkg/config"
	"github.com/campusops/sits-bridge/pkg/database"
	"github.com/campusops/sits-bridge/pkg/logger"
)

type runnable interface {
	Run(ctx context.Context) error
}

func main() {
	jobName := flag.String("job", "all", "job to run: materialize, ingest, export or all")
	once := flag.Bool("once", false, "run each selected job a single time and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	scales, err := gradescale.NewRegistry(cfg.Scales)
	if err != nil {
		logr.Sugar().Fatalw("scale registry init failed", "error", err)
	}
	schedCfg, err := schedule.NewConfig(cfg.Schedule)
	if err != nil {
		logr.Sugar().Fatalw("schedule config init failed", "error", err)
	}
	sitsClient, err := client.NewSITSClient(cfg.SITS, logr)
	if err != nil {
		logr.Sugar().Fatalw("sits client init failed", "error", err)
	}

	var redisClient *redis.Client
	if rc, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, readiness cache disabled", "error", err)
	} else {
		redisClient = rc
	}

	assignmentRepo := repository.NewAssignmentRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	readiness := repository.NewCacheRepository(redisClient, logr)
	metricsSvc := service.NewMetricsService()

	materializer := service.NewMaterializerService(assignmentRepo, activityRepo, readiness, scales, schedCfg, metricsSvc, logr, service.MaterializerConfig{
		Limit:             cfg.Jobs.MaterializeLimit,
		AcademicYears:     cfg.Jobs.AcademicYears,
		ReadinessCacheTTL: cfg.Jobs.ReadinessCacheTTL,
	})
	ingester := service.NewIngestionService(activityRepo, assignmentRepo, queueRepo, scales, metricsSvc, logr, service.IngestionConfig{
		Overlap: cfg.Jobs.IngestOverlap,
	})
	exporter := service.NewExportService(queueRepo, assignmentRepo, sitsClient, metricsSvc, logr, service.ExportConfig{
		MaxAssignments: cfg.Jobs.ExportMaxAssignments,
		UnitLeader:     cfg.SITS.UnitLeader,
	})

	type scheduledJob struct {
		name     string
		job      runnable
		interval time.Duration
	}
	available := []scheduledJob{
		{"materialize", materializer, cfg.Jobs.MaterializeInterval},
		{"ingest", ingester, cfg.Jobs.IngestInterval},
		{"export", exporter, cfg.Jobs.ExportInterval},
	}

	selected := make([]scheduledJob, 0, len(available))
	for _, j := range available {
		if *jobName == "all" || *jobName == j.name {
			selected = append(selected, j)
		}
	}
	if len(selected) == 0 {
		log.Fatalf("unknown job %q", *jobName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		for _, j := range selected {
			runOnce(ctx, j.name, j.job, logr)
		}
		return
	}

	var wg sync.WaitGroup
	for _, j := range selected {
		wg.Add(1)
		go func(name string, job runnable, interval time.Duration) {
			defer wg.Done()
			loop(ctx, name, job, interval, logr)
		}(j.name, j.job, j.interval)
	}
	wg.Wait()
}

func loop(ctx context.Context, name string, job runnable, interval time.Duration, logr *zap.Logger) {
	logr.Sugar().Infow("job loop starting", "job", name, "interval", interval.String())
	runOnce(ctx, name, job, logr)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logr.Sugar().Infow("job loop stopped", "job", name)
			return
		case <-ticker.C:
			runOnce(ctx, name, job, logr)
		}
	}
}

func runOnce(ctx context.Context, name string, job runnable, logr *zap.Logger) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		logr.Sugar().Errorw("job run failed", "job", name, "error", err)
		return
	}
	logr.Sugar().Infow("job run finished", "job", name, "took", fmt.Sprintf("%.2fs", time.Since(start).Seconds()))
}
