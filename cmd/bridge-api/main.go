package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/internal/client"
	"github.com/campusops/sits-bridge/internal/gradescale"
	"github.com/campusops/sits-bridge/internal/handler"
	"github.com/campusops/sits-bridge/internal/middleware"
	"github.com/campusops/sits-bridge/internal/repository"
	"github.com/campusops/sits-bridge/internal/schedule"
	"github.com/campusops/sits-bridge/internal/service"
	"github.com/campusops/sits-bridge/pkg/cache"
	"github.com/campusops/sits-bridge/pkg/config"
	"github.com/campusops/sits-bridge/pkg/database"
	"github.com/campusops/sits-bridge/pkg/logger"
	corsmiddleware "github.com/campusops/sits-bridge/pkg/middleware/cors"
	reqidmiddleware "github.com/campusops/sits-bridge/pkg/middleware/requestid"
)

func main() {
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

	sitsClient, err := client.NewSITSClient(cfg.SITS, logr)
	if err != nil {
		logr.Sugar().Fatalw("sits client init failed", "error", err)
	}

	assignmentRepo := repository.NewAssignmentRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	reportRepo := repository.NewReportRepository(db)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	materializer, err := buildMaterializer(cfg, assignmentRepo, activityRepo, metricsSvc, logr)
	if err != nil {
		logr.Sugar().Fatalw("materializer init failed", "error", err)
	}

	assignmentSvc := service.NewAssignmentService(assignmentRepo, activityRepo, materializer, validate, logr)
	reportSvc := service.NewReportService(reportRepo, assignmentRepo, queueRepo, logr, service.ReportConfig{
		StorageDir:  cfg.Reports.StorageDir,
		Workers:     cfg.Reports.WorkerConcurrency,
		Retries:     cfg.Reports.WorkerRetries,
		WindowWeeks: cfg.Reports.WindowWeeks,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Reports.Enabled {
		if err := reportSvc.Start(rootCtx); err != nil {
			logr.Sugar().Fatalw("report workers failed to start", "error", err)
		}
		defer reportSvc.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	assignmentHandler := handler.NewAssignmentHandler(assignmentSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	adminHandler := handler.NewAdminHandler(sitsClient, queueRepo)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.Auth.Secret))
	{
		api.POST("/assignments", assignmentHandler.Submit)
		api.PUT("/assignments", assignmentHandler.Update)
		api.GET("/assignments/:ref", assignmentHandler.Get)
		api.DELETE("/assignments/:ref", assignmentHandler.Delete)

		if cfg.Reports.Enabled {
			api.POST("/reports", reportHandler.Create)
			api.GET("/reports/:id", reportHandler.Get)
			api.GET("/reports/:id/download", reportHandler.Download)
		}

		admin := api.Group("/admin", middleware.RequireRole("admin"))
		admin.GET("/test-connection", adminHandler.TestConnection)
		admin.GET("/queue/:ref", adminHandler.QueueState)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}

// buildMaterializer assembles the materializer used by the API for activity
// refresh on assignment updates. Redis is optional; without it container
// readiness is checked against the database every time.
func buildMaterializer(cfg *config.Config, assignmentRepo *repository.AssignmentRepository, activityRepo *repository.ActivityRepository, metricsSvc *service.MetricsService, logr *zap.Logger) (*service.MaterializerService, error) {
	scales, err := gradescale.NewRegistry(cfg.Scales)
	if err != nil {
		return nil, fmt.Errorf("build scale registry: %w", err)
	}
	schedCfg, err := schedule.NewConfig(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("build schedule config: %w", err)
	}

	var redisClient *redis.Client
	if rc, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, readiness cache disabled", "error", err)
	} else {
		redisClient = rc
	}
	readiness := repository.NewCacheRepository(redisClient, logr)

	return service.NewMaterializerService(assignmentRepo, activityRepo, readiness, scales, schedCfg, metricsSvc, logr, service.MaterializerConfig{
		Limit:             cfg.Jobs.MaterializeLimit,
		AcademicYears:     cfg.Jobs.AcademicYears,
		ReadinessCacheTTL: cfg.Jobs.ReadinessCacheTTL,
	}), nil
}
