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
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/seb-admin-api/api/swagger"
	"github.com/noah-isme/seb-admin-api/internal/dto"
	"github.com/noah-isme/seb-admin-api/internal/handler"
	"github.com/noah-isme/seb-admin-api/internal/middleware"
	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/internal/repository"
	"github.com/noah-isme/seb-admin-api/internal/service"
	"github.com/noah-isme/seb-admin-api/pkg/cache"
	"github.com/noah-isme/seb-admin-api/pkg/config"
	"github.com/noah-isme/seb-admin-api/pkg/database"
	"github.com/noah-isme/seb-admin-api/pkg/jobs"
	"github.com/noah-isme/seb-admin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/seb-admin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/seb-admin-api/pkg/middleware/requestid"
)

// @title SEB Admin API
// @version 0.1.0
// @description Batch and bulk administration actions for exam entities
// @BasePath /api/v1
// @schemes http

const shutdownTimeout = 15 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	scheduler := jobs.NewScheduler("seb-admin", jobs.SchedulerConfig{Logger: logger.Component(logr, "scheduler")})
	scheduler.Start(ctx)

	svcs, err := buildServices(ctx, cfg, db, scheduler, metrics, logr)
	if err != nil {
		logr.Sugar().Fatalw("service wiring failed", "error", err)
	}
	if err := svcs.batch.Start(); err != nil {
		logr.Sugar().Fatalw("batch action processor failed to start", "error", err)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(cfg, logr, metrics, svcs)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("http shutdown incomplete", "error", err)
	}
	// running batch actions observe the cancelled context and stay resumable
	scheduler.Stop()
	logr.Info("shutdown complete")
}

type services struct {
	auth     *service.AuthService
	activity *service.UserActivityLogService
	batch    *service.BatchActionService
	bulk     *service.BulkActionService
}

func buildServices(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	scheduler *jobs.Scheduler,
	metrics *service.MetricsService,
	logr *zap.Logger,
) (*services, error) {
	userRepo := repository.NewUserRepository(db)
	activityRepo := repository.NewUserActivityLogRepository(db)
	examRepo := repository.NewExamRepository(db)
	configRepo := repository.NewConfigurationNodeRepository(db)
	batchRepo := repository.NewBatchActionRepository(db)

	authSvc := service.NewAuthService(userRepo, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})
	authz := service.NewAuthorizationService(logger.Component(logr, "authorization"))
	activity := service.NewUserActivityLogService(activityRepo, logr)

	executors, err := service.NewExecutorRegistry(
		service.NewArchiveExamExecutor(examRepo, authz, activity),
		service.NewDeleteExamExecutor(examRepo, authz, activity),
		service.NewExamConfigDeleteExecutor(configRepo, authz, activity),
		service.NewExamConfigStateChangeExecutor(configRepo, authz, activity),
		service.NewExamConfigResetToTemplateExecutor(configRepo, authz, activity),
	)
	if err != nil {
		return nil, err
	}

	tables := repository.DefaultEntityTables()
	supports := make([]service.BulkActionSupport, 0, len(tables))
	for _, table := range tables {
		supports = append(supports, repository.NewEntityBulkRepository(db, table))
	}
	bulkRegistry, err := service.NewBulkSupportRegistry(supports...)
	if err != nil {
		return nil, err
	}

	bulkOpts := []service.BulkActionServiceOption{service.WithBulkActionMetrics(metrics)}
	if cfg.BulkActions.EventsEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, bulk action events disabled", "error", err)
		} else {
			events := repository.NewEventRepository(client, logr)
			bulkOpts = append(bulkOpts, service.WithBulkActionEvents(
				service.NewRedisBulkActionEventPublisher(events, cfg.BulkActions.EventChannel, logr),
			))
		}
	}
	bulkSvc := service.NewBulkActionService(
		bulkRegistry,
		service.NewDependencyResolver(bulkRegistry, logger.Component(logr, "dependency-resolver")),
		authz,
		activity,
		logger.Component(logr, "bulk-actions"),
		bulkOpts...,
	)

	batchSvc := service.NewBatchActionService(
		batchRepo,
		executors,
		userRepo,
		authz,
		activity,
		scheduler,
		logger.Component(logr, "batch-actions"),
		service.BatchActionConfig{
			Enabled:         cfg.BatchActions.Enabled,
			UpdateInterval:  cfg.BatchActions.UpdateInterval,
			InitialDelay:    cfg.BatchActions.InitialDelay,
			AbandonedAfter:  cfg.BatchActions.AbandonedAfter,
			PersistRetries:  cfg.BatchActions.PersistRetries,
			SystemPrincipal: cfg.BatchActions.SystemPrincipal,
		},
		service.WithBatchActionMetrics(metrics),
	)
	return &services{auth: authSvc, activity: activity, batch: batchSvc, bulk: bulkSvc}, nil
}

func newRouter(
	cfg *config.Config,
	logr *zap.Logger,
	metrics *service.MetricsService,
	svcs *services,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	validate := dto.NewValidator()
	batchHandler := handler.NewBatchActionHandler(svcs.batch, validate)
	bulkHandler := handler.NewBulkActionHandler(svcs.bulk, validate)
	activityHandler := handler.NewActivityLogHandler(svcs.activity)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(svcs.auth))
	api.GET("/metrics/summary", middleware.RequireRoles(models.RoleSEBServerAdmin), metricsHandler.Summary)
	api.GET("/activity-logs", middleware.RequireRoles(models.RoleSEBServerAdmin), activityHandler.List)

	batch := api.Group("/batch-actions")
	batch.POST("", batchHandler.Create)
	batch.GET("", batchHandler.List)
	batch.GET("/:id", batchHandler.Get)
	batch.DELETE("/:id", batchHandler.Delete)

	bulk := api.Group("/bulk-actions", middleware.RequireRoles(models.RoleSEBServerAdmin, models.RoleInstitutionalAdmin))
	bulk.POST("", bulkHandler.Execute)
	bulk.POST("/dependencies", bulkHandler.Dependencies)

	return r
}
