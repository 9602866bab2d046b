package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/pfe-hub/pfe-planner-api/api/swagger"
	"github.com/pfe-hub/pfe-planner-api/internal/handler"
	"github.com/pfe-hub/pfe-planner-api/internal/middleware"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	"github.com/pfe-hub/pfe-planner-api/internal/repository"
	"github.com/pfe-hub/pfe-planner-api/internal/service"
	"github.com/pfe-hub/pfe-planner-api/pkg/cache"
	"github.com/pfe-hub/pfe-planner-api/pkg/config"
	"github.com/pfe-hub/pfe-planner-api/pkg/database"
	"github.com/pfe-hub/pfe-planner-api/pkg/jobs"
	"github.com/pfe-hub/pfe-planner-api/pkg/logger"
	corsmiddleware "github.com/pfe-hub/pfe-planner-api/pkg/middleware/cors"
	reqidmiddleware "github.com/pfe-hub/pfe-planner-api/pkg/middleware/requestid"
	"github.com/pfe-hub/pfe-planner-api/pkg/storage"
)

// @title PFE Planner API
// @version 1.0.0
// @description Defense planning and option assignment for end-of-studies projects
// @BasePath /api/v1
// @schemes http

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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	userRepo := repository.NewUserRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	defenseRepo := repository.NewDefenseRepository(db)
	optionRepo := repository.NewOptionRepository(db)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "pfe-planner-api",
	})
	teacherSvc := service.NewTeacherService(teacherRepo, validate, logr)
	projectSvc := service.NewProjectService(projectRepo, teacherRepo, validate, logr)

	// One guard for both write paths: generator runs and manual defense
	// scheduling must not interleave their conflict checks.
	planningGuard := &sync.Mutex{}

	defenseSvc := service.NewDefenseService(
		defenseRepo,
		projectRepo,
		teacherRepo,
		cacheRepo,
		metricsSvc,
		validate,
		logr,
		planningGuard,
		cfg.Planner.PlanningCacheTTL,
	)
	generatorSvc := service.NewDefenseGeneratorService(
		projectRepo,
		teacherRepo,
		defenseRepo,
		db,
		service.NewRandReviewerPicker(),
		cacheRepo,
		metricsSvc,
		validate,
		logr,
		planningGuard,
		service.GeneratorConfig{
			SlotStart:   cfg.Planner.SlotStart,
			SlotEnd:     cfg.Planner.SlotEnd,
			SlotMinutes: cfg.Planner.SlotMinutes,
			DailyCap:    cfg.Planner.DailyCap,
		},
	)
	optionSvc := service.NewOptionAllocationService(optionRepo, optionRepo, db, metricsSvc, validate, logr, cfg.Options.StratumOneRate, cfg.Options.TrackAPercent)

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	exportSigner := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportSvc := service.NewExportService(defenseRepo, projectRepo, teacherRepo, exportStore, exportSigner, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr)

	exportJobRepo := repository.NewExportJobRepository(db)
	exportWorker := service.NewExportJobWorker(exportJobRepo, exportSvc, cfg.Exports.WorkerRetries, logr)
	exportQueue := jobs.NewQueue("exports", exportWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	exportQueue.Start(context.Background())
	defer exportQueue.Stop()

	exportJobSvc := service.NewExportJobService(exportJobRepo, exportQueue, exportSvc, logr, service.ExportJobConfig{
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		MaxRetries:      cfg.Exports.WorkerRetries,
	})
	exportJobSvc.RecoverPendingJobs(context.Background())
	exportJobSvc.StartCleanup(context.Background())

	authHandler := handler.NewAuthHandler(authSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc)
	projectHandler := handler.NewProjectHandler(projectSvc)
	defenseHandler := handler.NewDefenseHandler(defenseSvc, generatorSvc, exportSvc)
	optionHandler := handler.NewOptionHandler(optionSvc)
	exportJobHandler := handler.NewExportJobHandler(exportJobSvc)

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
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	admin := middleware.RequireRoles(models.RoleAdmin)

	authed.GET("/teachers", teacherHandler.List)
	authed.GET("/teachers/:id", teacherHandler.Get)
	authed.POST("/teachers", admin, teacherHandler.Create)
	authed.PUT("/teachers/:id", admin, teacherHandler.Update)

	authed.GET("/projects", projectHandler.List)
	authed.GET("/projects/:id", projectHandler.Get)
	authed.POST("/projects", projectHandler.Create)
	authed.PATCH("/projects/:id/status", staff, projectHandler.UpdateStatus)
	authed.PUT("/projects/:id/supervisor", staff, projectHandler.AssignSupervisor)

	authed.GET("/defenses", defenseHandler.List)
	authed.GET("/defenses/export", staff, defenseHandler.Export)
	authed.GET("/defenses/:id", defenseHandler.Get)
	authed.POST("/defenses", staff, defenseHandler.Create)
	authed.POST("/defenses/generate", admin, defenseHandler.Generate)
	authed.PUT("/defenses/:id", staff, defenseHandler.Update)
	authed.PATCH("/defenses/:id/publish", staff, defenseHandler.SetPublished)
	authed.DELETE("/defenses/:id", staff, defenseHandler.Delete)

	authed.POST("/defenses/export-jobs", staff, exportJobHandler.CreateJob)
	authed.GET("/export-jobs/:id", staff, exportJobHandler.Status)
	// Download is token-gated rather than session-gated so links can be
	// shared with juries that have no account.
	api.GET("/export/:token", exportJobHandler.Download)

	authed.POST("/options/allocate", admin, optionHandler.Allocate)
	authed.GET("/options/assignments", staff, optionHandler.Results)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
