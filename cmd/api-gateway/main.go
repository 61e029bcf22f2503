package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/timetable-engine/api/swagger"
	"github.com/noah-isme/timetable-engine/internal/handler"
	internalmiddleware "github.com/noah-isme/timetable-engine/internal/middleware"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/repository"
	"github.com/noah-isme/timetable-engine/internal/service"
	"github.com/noah-isme/timetable-engine/pkg/cache"
	"github.com/noah-isme/timetable-engine/pkg/config"
	"github.com/noah-isme/timetable-engine/pkg/database"
	"github.com/noah-isme/timetable-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/timetable-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/timetable-engine/pkg/middleware/requestid"
)

// @title Timetable Engine API
// @version 1.0.0
// @description Timetable generation, slot editing and per-person timetable views
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Timetable.CacheEnabled {
		redisClient, err = cache.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, timetable views will not be cached", zap.Error(err))
			redisClient = nil
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Timetable.CacheTTL, logr, redisClient != nil)

	timetableRepo := repository.NewTimetableRepository(db)
	slotRepo := repository.NewTimetableSlotRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	studentRepo := repository.NewStudentDirectoryRepository(db)

	viewSvc := service.NewTimetableViewService(slotRepo, timetableRepo, studentRepo, cacheSvc, logr, service.TimetableViewConfig{
		CacheTTL:      cfg.Timetable.CacheTTL,
		LookupTimeout: cfg.Timetable.RosterTimeout,
	})
	timetableSvc := service.NewTimetableService(timetableRepo, slotRepo, timetableRepo, viewSvc, validate, logr)
	generatorSvc := service.NewTimetableGeneratorService(service.TimetableGeneratorParams{
		Roster:      rosterRepo,
		Commitments: slotRepo,
		Store:       timetableSvc,
		Metrics:     metricsSvc,
		Validator:   validate,
		Logger:      logr,
		Config: service.TimetableGeneratorConfig{
			RosterTimeout:     cfg.Timetable.RosterTimeout,
			MaxSessionsPerDay: cfg.Timetable.MaxSessionsPerDay,
			DefaultMethod:     cfg.Timetable.DefaultGenerateMethod,
		},
	})
	slotSvc := service.NewTimetableSlotService(timetableRepo, slotRepo, timetableRepo, viewSvc, metricsSvc, validate, logr)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	probes := map[string]handler.ReadinessProbe{"postgres": db.PingContext}
	if redisClient != nil {
		probes["redis"] = cacheRepo.Ping
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, probes)
	timetableHandler := handler.NewTimetableHandler(generatorSvc, timetableSvc)
	slotHandler := handler.NewTimetableSlotHandler(slotSvc)
	viewHandler := handler.NewTimetableViewHandler(viewSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.WithResponseMeta(), internalmiddleware.JWT(tokenSvc))

	admin := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	selfOrAdmin := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, internalmiddleware.RoleSelf)

	timetables := api.Group("/timetables", admin)
	timetables.POST("/generate", timetableHandler.Generate)
	timetables.POST("", timetableHandler.Create)
	timetables.GET("", timetableHandler.List)
	timetables.GET("/:id", timetableHandler.Get)
	timetables.PATCH("/:id/status", timetableHandler.UpdateStatus)
	timetables.DELETE("/:id", timetableHandler.Delete)
	timetables.GET("/:id/export", timetableHandler.Export)
	timetables.POST("/:id/slots", slotHandler.Create)
	timetables.PATCH("/:id/slots/:slotId", slotHandler.Update)
	timetables.DELETE("/:id/slots/:slotId", slotHandler.Delete)

	api.GET("/teachers/:id/timetable", selfOrAdmin, viewHandler.Teacher)
	api.GET("/students/:id/timetable", selfOrAdmin, viewHandler.Student)
	api.GET("/me/timetable", viewHandler.Me)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "cache", cacheSvc.Enabled())
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
