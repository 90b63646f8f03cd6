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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/patra-api/api/swagger"
	"github.com/noah-isme/patra-api/internal/handler"
	"github.com/noah-isme/patra-api/internal/middleware"
	"github.com/noah-isme/patra-api/internal/repository"
	"github.com/noah-isme/patra-api/internal/service"
	"github.com/noah-isme/patra-api/pkg/cache"
	"github.com/noah-isme/patra-api/pkg/config"
	"github.com/noah-isme/patra-api/pkg/database"
	"github.com/noah-isme/patra-api/pkg/jobs"
	"github.com/noah-isme/patra-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/patra-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/patra-api/pkg/middleware/requestid"
	"github.com/noah-isme/patra-api/pkg/storage"
)

// @title Patra API
// @version 1.0.0
// @description Inward letter routing between police and administrative desks
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck
	if err := database.Migrate(ctx, db); err != nil {
		logr.Fatal("failed to migrate schema", zap.Error(err))
	}

	metrics := service.NewMetricsService()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logger.Component(logr, "cache")).WithObserver(metrics)
	defer cacheRepo.Close() //nolint:errcheck

	objects, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		logr.Fatal("failed to init object storage", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}

	validate := validator.New()
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	letterRepo := repository.NewLetterRepository(db)

	authSvc := service.NewAuthService(
		userRepo,
		auditRepo,
		repository.NewOTPRepository(cacheRepo),
		repository.NewRevocationRepository(cacheRepo),
		validate,
		logger.Component(logr, "auth"),
		service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            cfg.JWT.Issuer,
			OTPLength:         cfg.OTP.Length,
			OTPTTL:            cfg.OTP.TTL,
			OTPMaxAttempts:    cfg.OTP.MaxAttempts,
		},
	)

	engine := service.NewLifecycleEngine(service.NewAttachmentManager(service.WithReportMaxBytes(cfg.Letters.ReportMaxBytes)))
	letterSvc := service.NewLetterService(
		letterRepo,
		auditRepo,
		engine,
		objects,
		storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL),
		validate,
		logger.Component(logr, "letters"),
		service.LetterServiceConfig{FilesPath: cfg.APIPrefix + "/files/"},
		service.WithLetterMetrics(metrics),
	)
	userSvc := service.NewUserService(userRepo, auditRepo, validate, logger.Component(logr, "users"))

	scheduler := jobs.NewScheduler(ctx, logger.Component(logr, "scheduler"))
	defer scheduler.Stop()
	scheduler.Schedule("open-letters", time.Minute, func(ctx context.Context) error {
		open, err := letterRepo.CountOpen(ctx)
		if err != nil {
			return err
		}
		metrics.SetOpenLetters(open)
		return nil
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	handler.Routes{
		Auth:        handler.NewAuthHandler(authSvc),
		Letters:     handler.NewLetterHandler(letterSvc, logger.Component(logr, "letters"), 10*engine.Attachments().MaxReportBytes()),
		Users:       handler.NewUserHandler(userSvc),
		Metrics:     metricsHandler,
		Credentials: authSvc,
		Audit:       auditRepo,
	}.Register(r.Group(cfg.APIPrefix))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Driver {
	case config.StorageDriverMinio:
		return storage.NewMinioStorage(ctx, cfg)
	case config.StorageDriverLocal, "":
		return storage.NewLocalStorage(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
