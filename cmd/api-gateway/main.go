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

	_ "github.com/noah-isme/cdp-api/api/swagger"
	"github.com/noah-isme/cdp-api/internal/handler"
	internalmiddleware "github.com/noah-isme/cdp-api/internal/middleware"
	"github.com/noah-isme/cdp-api/internal/repository"
	"github.com/noah-isme/cdp-api/internal/service"
	"github.com/noah-isme/cdp-api/pkg/cache"
	"github.com/noah-isme/cdp-api/pkg/certificate"
	"github.com/noah-isme/cdp-api/pkg/config"
	"github.com/noah-isme/cdp-api/pkg/database"
	"github.com/noah-isme/cdp-api/pkg/logger"
	"github.com/noah-isme/cdp-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/cdp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/cdp-api/pkg/middleware/requestid"
	"github.com/noah-isme/cdp-api/pkg/observability"
	"github.com/noah-isme/cdp-api/pkg/storage"
)

// @title CDP Certificates API
// @version 1.0.0
// @description Course enrollment, certificate rendering and paced email delivery
// @BasePath /api/v1
// @schemes http https
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

	flush, err := observability.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.Sentry.Release)
	if err != nil {
		logr.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db.DB); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
		if version, err := database.MigrationVersion(db.DB); err == nil {
			logr.Info("database migrated", zap.Int64("version", version))
		}
	}

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	var cacheSvc *service.CacheService
	redisClient, err := cache.NewRedis(cfg.Redis)
	switch {
	case err == nil:
		cacheRepo := repository.NewCacheRepository(redisClient, "cdp")
		defer cacheRepo.Close() //nolint:errcheck
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, time.Minute, logr, true)
	case errors.Is(err, cache.ErrDisabled):
		logr.Info("redis cache disabled")
	default:
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
	}

	files, err := storage.NewLocalStorage(cfg.Uploads.Dir, cfg.Uploads.PublicURL)
	if err != nil {
		logr.Fatal("failed to prepare uploads directory", zap.Error(err))
	}

	var transport mail.Transport
	if cfg.Mail.APIKey() != "" {
		transport, err = mail.New(mail.Config{
			Provider: cfg.Mail.Provider,
			APIKey:   cfg.Mail.APIKey(),
			APIURL:   cfg.Mail.APIURL(),
			Sender:   cfg.Mail.Sender,
			Timeout:  cfg.Mail.Timeout,
			Logger:   logr,
		})
		if err != nil {
			logr.Fatal("failed to configure mail transport", zap.Error(err))
		}
	} else {
		logr.Warn("mail api key missing, sends will be logged as errors", zap.String("provider", cfg.Mail.Provider))
	}

	renderer := certificate.NewRenderer(certificate.Config{
		FetchTimeout: cfg.Certificates.FetchTimeout,
		Logger:       logr,
		Observer:     metricsSvc,
	})

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	certTemplateRepo := repository.NewCertificateTemplateRepository(db)
	emailTemplateRepo := repository.NewEmailTemplateRepository(db)
	emailLogRepo := repository.NewEmailLogRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	importRepo := repository.NewImportRepository(db)

	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
	})
	userSvc := service.NewUserService(userRepo, auditRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, enrollmentRepo, userRepo, certTemplateRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, logr)
	importSvc := service.NewImportService(importRepo, auditRepo, metricsSvc, validate, logr, service.ImportConfig{
		DefaultInstructorEmail: cfg.Import.DefaultInstructorEmail,
		DefaultPassword:        cfg.Import.DefaultPassword,
	})
	certTemplateSvc := service.NewCertificateTemplateService(certTemplateRepo, files, renderer, validate, logr, cfg.Uploads.MaxFileSizeBytes)
	emailTemplateSvc := service.NewEmailTemplateService(emailTemplateRepo, validate, logr)
	mailerSvc := service.NewMailerService(service.MailerServiceParams{
		Templates:    emailTemplateRepo,
		Users:        userRepo,
		Roster:       enrollmentRepo,
		Courses:      courseRepo,
		Certificates: certTemplateRepo,
		Renderer:     renderer,
		Transport:    transport,
		Logs:         emailLogRepo,
		Audit:        auditRepo,
		Metrics:      metricsSvc,
		Validator:    validate,
		Logger:       logr,
		Config: service.MailerConfig{
			Provider:   cfg.Mail.Provider,
			Sender:     cfg.Mail.Sender,
			Configured: transport != nil,
			BatchSize:  cfg.Batch.Size,
			BatchPause: cfg.Batch.Pause,
			ItemPause:  cfg.Batch.ItemPause,
		},
	})
	batchJobs := service.NewBatchJobService(mailerSvc, cacheSvc, logr, service.BatchJobConfig{
		Workers:    cfg.Batch.Workers,
		BufferSize: cfg.Batch.BufferSize,
		JobTTL:     cfg.Batch.JobTTL,
	})
	emailLogSvc := service.NewEmailLogService(emailLogRepo, cacheSvc, logr, 30*time.Second)

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	batchJobs.Start(appCtx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/health"))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	if metricsSvc != nil {
		r.GET("/metrics", metricsHandler.Prometheus)
		r.GET("/metrics/summary", metricsHandler.Summary)
	}
	r.Static("/uploads", files.Dir())
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Auth:                 handler.NewAuthHandler(authSvc),
		Users:                handler.NewUserHandler(userSvc),
		Courses:              handler.NewCourseHandler(courseSvc),
		Enrollments:          handler.NewEnrollmentHandler(enrollmentSvc, importSvc, cfg.Import.MaxFileSizeBytes),
		CertificateTemplates: handler.NewCertificateTemplateHandler(certTemplateSvc, cfg.Uploads.MaxFileSizeBytes),
		EmailTemplates:       handler.NewEmailTemplateHandler(emailTemplateSvc),
		Emails:               handler.NewEmailHandler(mailerSvc, batchJobs, emailLogSvc),
	}, handler.RouteDeps{
		Tokens: authSvc,
		Audit:  auditRepo,
		Logger: logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.CaptureErr(err)
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-appCtx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown", zap.Error(err))
	}
	batchJobs.Stop()
	logr.Info("server stopped")
}
