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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/eduforge/eduforge-api/api/swagger"
	"github.com/eduforge/eduforge-api/internal/handler"
	"github.com/eduforge/eduforge-api/internal/middleware"
	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/repository"
	"github.com/eduforge/eduforge-api/internal/service"
	"github.com/eduforge/eduforge-api/pkg/cache"
	"github.com/eduforge/eduforge-api/pkg/config"
	"github.com/eduforge/eduforge-api/pkg/database"
	"github.com/eduforge/eduforge-api/pkg/export"
	"github.com/eduforge/eduforge-api/pkg/jobs"
	"github.com/eduforge/eduforge-api/pkg/logger"
	corsmiddleware "github.com/eduforge/eduforge-api/pkg/middleware/cors"
	reqidmiddleware "github.com/eduforge/eduforge-api/pkg/middleware/requestid"
	"github.com/eduforge/eduforge-api/pkg/storage"
)

// @title Eduforge API
// @version 1.0.0
// @description Status-driven workflow API for student academic assistance requests
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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
			redisClient = nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(cfg, logr, db, redisClient)
	if err != nil {
		logr.Sugar().Fatalw("failed to wire application", "error", err)
	}

	if cfg.Exports.Enabled {
		app.exportQueue.Start(ctx)
		defer app.exportQueue.Stop()
		go app.runExportCleanup(ctx, cfg.Exports.CleanupInterval)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.metrics))

	registerRoutes(r, cfg, db, app)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// application holds the wired handler set plus the pieces main manages
// directly (queue lifecycle, metrics middleware).
type application struct {
	logger  *zap.Logger
	metrics *service.MetricsService

	exportQueue *jobs.Queue
	exports     *service.ExportService
	authSvc     *service.AuthService

	auth          *handler.AuthHandler
	users         *handler.UserHandler
	catalog       *handler.CatalogHandler
	requests      *handler.RequestHandler
	payments      *handler.PaymentHandler
	tickets       *handler.TicketHandler
	notifications *handler.NotificationHandler
	audits        *handler.AuditHandler
	settings      *handler.SettingHandler
	files         *handler.FileHandler
	metricsH      *handler.MetricsHandler
}

func buildApplication(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client) (*application, error) {
	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	disputeRepo := repository.NewDisputeRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	fileRepo := repository.NewFileRepository(db)
	exportRepo := repository.NewExportRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db).WithMetrics(metricsSvc)
	cacheRepo := repository.NewCacheRepository(redisClient, logr).WithMetrics(metricsSvc)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "eduforge-api",
	})
	userSvc := service.NewUserService(userRepo, workflowRepo, validate, logr)
	catalogSvc := service.NewCatalogService(catalogRepo, cacheRepo, auditRepo, validate, logr, cfg.Cache.CatalogTTL)
	settingSvc := service.NewSettingService(settingRepo, cacheRepo, auditRepo, validate, logr, cfg.Cache.SettingsTTL)
	requestSvc := service.NewRequestService(requestRepo, catalogRepo, workflowRepo, validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, requestRepo, disputeRepo, workflowRepo, validate, logr)
	ticketSvc := service.NewTicketService(ticketRepo, requestRepo, workflowRepo, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, logr)
	auditSvc := service.NewAuditService(auditRepo, logr)

	uploadStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init upload storage: %w", err)
	}
	uploadSigner := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)
	fileSvc := service.NewFileService(fileRepo, requestRepo, settingSvc, uploadStore, auditRepo, uploadSigner, logr, service.UploadPolicy{
		MaxSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Uploads.AllowedMIMEs,
	})

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init export storage: %w", err)
	}
	exportSigner := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	// The queue handler closes over exportSvc, which itself enqueues through
	// the queue. Wire the queue first with an indirection.
	var exportSvc *service.ExportService
	exportQueue := jobs.NewQueue("audit_export", func(ctx context.Context, job jobs.Job) error {
		return exportSvc.Process(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	exportSvc = service.NewExportService(exportRepo, auditRepo, auditRepo, exportStore, exportSigner, exportQueue, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr, export.NewCSVExporter(), export.NewPDFExporter())

	return &application{
		logger:        logr,
		metrics:       metricsSvc,
		exportQueue:   exportQueue,
		exports:       exportSvc,
		auth:          handler.NewAuthHandler(authSvc),
		users:         handler.NewUserHandler(userSvc),
		catalog:       handler.NewCatalogHandler(catalogSvc),
		requests:      handler.NewRequestHandler(requestSvc),
		payments:      handler.NewPaymentHandler(paymentSvc),
		tickets:       handler.NewTicketHandler(ticketSvc),
		notifications: handler.NewNotificationHandler(notificationSvc),
		audits:        handler.NewAuditHandler(auditSvc, exportSvc),
		settings:      handler.NewSettingHandler(settingSvc),
		files:         handler.NewFileHandler(fileSvc),
		metricsH:      handler.NewMetricsHandler(metricsSvc),
		authSvc:       authSvc,
	}, nil
}

func (app *application) runExportCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.exports.Cleanup(ctx); err != nil {
				app.logger.Sugar().Warnw("export cleanup failed", "error", err)
			}
		}
	}
}

func registerRoutes(r *gin.Engine, cfg *config.Config, db *sqlx.DB, app *application) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", app.metricsH.Prometheus())

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", app.auth.Login)
	api.POST("/auth/refresh", app.auth.Refresh)

	// Signed downloads carry their own HMAC token in the path.
	api.GET("/files/download/:token", app.files.DownloadSigned)
	api.GET("/audit/exports/download/:token", app.audits.DownloadExport)

	authed := api.Group("", middleware.JWT(app.authSvc))
	{
		authed.POST("/auth/logout", app.auth.Logout)
		authed.POST("/auth/change-password", app.auth.ChangePassword)
		authed.GET("/auth/me", app.auth.Me)

		admin := middleware.RequireRoles(models.RoleAdmin)

		users := authed.Group("/users")
		{
			users.GET("", admin, app.users.List)
			users.POST("", admin, app.users.Create)
			users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), app.users.Get)
			users.PUT("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), app.users.Update)
			users.POST("/:id/suspend", admin, app.users.Suspend)
			users.POST("/:id/unsuspend", admin, app.users.Unsuspend)
		}

		services := authed.Group("/services")
		{
			services.GET("", app.catalog.List)
			services.GET("/:id", app.catalog.Get)
			services.POST("", admin, app.catalog.Create)
			services.PUT("/:id", admin, app.catalog.Update)
			services.DELETE("/:id", admin, app.catalog.Delete)
		}

		requests := authed.Group("/requests")
		{
			requests.GET("", app.requests.List)
			requests.POST("", app.requests.Create)
			requests.GET("/:id", app.requests.Get)
			requests.PUT("/:id/status", app.requests.UpdateStatus)
			requests.GET("/:id/files", app.files.ListByRequest)
			requests.POST("/:id/files", app.files.Upload)
		}

		payments := authed.Group("/payments")
		{
			payments.GET("", app.payments.List)
			payments.POST("", app.payments.Submit)
			payments.GET("/:id", app.payments.Get)
			payments.PUT("/:id/review", admin, app.payments.Review)
			payments.POST("/:id/dispute", app.payments.FileDispute)
			payments.GET("/:id/dispute", app.payments.GetDispute)
		}

		disputes := authed.Group("/disputes")
		{
			disputes.GET("", app.payments.ListDisputes)
			disputes.PUT("/:id/resolve", admin, app.payments.ResolveDispute)
		}

		tickets := authed.Group("/tickets")
		{
			tickets.GET("", app.tickets.List)
			tickets.POST("", app.tickets.Create)
			tickets.GET("/:id", app.tickets.Get)
			tickets.PUT("/:id/status", admin, app.tickets.UpdateStatus)
			tickets.GET("/:id/replies", app.tickets.Replies)
			tickets.POST("/:id/replies", app.tickets.AddReply)
		}

		notifications := authed.Group("/notifications")
		{
			notifications.GET("", app.notifications.List)
			notifications.GET("/unread-count", app.notifications.UnreadCount)
			notifications.PUT("/:id/read", app.notifications.MarkRead)
			notifications.PUT("/read-all", app.notifications.MarkAllRead)
			notifications.DELETE("/:id", app.notifications.Delete)
		}

		audit := authed.Group("/audit", admin)
		{
			audit.GET("", app.audits.List)
			audit.GET("/:id", app.audits.Get)
			audit.POST("/exports", app.audits.RequestExport)
			audit.GET("/exports/:id", app.audits.ExportStatus)
			audit.GET("/exports/:id/url", app.audits.ExportDownloadURL)
		}

		settings := authed.Group("/settings")
		{
			settings.GET("", app.settings.List)
			settings.GET("/:key", app.settings.Get)
			settings.PUT("/:key", admin, app.settings.Update)
		}

		files := authed.Group("/files")
		{
			files.GET("/:id/download", app.files.Download)
			files.GET("/:id/signed-url", app.files.SignedURL)
		}

		authed.GET("/metrics/summary", admin, app.metricsH.Snapshot)
	}
}
