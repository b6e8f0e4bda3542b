package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sechachelebohang0-a11y/career-guidance-app/api/swagger"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/handler"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/middleware"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/repository"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/service"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/cache"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/config"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/database"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/jobs"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/logger"
	corsmiddleware "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/middleware/cors"
	reqidmiddleware "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/middleware/requestid"
)

// @title Career Guidance API
// @version 1.0.0
// @description Course applications, admissions and job matching portal
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	// Redis backs the selection lock and catalog cache; both degrade
	// gracefully without it, so a missing Redis is a warning, not fatal.
	var redisClient *redis.Client
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, locks and caching degraded", "error", err)
	} else {
		redisClient = client
		defer redisClient.Close()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	institutionRepo := repository.NewInstitutionRepository(db)
	companyRepo := repository.NewCompanyRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	jobRepo := repository.NewJobRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	selectionLock := repository.NewSelectionLock(redisClient, cfg.Selection.LockTTL, logr)
	catalogCache := repository.NewCatalogCache(redisClient, logr)

	metricsService := service.NewMetricsService()

	notificationService := service.NewNotificationService(notificationRepo, logr, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	})

	authService := service.NewAuthService(userRepo, institutionRepo, companyRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	studentService := service.NewStudentService(studentRepo, validate, logr)
	waitlistService := service.NewWaitlistService(applicationRepo, courseRepo, notificationService, logr,
		cfg.Selection.WriteAttempts, service.WithPromotionObserver(metricsService))
	applicationService := service.NewApplicationService(applicationRepo, courseRepo, institutionRepo,
		studentRepo, waitlistService, notificationService, validate, logr)
	selectionService := service.NewSelectionService(applicationRepo, selectionLock, institutionRepo,
		waitlistService, notificationService, logr, cfg.Selection, service.WithSelectionObserver(metricsService))
	admissionService := service.NewAdmissionService(applicationRepo, institutionRepo, notificationService, validate, logr)
	courseService := service.NewCourseService(courseRepo, catalogCache, institutionRepo, studentRepo,
		applicationRepo, waitlistService, validate, logr, cfg.Catalog.CacheTTL)
	jobService := service.NewJobService(jobRepo, companyRepo, studentRepo, validate, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notificationService.Start(ctx)
	defer notificationService.Stop()

	authHandler := handler.NewAuthHandler(authService)
	studentHandler := handler.NewStudentHandler(studentService)
	applicationHandler := handler.NewApplicationHandler(applicationService, selectionService)
	courseHandler := handler.NewCourseHandler(courseService, waitlistService)
	admissionHandler := handler.NewAdmissionHandler(admissionService)
	jobHandler := handler.NewJobHandler(jobService)
	notificationHandler := handler.NewNotificationHandler(notificationService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsService.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/register", authHandler.Register)
	auth.GET("/me", middleware.JWT(authService), authHandler.Me)

	students := api.Group("/students", middleware.JWT(authService), middleware.RequireRoles(models.RoleStudent))
	students.GET("/me/profile", studentHandler.GetProfile)
	students.PUT("/me/profile", studentHandler.UpdateProfile)

	courses := api.Group("/courses")
	courses.GET("", middleware.OptionalJWT(authService), courseHandler.List)
	courses.GET("/:id", courseHandler.Get)
	courses.POST("", middleware.JWT(authService), middleware.RequireRoles(models.RoleInstitution), courseHandler.Create)
	courses.PUT("/:id", middleware.JWT(authService), middleware.RequireRoles(models.RoleInstitution), courseHandler.Update)
	courses.POST("/:id/promote", middleware.JWT(authService),
		middleware.RequireRoles(models.RoleAdmin, models.RoleInstitution), courseHandler.Promote)

	applications := api.Group("/applications", middleware.JWT(authService), middleware.RequireRoles(models.RoleStudent))
	applications.POST("", applicationHandler.Apply)
	applications.GET("", applicationHandler.List)
	applications.GET("/pending-selection", applicationHandler.PendingSelection)
	applications.POST("/:id/accept", applicationHandler.Accept)
	applications.POST("/:id/withdraw", applicationHandler.Withdraw)

	admissions := api.Group("/admissions", middleware.JWT(authService), middleware.RequireRoles(models.RoleInstitution))
	admissions.GET("", admissionHandler.ListApplicants)
	admissions.PUT("/:id", admissionHandler.Review)
	admissions.GET("/export", admissionHandler.Export)

	jobsGroup := api.Group("/jobs")
	jobsGroup.GET("", middleware.OptionalJWT(authService), jobHandler.List)
	jobsGroup.POST("", middleware.JWT(authService), middleware.RequireRoles(models.RoleCompany), jobHandler.Create)
	jobsGroup.PUT("/:id", middleware.JWT(authService), middleware.RequireRoles(models.RoleCompany), jobHandler.Update)

	notifications := api.Group("/notifications", middleware.JWT(authService))
	notifications.GET("", notificationHandler.List)
	notifications.PUT("/:id/read", notificationHandler.MarkRead)
	notifications.PUT("/read-all", notificationHandler.MarkAllRead)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
