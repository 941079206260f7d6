package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/config"
	"github.com/codecraft-store/entitlement-api/internal/handler"
	"github.com/codecraft-store/entitlement-api/internal/handler/middleware"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/codecraft-store/entitlement-api/internal/notify"
	"github.com/codecraft-store/entitlement-api/internal/processor/mercadopago"
	"github.com/codecraft-store/entitlement-api/internal/service"
	"github.com/codecraft-store/entitlement-api/internal/storage/memstorage"
	"github.com/codecraft-store/entitlement-api/internal/storage/postgres"
	"github.com/codecraft-store/entitlement-api/internal/storage/redis"
	"github.com/codecraft-store/entitlement-api/internal/worker"
	"github.com/codecraft-store/entitlement-api/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sugarLogger := appLogger.Sugar()

	sugarLogger.Info("Starting application...")
	sugarLogger.Infof("Log level set to: %s", cfg.Log.Level)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := postgres.NewPgxPool(appCtx, &cfg.Database, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbPool.Close()

	redisClient, err := redis.NewRedisClient(appCtx, &cfg.Redis, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	purchaseRepo := postgres.NewPurchaseRepository(dbPool, appLogger)
	licenseRepo := postgres.NewLicenseRepository(dbPool, appLogger)
	activationLogRepo := postgres.NewActivationLogRepository(dbPool, appLogger)
	productRepo := postgres.NewProductRepository(dbPool, appLogger)
	accountRepo := postgres.NewAccountRepository(dbPool, appLogger)
	apiKeyRepo := postgres.NewAPIKeyRepository(dbPool, appLogger)
	userRepoMock := memstorage.NewUserRepositoryMock()

	mpClient := mercadopago.NewHTTPClient(&cfg.MercadoPago, appLogger)
	mpAuthenticator := mercadopago.NewAuthenticator(cfg.MercadoPago.WebhookSecret, appLogger)

	invoiceGen := notify.NewLogInvoiceGenerator(appLogger)
	emailNotifier := notify.NewLogEmailNotifier(appLogger)
	artifactResolver := notify.NewProductArtifactResolver(productRepo)

	provisioningService := service.NewProvisioningService(purchaseRepo, licenseRepo, asynqClient, appLogger)
	purchaseService := service.NewPurchaseService(purchaseRepo, productRepo, accountRepo, licenseRepo, mpClient, provisioningService, &cfg.MercadoPago, appLogger)
	activationService := service.NewActivationService(licenseRepo, purchaseRepo, productRepo, activationLogRepo, appLogger)
	dashboardService := service.NewDashboardService(purchaseRepo, licenseRepo, appLogger)
	identityService := service.NewIdentityService(accountRepo, appLogger)
	authService := service.NewAuthService(userRepoMock, &cfg.JWT, appLogger)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, appLogger)

	healthHandler := handler.NewHealthHandler(dbPool, redisClient, appLogger)
	activationHandler := handler.NewActivationHandler(activationService, appLogger)
	purchaseHandler := handler.NewPurchaseHandler(purchaseService, appLogger)
	webhookHandler := handler.NewWebhookHandler(purchaseService, mpAuthenticator, appLogger)
	accountHandler := handler.NewAccountHandler(identityService, appLogger)
	dashboardHandler := handler.NewDashboardHandler(dashboardService, appLogger)
	authHandler := handler.NewAuthHandler(authService, appLogger)
	apiKeyHandler := handler.NewAPIKeyHandler(apiKeyService, appLogger)

	authMiddleware := middleware.AuthMiddleware(authService, appLogger)
	apiKeyAuthMiddleware := middleware.APIKeyAuthMiddleware(apiKeyRepo, appLogger)
	errorMiddleware := middleware.ErrorHandlerMiddleware(appLogger)

	router := gin.New()
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logMsg := "Panic recovered"
		if err, ok := recovered.(string); ok {
			logMsg = fmt.Sprintf("%s: %s", logMsg, err)
		} else if err, ok := recovered.(error); ok {
			logMsg = fmt.Sprintf("%s: %v", logMsg, err)
		}
		appLogger.Error(logMsg, zap.Stack("stack"))

		_ = c.Error(ierr.ErrInternalServer)
		c.Abort()
	}))

	corsConfig := cors.Config{
		AllowOrigins: []string{"http://localhost:3000", "https://codecraft.store"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-API-Key",
		},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))
	router.Use(errorMiddleware)

	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authRoutes := router.Group("/api/v1/auth")
	{
		authRoutes.POST("/login", authHandler.Login)
	}

	apiV1 := router.Group("/api/v1")
	{
		// Device-facing endpoints, authenticated by the app's API key.
		deviceRoutes := apiV1.Group("/licenses")
		deviceRoutes.Use(apiKeyAuthMiddleware)
		{
			deviceRoutes.POST("/activate", activationHandler.Activate)
			deviceRoutes.POST("/verify", activationHandler.Verify)
			deviceRoutes.POST("/release", activationHandler.Release)
			deviceRoutes.POST("/claim", activationHandler.Claim)
		}

		// Buyer-facing checkout endpoints, unauthenticated.
		apiV1.POST("/products/:id/checkout", purchaseHandler.Checkout)
		apiV1.POST("/products/:id/charge", purchaseHandler.DirectCharge)
		apiV1.GET("/purchases/:id/status", purchaseHandler.Status)

		apiV1.POST("/webhooks/mercadopago", webhookHandler.HandleMercadoPago)

		adminRoutes := apiV1.Group("/admin")
		adminRoutes.Use(authMiddleware)
		{
			adminRoutes.GET("/purchases", purchaseHandler.Search)
			adminRoutes.GET("/purchases/:id", purchaseHandler.GetByID)
			adminRoutes.PATCH("/purchases/:id/status", purchaseHandler.UpdateStatus)
			adminRoutes.POST("/accounts/merge", accountHandler.Merge)
			adminRoutes.GET("/dashboard/summary", dashboardHandler.Summary)
			adminRoutes.POST("/apikeys", apiKeyHandler.Create)
			adminRoutes.GET("/apikeys", apiKeyHandler.List)
			adminRoutes.DELETE("/apikeys/:id", apiKeyHandler.Revoke)
		}
	}

	workerDeps := worker.Deps{
		Purchases: purchaseRepo,
		Products:  productRepo,
		Licenses:  licenseRepo,
		Processor: mpClient,
		Applier:   provisioningService,
		Invoices:  invoiceGen,
		Emails:    emailNotifier,
		Artifacts: artifactResolver,
	}
	workerErrChan, workerShutdown := worker.RunWorkers(cfg, workerDeps, appLogger)

	g, groupCtx := errgroup.WithContext(appCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		sugarLogger.Infof("HTTP server listening on port %s", cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugarLogger.Errorf("HTTP server ListenAndServe error: %v", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		sugarLogger.Info("HTTP server stopped listening.")
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		sugarLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugarLogger.Errorf("HTTP server graceful shutdown failed: %v", err)
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		sugarLogger.Info("HTTP server shutdown complete.")
		return nil
	})

	g.Go(func() error {
		select {
		case err := <-workerErrChan:
			return err
		case <-groupCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
			defer cancel()
			workerShutdown(shutdownCtx)
			return nil
		}
	})

	sugarLogger.Info("Application started. Waiting for interrupt signal (Ctrl+C) or component error...")

	waitErr := g.Wait()

	sugarLogger.Info("Shutdown sequence finished.")

	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			sugarLogger.Info("Shutdown reason: Context canceled (likely due to OS signal).")
		} else if errors.Is(waitErr, http.ErrServerClosed) {
			sugarLogger.Info("Shutdown reason: HTTP server closed normally.")
		} else {
			sugarLogger.Errorf("Application shutdown finished with unexpected error: %v", waitErr)
		}
	} else {
		sugarLogger.Info("Application shutdown successfully (all components finished without errors).")
	}

	sugarLogger.Info("Application exiting now.")
}
