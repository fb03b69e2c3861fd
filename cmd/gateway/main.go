package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/services"
	httphandlers "gridsync/internal/handlers/http"
	"gridsync/internal/infrastructure/distributed"
	"gridsync/internal/infrastructure/middleware"
	"gridsync/internal/infrastructure/monitoring"
	"gridsync/internal/infrastructure/realtime"
	regmemory "gridsync/internal/infrastructure/registries/memory"
	"gridsync/internal/infrastructure/reliability"
	repositories "gridsync/internal/infrastructure/repositories"
	"gridsync/pkg/circuitbreaker"
	"gridsync/pkg/config"
	"gridsync/pkg/logger"
	"gridsync/pkg/retry"
	"gridsync/pkg/tracing"
	"gridsync/pkg/utils"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/gridsync/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.DefaultConfig())
	if err != nil {
		log.Warnw("failed to initialize tracing", "error", err)
	}

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	// The cache and filter read the raw repository so storage errors reach
	// their callers unchanged; the admin API goes through the reliability
	// wrapper.
	membershipRepo := repoFactory.CreateMembershipRepository()
	recordRepo := repoFactory.CreateRecordRepository()
	adminRepo := reliability.NewMembershipRepositoryWrapper(
		membershipRepo,
		retry.DefaultConfig(),
		circuitbreaker.DefaultConfig(),
		log,
	)

	// Initialize core services
	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	permissionCache := services.NewPermissionCache(membershipRepo, cfg.Permissions.CacheTTL)
	subscriptions := regmemory.NewMemorySubscriptionRegistry()

	// Initialize monitoring
	collector := monitoring.NewPrometheusCollector()

	// Initialize realtime gateway
	gateway := realtime.NewWebSocketServer(
		authService,
		permissionCache,
		subscriptions,
		membershipRepo,
		collector,
		log,
	)
	gateway.SetPingInterval(cfg.Gateway.PingInterval)
	gateway.SetPongTimeout(cfg.Gateway.PongTimeout)
	gateway.SetRecordSource(recordRepo)

	propagator := services.NewPermissionPropagator(permissionCache, gateway, subscriptions, log)

	instanceID := utils.GenerateID("instance")

	// Cross-instance coordination needs redis; without it the gateway runs
	// single-instance and the bus and index stay nil.
	var revocationBus *distributed.RevocationBus
	var connectionIndex *distributed.SharedConnectionIndex
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()

	if client := repoFactory.RedisClient(); client != nil {
		revocationBus = distributed.NewRevocationBus(client, instanceID, log)
		connectionIndex = distributed.NewSharedConnectionIndex(client, instanceID, log)
		gateway.SetConnectionIndex(connectionIndex)

		go func() {
			err := revocationBus.Subscribe(busCtx, func(ctx context.Context, event *distributed.Event) error {
				switch event.Type {
				case distributed.EventMembershipRevoked:
					propagator.OnMembershipRevoked(ctx, event.UserID, event.TenantID)
				case distributed.EventRoleChanged:
					propagator.OnRoleChanged(ctx, event.UserID, event.TenantID, event.OldRole, event.NewRole)
				case distributed.EventMembershipGranted:
					// Nothing to tear down; local snapshots refresh on TTL.
				}
				return nil
			})
			if err != nil && busCtx.Err() == nil {
				log.Errorw("revocation bus subscription terminated", "error", err)
			}
		}()

		log.Infow("cross-instance propagation enabled", "instance_id", instanceID)
	}

	// Initialize health checker
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("storage", func(ctx context.Context) (bool, error) {
		if err := repoFactory.HealthCheck(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, 2*time.Second)
	healthChecker.AddCheck("membership_breaker", func(ctx context.Context) (bool, error) {
		return adminRepo.BreakerState() != circuitbreaker.StateOpen, nil
	}, time.Second)

	// Initialize HTTP handlers
	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.ProvisioningKey, cfg.Auth.AccessTokenTTL)

	var publisher httphandlers.RevocationPublisher
	if revocationBus != nil {
		publisher = revocationBus
	}
	membershipHandler := httphandlers.NewMembershipHandler(adminRepo, propagator, publisher, collector, log)
	if connectionIndex != nil {
		membershipHandler.SetMembershipLocker(connectionIndex)
	}
	recordHandler := httphandlers.NewRecordHandler(recordRepo, gateway, log)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	// Setup auth routes (public)
	authHandler.SetupRoutes(router)

	// Membership admin routes: any member may list, admins manage
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	{
		members := api.Group("/tenants/:tenantId/members")
		members.GET("", middleware.TenantRoleMiddleware(adminRepo, domain.RoleViewer), membershipHandler.ListMembers)
		members.POST("", middleware.TenantRoleMiddleware(adminRepo, domain.RoleAdmin), membershipHandler.GrantMembership)
		members.PUT("/:userId", middleware.TenantRoleMiddleware(adminRepo, domain.RoleAdmin), membershipHandler.UpdateRole)
		members.DELETE("/:userId", middleware.TenantRoleMiddleware(adminRepo, domain.RoleAdmin), membershipHandler.RevokeMembership)

		records := api.Group("/tenants/:tenantId/records")
		records.Use(middleware.TenantRoleMiddleware(adminRepo, domain.RoleMember))
		recordHandler.SetupRoutes(records)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":      status.Status,
			"timestamp":   status.Timestamp,
			"checks":      status.Checks,
			"uptime":      time.Since(startTime).String(),
			"connections": gateway.ConnectionCount(),
		})
	})

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "not_ready",
				"timestamp":    time.Now(),
				"dependencies": "unhealthy",
				"error":        err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       "ready",
			"timestamp":    time.Now(),
			"dependencies": "ok",
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Admin/API server
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Realtime gateway server on its own listener
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", gateway.HandleWebSocket)
	wsMux.HandleFunc("/health", gateway.HealthCheck)
	wsSrv := &http.Server{
		Addr:    cfg.Gateway.Address,
		Handler: wsMux,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting gridsync API server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting gridsync gateway on %s", cfg.Gateway.Address)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down gridsync...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	busCancel()
	if revocationBus != nil {
		if err := revocationBus.Close(); err != nil {
			log.Errorw("Error closing revocation bus", "error", err)
		}
	}
	if connectionIndex != nil {
		if err := connectionIndex.CleanupInstanceConnections(shutdownCtx, instanceID); err != nil {
			log.Errorw("Error cleaning up shared connection index", "error", err)
		}
	}

	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during gateway shutdown", "error", err)
		wsSrv.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down tracer", "error", err)
		}
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("gridsync stopped")
}
