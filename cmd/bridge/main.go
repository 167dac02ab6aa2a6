package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kvmbridge/internal/core/ports"
	"kvmbridge/internal/core/services"
	httphandlers "kvmbridge/internal/handlers/http"
	wshandlers "kvmbridge/internal/handlers/ws"
	"kvmbridge/internal/infrastructure/device"
	"kvmbridge/internal/infrastructure/middleware"
	"kvmbridge/internal/infrastructure/monitoring"
	"kvmbridge/internal/infrastructure/reliability"
	"kvmbridge/internal/infrastructure/repositories/memory"
	signalrelay "kvmbridge/internal/infrastructure/signal"
	"kvmbridge/internal/infrastructure/sshstats"
	"kvmbridge/pkg/circuitbreaker"
	"kvmbridge/pkg/config"
	"kvmbridge/pkg/logger"
	"kvmbridge/pkg/retry"
	"kvmbridge/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/kvmbridge/config.yaml",
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
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if cfg.Device.BaseURL == "" {
		log.Fatal("device.base_url is not configured")
	}

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "kvmbridge",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Metrics
	collector := monitoring.NewPrometheusCollector()

	// Device access
	newClient := func() ports.DeviceClient {
		return device.NewClient(cfg.Device.BaseURL, cfg.Device.RequestTimeout, logger.WithComponent(zapLogger, "device"))
	}
	pollClient := newClient()

	sshHost := deviceHost(cfg.Device.BaseURL)
	sshCollector := sshstats.NewCollector(sshstats.Config{
		Host:     sshHost,
		Port:     cfg.SSH.Port,
		Username: cfg.SSH.Username,
		Password: cfg.Device.Password,
		Timeout:  cfg.SSH.Timeout,
	})

	snapshots := memory.NewMemorySnapshotRepository()

	coordCfg := services.CoordinatorConfig{
		Username:     cfg.Device.Username,
		Password:     cfg.Device.Password,
		Interval:     cfg.Poll.Interval,
		FetchTimeout: cfg.Poll.FetchTimeout,
	}
	coordinator := services.NewCoordinator(
		coordCfg,
		pollClient,
		newClient,
		sshCollector,
		snapshots,
		collector,
		logger.WithComponent(zapLogger, "coordinator"),
	)

	// Verify device credentials up front, with backoff for devices still
	// booting when the bridge starts.
	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	err = retry.Do(startCtx, retry.DefaultConfig(), func() error {
		return pollClient.Authenticate(startCtx, cfg.Device.Username, cfg.Device.Password)
	})
	startCancel()
	if err != nil {
		// The coordinator re-authenticates on its first cycle, so a device
		// that is still offline does not block startup.
		log.Warnw("initial device authentication failed, continuing unauthenticated",
			"device", cfg.Device.BaseURL, "error", err)
	} else {
		log.Infow("device authenticated", "device", cfg.Device.BaseURL)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	go coordinator.Run(rootCtx)

	// Signaling relay
	connInfo := func() (ports.ConnectionInfo, bool) {
		if cfg.Device.BaseURL == "" {
			return ports.ConnectionInfo{}, false
		}
		return ports.ConnectionInfo{
			BaseURL:  cfg.Device.BaseURL,
			Username: cfg.Device.Username,
			Password: cfg.Device.Password,
		}, true
	}
	relay := signalrelay.NewRelay(
		signalrelay.Config{
			LoginTimeout:         cfg.Device.LoginTimeout,
			HeartbeatInterval:    cfg.WebRTC.HeartbeatInterval,
			MaxPendingCandidates: cfg.WebRTC.MaxPendingCandidates,
		},
		connInfo,
		device.NewStreamAuthenticator(),
		collector,
		logger.WithComponent(zapLogger, "relay"),
	)
	relay.Start(rootCtx)

	// Control commands share the coordinator's session but go through the
	// circuit breaker.
	controlClient := reliability.NewDeviceClientWrapper(
		coordinator.Client,
		circuitbreaker.DefaultConfig(),
		collector,
		logger.WithComponent(zapLogger, "control"),
	)

	// Health
	health := monitoring.NewHealthChecker()
	repo := snapshots.(*memory.MemorySnapshotRepository)
	health.AddCheck("device_poll", monitoring.SnapshotFreshnessCheck(repo.UpdatedAt, 3*cfg.Poll.Interval), 2*time.Second)

	// Bridge API auth
	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.Username,
		cfg.Auth.Password,
	)

	// Handlers
	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	stateHandler := httphandlers.NewStateHandler(snapshots, health)
	controlHandler := httphandlers.NewControlHandler(func() ports.DeviceClient { return controlClient })
	viewerGateway := wshandlers.NewViewerGateway(relay, logger.WithComponent(zapLogger, "viewer"))

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)
	router.GET("/health", stateHandler.HealthCheck)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	stateHandler.SetupRoutes(api)
	controlHandler.SetupRoutes(api)
	viewerGateway.SetupRoutes(api)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting kvmbridge on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down kvmbridge...")
	rootCancel()
	relay.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if err := sshCollector.Disconnect(); err != nil {
		log.Debugw("ssh disconnect on shutdown", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("kvmbridge stopped")
}

// deviceHost extracts the hostname from the device base URL for SSH.
func deviceHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
