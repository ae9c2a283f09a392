package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaylink/internal/core/domain"
	"relaylink/internal/core/services"
	httphandlers "relaylink/internal/handlers/http"
	"relaylink/internal/infrastructure/media"
	"relaylink/internal/infrastructure/middleware"
	"relaylink/internal/infrastructure/monitoring"
	signalclient "relaylink/internal/infrastructure/signal"
	webrtcinfra "relaylink/internal/infrastructure/webrtc"
	"relaylink/pkg/auth"
	"relaylink/pkg/config"
	"relaylink/pkg/logger"
	"relaylink/pkg/retry"
	"relaylink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const controlTokenTTL = 24 * time.Hour

func main() {
	issueToken := flag.String("issue-token", "", "print a control API token for `subject` and exit")
	flag.Parse()

	configPaths := []string{
		os.Getenv("RELAYLINK_CONFIG"),
		"configs/relaylink.yaml",
		"relaylink.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err = config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid config %s: %v\n", path, err)
			os.Exit(1)
		}
		break
	}
	if cfg == nil {
		cfg, _ = config.Load("")
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	var tokens *auth.TokenService
	if cfg.Control.JWTSecret != "" {
		tokens = auth.NewTokenService(cfg.Control.JWTSecret, controlTokenTTL)
	}

	if *issueToken != "" {
		if tokens == nil {
			log.Fatal("control.jwt_secret must be set to issue tokens")
		}
		token, err := tokens.GenerateToken(*issueToken)
		if err != nil {
			log.Fatalw("failed to issue token", "error", err)
		}
		fmt.Println(token)
		return
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector()

	signaling := signalclient.NewClient(signalclient.Config{
		URL:          cfg.Signaling.URL,
		SDKVersion:   cfg.Signaling.SDKVersion,
		PingInterval: cfg.Signaling.PingInterval,
		CallTimeout:  cfg.Signaling.CallTimeout,
		Dial: retry.Config{
			MaxAttempts:  cfg.Signaling.DialAttempts,
			InitialDelay: cfg.Signaling.DialBackoff,
			MaxDelay:     10 * cfg.Signaling.DialBackoff,
			Multiplier:   2.0,
			Jitter:       true,
		},
		TraceMessages: cfg.Logging.Level == "debug",
	}, collector, log.Named("signal"))

	engineCfg := webrtcinfra.Config{}
	for _, s := range cfg.WebRTC.ICEServers {
		engineCfg.ICEServers = append(engineCfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	engineCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	engineCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	engine, err := webrtcinfra.NewEngine(engineCfg, collector, log.Named("webrtc"))
	if err != nil {
		log.Fatalw("failed to create webrtc engine", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acquirer := media.NewAcquirer(media.AcquirerConfig{
		AnalysisBufferSize: cfg.Media.AnalysisBufferSize,
		Audio:              cfg.Media.Audio,
		Video:              cfg.Media.Video,
	}, log.Named("media"))
	acquirer.OnAcquire = func(source *media.LocalSource) {
		go func() {
			if err := media.FeedSilence(ctx, source, cfg.Media.SampleRate); err != nil && ctx.Err() == nil {
				log.Warnw("silence feeder stopped", "source_id", source.ID(), "error", err)
			}
		}()
	}

	orchestrator := services.NewSessionOrchestrator(signaling, engine, acquirer, collector, log.Named("session"),
		services.OrchestratorConfig{
			Detector: services.DetectorConfig{
				TimeThreshold:    cfg.AudioLevel.TimeThreshold,
				SilenceThreshold: cfg.AudioLevel.AmplitudeThreshold,
				HighThreshold:    cfg.AudioLevel.HighAmplitudeThreshold,
				SampleInterval:   cfg.AudioLevel.SampleInterval,
				MaxEmitInterval:  cfg.AudioLevel.MaxEmitInterval,
			},
			WorkflowTimeout: cfg.Session.WorkflowTimeout,
		})

	events := httphandlers.NewEventStream(log.Named("events"))
	events.Observe(orchestrator.Notifier())

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Session.WorkflowTimeout)
	err = orchestrator.Connect(connectCtx, domain.AuthParams{DeviceToken: cfg.Auth.DeviceToken}, domain.ConnectOptions{})
	connectCancel()
	if err != nil {
		log.Fatalw("failed to connect to the media relay", "error", err)
	}

	health := monitoring.NewHealthChecker()
	health.AddSignalingCheck(signaling.Connected, 30*time.Second, 2*time.Second)
	health.AddSessionCheck(orchestrator.Removed, 30*time.Second, 2*time.Second)
	health.StartBackgroundChecks(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Control.Enabled {
		srv = &http.Server{
			Addr:         cfg.Control.Address,
			Handler:      newRouter(cfg, orchestrator, health, collector, events, tokens, zapLogger),
			ReadTimeout:  cfg.Control.ReadTimeout,
			WriteTimeout: cfg.Control.WriteTimeout,
		}
		go func() {
			log.Infof("Starting relaylink control API on %s", cfg.Control.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	select {
	case err := <-serverErr:
		log.Errorw("control API failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down relaylink...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("Error force closing server", "error", closeErr)
			}
		}
	}

	if err := orchestrator.Disconnect(); err != nil {
		log.Errorw("Error disconnecting from the media relay", "error", err)
	}
	cancel()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error flushing traces", "error", err)
	}

	log.Info("relaylink stopped")
}

func newRouter(
	cfg *config.Config,
	session *services.SessionOrchestrator,
	health *monitoring.HealthChecker,
	collector *monitoring.PrometheusCollector,
	events *httphandlers.EventStream,
	tokens *auth.TokenService,
	zapLogger *zap.Logger,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := zapLogger.Sugar()

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	var metrics http.Handler
	if cfg.Monitoring.PrometheusEnabled {
		metrics = collector.Handler()
	}

	handler := httphandlers.NewSessionHandler(session, health, metrics, events, log.Named("control"))
	handler.SetupRoutes(router, middleware.AuthMiddleware(tokens))
	return router
}
