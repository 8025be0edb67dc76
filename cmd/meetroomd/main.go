package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetroom/internal/core/ports"
	"meetroom/internal/core/services"
	httphandlers "meetroom/internal/handlers/http"
	"meetroom/internal/infrastructure/media"
	"meetroom/internal/infrastructure/middleware"
	"meetroom/internal/infrastructure/monitoring"
	"meetroom/internal/infrastructure/pubsub"
	"meetroom/internal/infrastructure/recording"
	"meetroom/internal/infrastructure/reliability"
	"meetroom/internal/infrastructure/repositories"
	roomevents "meetroom/internal/infrastructure/signal"
	"meetroom/internal/infrastructure/storage"
	webrtcinfra "meetroom/internal/infrastructure/webrtc"
	"meetroom/pkg/config"
	"meetroom/pkg/logger"
	"meetroom/pkg/retry"
	"meetroom/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load config", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	log.Infow("loaded config", "path", *configPath)

	tp, err := tracing.Init(cfg.TracingConfig())
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	meetings := repoFactory.CreateMeetingRepository()

	bus := newPubSub(cfg, repoFactory, log)

	objectStorage, fileStorage, err := newStorage(cfg)
	if err != nil {
		log.Fatalw("failed to initialize recording storage", "backend", cfg.Storage.Backend, "error", err)
	}
	guardedStorage := reliability.NewStorageWrapper(objectStorage, cfg.Storage.CircuitBreaker, log)

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	health := monitoring.NewHealthChecker()
	health.AddRedisCheck(repoFactory.RedisClient(), 2*time.Second)
	health.AddBreakerCheck("recording_storage", guardedStorage)

	uploadRetry := retry.DefaultConfig()
	uploadRetry.Enabled = cfg.Storage.Retry.Enabled
	uploadRetry.MaxAttempts = cfg.Storage.Retry.MaxAttempts
	uploadRetry.InitialDelay = cfg.Storage.Retry.InitialDelay
	uploadRetry.MaxDelay = cfg.Storage.Retry.MaxDelay

	if cfg.Media.Video && cfg.Media.CameraFile == "" {
		log.Warn("media.video is set but media.camera_file is empty; joining audio-only")
		cfg.Media.Video = false
		if !cfg.Media.Audio {
			log.Fatal("no media source configured")
		}
	}

	rooms := services.NewRoomService(roomConfig(cfg), services.RoomDeps{
		PubSub: bus,
		Devices: media.NewDevices(media.DeviceConfig{
			CameraFile: cfg.Media.CameraFile,
			ScreenFile: cfg.Media.ScreenFile,
			ScreenLoop: cfg.Media.ScreenLoop,
			ToneHz:     cfg.Media.ToneHz,
			StreamID:   cfg.Media.StreamID,
		}, log),
		PeerFactory: webrtcinfra.NewPeerFactory(peerConfig(cfg), log),
		Encoders: recording.NewEncoderFactory(recording.Config{
			Timeslice: cfg.Recording.Timeslice,
			Width:     cfg.Recording.Width,
			Height:    cfg.Recording.Height,
		}, log),
		Storage:  guardedStorage,
		Meetings: meetings,
		Retry:    uploadRetry,
		Metrics:  collector,
	}, log)

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer)
	if cfg.Auth.DevTokens {
		log.Warn("dev token endpoint enabled")
	}

	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.DevTokens)
	meetingHandler := httphandlers.NewMeetingHandler(meetings, authService)
	roomHandler := httphandlers.NewRoomHandler(rooms, authService)
	events := roomevents.NewEventServer(rooms, authService, roomevents.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongTimeout:    cfg.WebSocket.PongTimeout,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	public := router.Group("/api/v1")
	protected := router.Group("/api/v1")
	protected.Use(middleware.AuthMiddleware(authService))

	authHandler.SetupRoutes(public, protected)
	meetingHandler.SetupRoutes(protected)
	roomHandler.SetupRoutes(protected)
	protected.GET("/rooms/:id/events", middleware.NewWebSocketRateLimitMiddleware(cfg), events.HandleRoomEvents)

	if fileStorage != nil {
		httphandlers.NewRecordingHandler(fileStorage).SetupRoutes(router)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"rooms":     rooms.Len(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting meetroom server", "address", cfg.Server.Address, "public_url", cfg.Server.PublicURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	// Rooms leave after the listener stops so no new joins race the
	// shutdown; pending recordings are uploaded on the way out.
	if err := rooms.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error leaving rooms", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("meetroom server stopped")
}

func roomConfig(cfg *config.Config) services.RoomConfig {
	rc := services.DefaultRoomConfig()
	rc.SyncInterval = cfg.Room.SyncInterval
	rc.NegotiationTimeout = cfg.WebRTC.NegotiationTimeout
	rc.ReannounceInterval = cfg.Admission.ReannounceInterval
	rc.RequestTTL = cfg.Admission.RequestTTL
	rc.AdmissionTimeout = cfg.Admission.Timeout
	rc.MaxParticipants = cfg.Room.MaxParticipants
	rc.ChatRate = rate.Limit(cfg.Room.ChatRate)
	rc.ChatBurst = cfg.Room.ChatBurst
	rc.ChatHistory = cfg.Room.ChatHistory
	rc.PublicURL = cfg.Server.PublicURL
	rc.Constraints = ports.MediaConstraints{Audio: cfg.Media.Audio, Video: cfg.Media.Video}
	return rc
}

func peerConfig(cfg *config.Config) webrtcinfra.Config {
	var pc webrtcinfra.Config
	for _, s := range cfg.WebRTC.ICEServers {
		pc.ICEServers = append(pc.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(pc.ICEServers) == 0 {
		pc.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	pc.PortRange.Min = cfg.WebRTC.PortRange.Min
	pc.PortRange.Max = cfg.WebRTC.PortRange.Max
	pc.IncludeLoopback = cfg.WebRTC.IncludeLoopback
	return pc
}

func newPubSub(cfg *config.Config, factory *repositories.RepositoryFactory, log *zap.SugaredLogger) ports.PubSub {
	if cfg.PubSub.Backend == "redis" {
		if client := factory.RedisClient(); client != nil {
			log.Info("using Redis signaling bus")
			return pubsub.NewRedisBus(client, cfg.PubSub.PresenceTTL, log)
		}
		log.Warn("Redis unavailable, signaling bus falls back to memory; rooms span this process only")
	}
	return pubsub.NewMemoryBus(log)
}

// newStorage returns the configured recording storage, plus the file
// storage when recordings are served by this process.
func newStorage(cfg *config.Config) (ports.ObjectStorage, *storage.FileStorage, error) {
	if cfg.Storage.Backend == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s3, err := storage.NewS3Storage(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, nil, err
		}
		return s3, nil, nil
	}
	fs, err := storage.NewFileStorage(cfg.Storage.File.BasePath, cfg.Storage.File.PublicURL)
	if err != nil {
		return nil, nil, err
	}
	return fs, fs, nil
}
