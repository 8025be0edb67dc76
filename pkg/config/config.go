package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"meetroom/internal/infrastructure/storage"
	"meetroom/pkg/circuitbreaker"
	"meetroom/pkg/tracing"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// PublicURL is the base of invite links handed to participants.
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`

	WebSocket struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
	} `yaml:"websocket"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		IncludeLoopback    bool          `yaml:"include_loopback"`
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	} `yaml:"webrtc"`

	Room struct {
		MaxParticipants int           `yaml:"max_participants"`
		SyncInterval    time.Duration `yaml:"sync_interval"`
		ChatRate        float64       `yaml:"chat_rate"`
		ChatBurst       int           `yaml:"chat_burst"`
		ChatHistory     int           `yaml:"chat_history"`
	} `yaml:"room"`

	Admission struct {
		ReannounceInterval time.Duration `yaml:"reannounce_interval"`
		RequestTTL         time.Duration `yaml:"request_ttl"`
		// Timeout bounds how long a joiner waits; zero waits until cancelled.
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"admission"`

	Recording struct {
		Timeslice time.Duration `yaml:"timeslice"`
		Width     int           `yaml:"width"`
		Height    int           `yaml:"height"`
	} `yaml:"recording"`

	Media struct {
		StreamID   string  `yaml:"stream_id"`
		CameraFile string  `yaml:"camera_file"`
		ScreenFile string  `yaml:"screen_file"`
		ScreenLoop bool    `yaml:"screen_loop"`
		ToneHz     float64 `yaml:"tone_hz"`
		Audio      bool    `yaml:"audio"`
		Video      bool    `yaml:"video"`
	} `yaml:"media"`

	Storage struct {
		Backend string `yaml:"backend"` // file or s3
		File    struct {
			BasePath  string `yaml:"base_path"`
			PublicURL string `yaml:"public_url"`
		} `yaml:"file"`
		S3 storage.S3Config `yaml:"s3"`
		Retry struct {
			Enabled      bool          `yaml:"enabled"`
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
		CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker"`
	} `yaml:"storage"`

	PubSub struct {
		Backend     string        `yaml:"backend"` // memory or redis
		PresenceTTL time.Duration `yaml:"presence_ttl"`
	} `yaml:"pubsub"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		// MeetingCacheTTL fronts meeting lookups with an in-process cache;
		// zero disables it.
		MeetingCacheTTL time.Duration `yaml:"meeting_cache_ttl"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		Issuer         string        `yaml:"issuer"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		// DevTokens exposes POST /auth/token so local clients can mint
		// their own identities. Never enable it in production.
		DevTokens bool `yaml:"dev_tokens"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int   `yaml:"connections_per_minute"`
			MaxConcurrent        int   `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64 `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket.ping_interval must be > 0")
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_timeout must be > ping_interval")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.NegotiationTimeout <= 0 {
		return fmt.Errorf("webrtc.negotiation_timeout must be > 0")
	}

	if c.Room.MaxParticipants < 2 {
		return fmt.Errorf("room.max_participants must be >= 2")
	}
	if c.Room.SyncInterval < 0 {
		return fmt.Errorf("room.sync_interval must be >= 0")
	}
	if c.Room.ChatRate < 0 || c.Room.ChatBurst < 0 {
		return fmt.Errorf("room.chat_rate and room.chat_burst must be >= 0")
	}
	if c.Room.ChatRate > 0 && c.Room.ChatBurst == 0 {
		return fmt.Errorf("room.chat_burst must be > 0 when room.chat_rate is set")
	}

	if c.Admission.ReannounceInterval <= 0 {
		return fmt.Errorf("admission.reannounce_interval must be > 0")
	}
	if c.Admission.RequestTTL < 0 {
		return fmt.Errorf("admission.request_ttl must be >= 0")
	}
	if c.Admission.RequestTTL > 0 && c.Admission.RequestTTL <= c.Admission.ReannounceInterval {
		return fmt.Errorf("admission.request_ttl must be > reannounce_interval")
	}
	if c.Admission.Timeout < 0 {
		return fmt.Errorf("admission.timeout must be >= 0")
	}

	if c.Recording.Timeslice <= 0 {
		return fmt.Errorf("recording.timeslice must be > 0")
	}
	if c.Recording.Width <= 0 || c.Recording.Height <= 0 {
		return fmt.Errorf("recording.width and recording.height must be > 0")
	}

	if !c.Media.Audio && !c.Media.Video {
		return fmt.Errorf("media.audio or media.video must be enabled")
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.File.BasePath == "" {
			return fmt.Errorf("storage.file.base_path must not be empty when storage.backend=file")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must not be empty when storage.backend=s3")
		}
	default:
		return fmt.Errorf("storage.backend must be file or s3, got %q", c.Storage.Backend)
	}
	if c.Storage.Retry.Enabled && c.Storage.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("storage.retry.max_attempts must be > 0 when retry is enabled")
	}
	if c.Storage.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("storage.circuit_breaker.failure_threshold must be > 0")
	}

	switch c.PubSub.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("pubsub.backend=redis requires redis.enabled=true")
		}
		if c.PubSub.PresenceTTL <= 0 {
			return fmt.Errorf("pubsub.presence_ttl must be > 0 when pubsub.backend=redis")
		}
	default:
		return fmt.Errorf("pubsub.backend must be memory or redis, got %q", c.PubSub.Backend)
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.PublicURL = "http://localhost:8080/"

	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.PongTimeout = 60 * time.Second

	cfg.WebRTC.NegotiationTimeout = 15 * time.Second

	cfg.Room.MaxParticipants = 8
	cfg.Room.SyncInterval = 10 * time.Second
	cfg.Room.ChatRate = 2
	cfg.Room.ChatBurst = 5
	cfg.Room.ChatHistory = 500

	cfg.Admission.ReannounceInterval = 20 * time.Second
	cfg.Admission.RequestTTL = 2 * time.Minute

	cfg.Recording.Timeslice = time.Second
	cfg.Recording.Width = 1280
	cfg.Recording.Height = 720

	cfg.Media.StreamID = "meetroom"
	cfg.Media.ToneHz = 440
	cfg.Media.Audio = true
	cfg.Media.Video = true

	cfg.Storage.Backend = "file"
	cfg.Storage.File.BasePath = "./recordings"
	cfg.Storage.Retry.Enabled = true
	cfg.Storage.Retry.MaxAttempts = 3
	cfg.Storage.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Storage.Retry.MaxDelay = 2 * time.Second
	cfg.Storage.CircuitBreaker = circuitbreaker.DefaultConfig()

	cfg.PubSub.Backend = "memory"
	cfg.PubSub.PresenceTTL = 30 * time.Second

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.MeetingCacheTTL = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	tc := tracing.DefaultConfig()
	cfg.Tracing.Enabled = tc.Enabled
	cfg.Tracing.ServiceName = tc.ServiceName
	cfg.Tracing.JaegerURL = tc.JaegerURL
	cfg.Tracing.Environment = tc.Environment
	cfg.Tracing.SampleRate = tc.SampleRate

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.Issuer = "meetroom"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

// TracingConfig converts the tracing section for tracing.Init.
func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		JaegerURL:   c.Tracing.JaegerURL,
		Environment: c.Tracing.Environment,
		SampleRate:  c.Tracing.SampleRate,
	}
}

func (c *Config) applyEnvOverrides() error {
	if addr := os.Getenv("MEETROOM_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("MEETROOM_PUBLIC_URL"); url != "" {
		c.Server.PublicURL = url
	}
	if level := os.Getenv("MEETROOM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("MEETROOM_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if dev := os.Getenv("MEETROOM_DEV_TOKENS"); dev != "" {
		enabled, err := strconv.ParseBool(dev)
		if err != nil {
			return fmt.Errorf("invalid MEETROOM_DEV_TOKENS %q: %w", dev, err)
		}
		c.Auth.DevTokens = enabled
	}
	if addr := os.Getenv("MEETROOM_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if backend := os.Getenv("MEETROOM_PUBSUB_BACKEND"); backend != "" {
		c.PubSub.Backend = backend
	}
	if backend := os.Getenv("MEETROOM_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if bucket := os.Getenv("MEETROOM_S3_BUCKET"); bucket != "" {
		c.Storage.S3.Bucket = bucket
	}
	if max := os.Getenv("MEETROOM_MAX_PARTICIPANTS"); max != "" {
		n, err := strconv.Atoi(max)
		if err != nil {
			return fmt.Errorf("invalid MEETROOM_MAX_PARTICIPANTS %q: %w", max, err)
		}
		c.Room.MaxParticipants = n
	}
	return nil
}
