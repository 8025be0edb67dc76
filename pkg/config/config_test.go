package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 10
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to be valid, got: %v", err)
	}
	if err := validBaseConfig().Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"pong not after ping", func(c *Config) { c.WebSocket.PongTimeout = c.WebSocket.PingInterval }},
		{"half port range", func(c *Config) { c.WebRTC.PortRange.Min = 50000 }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 50010
			c.WebRTC.PortRange.Max = 50000
		}},
		{"zero negotiation timeout", func(c *Config) { c.WebRTC.NegotiationTimeout = 0 }},
		{"room of one", func(c *Config) { c.Room.MaxParticipants = 1 }},
		{"chat rate without burst", func(c *Config) { c.Room.ChatBurst = 0 }},
		{"zero reannounce interval", func(c *Config) { c.Admission.ReannounceInterval = 0 }},
		{"ttl shorter than reannounce", func(c *Config) { c.Admission.RequestTTL = 10 * time.Second }},
		{"zero timeslice", func(c *Config) { c.Recording.Timeslice = 0 }},
		{"no media", func(c *Config) {
			c.Media.Audio = false
			c.Media.Video = false
		}},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }},
		{"retry without attempts", func(c *Config) { c.Storage.Retry.MaxAttempts = 0 }},
		{"redis pubsub without redis", func(c *Config) { c.PubSub.Backend = "redis" }},
		{"unknown pubsub backend", func(c *Config) { c.PubSub.Backend = "kafka" }},
		{"tracing sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"http rps must be > 0", func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"http burst must be > 0", func(c *Config) { c.RateLimiting.HTTP.Burst = 0 }},
		{"http max concurrent must be >= 0", func(c *Config) { c.RateLimiting.HTTP.MaxConcurrent = -1 }},
		{"ws connections per minute must be > 0", func(c *Config) { c.RateLimiting.WebSocket.ConnectionsPerMinute = 0 }},
		{"ws max message size must be >= 0", func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_ZeroRequestTTLDisablesExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Admission.RequestTTL = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected zero request ttl to be valid, got: %v", err)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  address: ":9000"
room:
  max_participants: 4
admission:
  request_ttl: 0s
storage:
  backend: s3
  s3:
    bucket: recordings
    region: eu-west-1
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETROOM_LOG_LEVEL", "debug")
	t.Setenv("MEETROOM_MAX_PARTICIPANTS", "6")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Room.MaxParticipants != 6 {
		t.Errorf("env override not applied, max participants = %d", cfg.Room.MaxParticipants)
	}
	if cfg.Admission.RequestTTL != 0 {
		t.Errorf("request ttl = %v", cfg.Admission.RequestTTL)
	}
	if cfg.Storage.S3.Bucket != "recordings" || cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("s3 section = %+v", cfg.Storage.S3)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	// untouched sections keep their defaults
	if cfg.Recording.Timeslice != time.Second {
		t.Errorf("timeslice = %v", cfg.Recording.Timeslice)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
}

func TestLoad_RejectsBadEnv(t *testing.T) {
	t.Setenv("MEETROOM_MAX_PARTICIPANTS", "lots")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for non-numeric MEETROOM_MAX_PARTICIPANTS")
	}
}
