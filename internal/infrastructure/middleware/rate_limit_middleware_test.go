package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"meetroom/pkg/config"

	"github.com/gin-gonic/gin"
)

func serve(router *gin.Engine, remoteAddr string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	router.ServeHTTP(w, req)
	return w.Code
}

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		if code := serve(router, ""); code != http.StatusOK {
			t.Fatalf("expected status 200 on request %d, got %d", i+1, code)
		}
	}
}

// Test basic per-IP rate limiting behaviour.
func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	if code := serve(router, "10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", code)
	}
	if code := serve(router, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", code)
	}
	// another client has its own bucket
	if code := serve(router, "10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("expected status 200 for a different client, got %d", code)
	}
}

func TestWebSocketRateLimitMiddleware_ConcurrentCap(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 1

	entered := make(chan struct{})
	release := make(chan struct{})
	router := gin.New()
	router.Use(NewWebSocketRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		entered <- struct{}{}
		<-release
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() { done <- serve(router, "10.0.0.1:1") }()
	<-entered

	if code := serve(router, "10.0.0.2:1"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 while the slot is held, got %d", code)
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected status 200 for the held connection, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if got := clientIP(req); got != "192.0.2.10" {
		t.Fatalf("clientIP() = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("clientIP() with X-Forwarded-For = %q", got)
	}
}
