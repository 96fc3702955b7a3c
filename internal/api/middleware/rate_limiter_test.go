package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	. "cronpilot/internal/api/middleware"
)

func TestRateLimiter_Allow_PermitsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Minute})

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-a") {
			t.Fatalf("expected request %d within burst size to be allowed", i)
		}
	}
	if rl.Allow("client-a") {
		t.Fatal("expected the request beyond burst size to be denied")
	}
}

func TestRateLimiter_Allow_TracksClientsIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})

	if !rl.Allow("client-a") {
		t.Fatal("expected client-a's first request to be allowed")
	}
	if rl.Allow("client-a") {
		t.Fatal("expected client-a's second request to be denied")
	}
	if !rl.Allow("client-b") {
		t.Fatal("expected client-b to have its own independent bucket")
	}
}

func TestRateLimiter_Allow_RefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 600, BurstSize: 1, CleanupInterval: time.Minute})

	if !rl.Allow("client-a") {
		t.Fatal("expected the first request to be allowed")
	}
	if rl.Allow("client-a") {
		t.Fatal("expected the immediate second request to be denied")
	}
	time.Sleep(150 * time.Millisecond)
	if !rl.Allow("client-a") {
		t.Fatal("expected a token to have refilled after waiting")
	}
}

func TestRateLimitMiddlewareWithConfig_RejectsOverLimit(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitMiddlewareWithConfig(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute}))
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/x", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected the first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("GET", "/x", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the second request to be rate limited, got %d", second.Code)
	}
}
