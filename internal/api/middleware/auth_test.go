package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	. "cronpilot/internal/api/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(config AuthConfig) *gin.Engine {
	router := gin.New()
	router.Use(AuthMiddleware(config))
	router.GET("/protected", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return router
}

func TestAuthMiddleware_NoneModePassesThrough(t *testing.T) {
	router := newAuthRouter(AuthConfig{Type: "none"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth type none, got %d", w.Code)
	}
}

func TestAuthMiddleware_BearerRejectsMissingToken(t *testing.T) {
	router := newAuthRouter(AuthConfig{Type: "bearer", Token: "secret"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no Authorization header, got %d", w.Code)
	}
}

func TestAuthMiddleware_BearerAcceptsMatchingStaticToken(t *testing.T) {
	router := newAuthRouter(AuthConfig{Type: "bearer", Token: "secret"})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with a matching static bearer token, got %d", w.Code)
	}
}

func TestAuthMiddleware_BearerRejectsWrongToken(t *testing.T) {
	router := newAuthRouter(AuthConfig{Type: "bearer", Token: "secret"})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a mismatched bearer token, got %d", w.Code)
	}
}

func TestAuthMiddleware_APIKeyAcceptsMatchingStaticToken(t *testing.T) {
	router := newAuthRouter(AuthConfig{Type: "apikey", Token: "k-123"})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "k-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with a matching static api key, got %d", w.Code)
	}
}

func TestAuthMiddleware_APIKeyUsesConfiguredHeaderName(t *testing.T) {
	router := newAuthRouter(AuthConfig{Type: "apikey", Token: "k-123", Header: "X-Custom-Key"})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-Custom-Key", "k-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 using the configured header name, got %d", w.Code)
	}
}

func TestAuthMiddleware_SkipPathsBypassAuth(t *testing.T) {
	router := newAuthRouter(AuthConfig{Type: "bearer", Token: "secret", SkipPaths: []string{"/health"}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected a skip-listed path to bypass auth, got %d", w.Code)
	}
}

func TestAuthMiddleware_UnsupportedTypeReturns500(t *testing.T) {
	router := newAuthRouter(AuthConfig{Type: "mutual-tls"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for an auth type the config shape never names, got %d", w.Code)
	}
}
