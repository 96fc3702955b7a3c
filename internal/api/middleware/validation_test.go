package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	. "cronpilot/internal/api/middleware"
)

func TestValidator_ValidateCommand_RejectsBlacklistedPattern(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	if err := v.ValidateCommand("rm -rf /"); err == nil {
		t.Fatal("expected a blacklisted command to be rejected")
	}
	if err := v.ValidateCommand("echo hello"); err != nil {
		t.Fatalf("expected a harmless command to pass, got %v", err)
	}
}

func TestValidator_ValidateCommand_RejectsOverLength(t *testing.T) {
	cfg := DefaultValidatorConfig()
	cfg.MaxCommandLength = 10
	v := NewValidator(cfg)

	if err := v.ValidateCommand(strings.Repeat("x", 11)); err == nil {
		t.Fatal("expected an over-length command to be rejected")
	}
}

func TestValidator_ValidateTaskKind(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	if err := v.ValidateTaskKind("shell"); err != nil {
		t.Fatalf("expected shell to be an allowed kind, got %v", err)
	}
	if err := v.ValidateTaskKind("not_a_kind"); err == nil {
		t.Fatal("expected an unlisted kind to be rejected")
	}
}

func TestValidator_ValidateName(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	if err := v.ValidateName(""); err == nil {
		t.Fatal("expected an empty name to be rejected")
	}
	cfg := DefaultValidatorConfig()
	cfg.MaxNameLength = 5
	v = NewValidator(cfg)
	if err := v.ValidateName("way too long"); err == nil {
		t.Fatal("expected an over-length name to be rejected")
	}
}

func TestBodySizeLimitMiddleware_RejectsOversizedContentLength(t *testing.T) {
	router := gin.New()
	router.Use(BodySizeLimitMiddleware(10))
	router.POST("/echo", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest("POST", "/echo", strings.NewReader(strings.Repeat("x", 20)))
	req.ContentLength = 20
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for a body over the configured limit, got %d", w.Code)
	}
}

func TestSecurityHeadersMiddleware_SetsDefensiveHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeadersMiddleware())
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options: nosniff")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options: DENY")
	}
}

func TestRequestIDMiddleware_GeneratesIDWhenAbsent(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated X-Request-ID header")
	}
}

func TestRequestIDMiddleware_HonorsInboundHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "caller-supplied-id" {
		t.Fatalf("expected the inbound request id to be echoed back, got %q", got)
	}
}

func TestTaskIDParam_RejectsNonUUID(t *testing.T) {
	router := gin.New()
	router.GET("/tasks/:id", func(c *gin.Context) {
		if _, ok := TaskIDParam(c); !ok {
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tasks/not-a-uuid", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-uuid id param, got %d", w.Code)
	}
}
