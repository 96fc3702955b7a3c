package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	. "cronpilot/internal/api/middleware"
)

func TestTracingMiddleware_SetsTraceIDHeaderWhenSampled(t *testing.T) {
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	router := gin.New()
	router.Use(TracingMiddleware("cronpilot-test"))
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected a sampled request to carry an X-Trace-ID response header")
	}
}

func TestTracingMiddleware_PassesThroughResponseStatus(t *testing.T) {
	router := gin.New()
	router.Use(TracingMiddleware("cronpilot-test"))
	router.GET("/missing", func(c *gin.Context) { c.String(http.StatusNotFound, "nope") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected the middleware to leave the handler's status untouched, got %d", w.Code)
	}
}
