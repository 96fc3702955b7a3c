// Package api is the HTTP transport: task CRUD, manual execution,
// execution history and live progress, and the test-only hook-delivery
// endpoint, all backed by the engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cronpilot/internal/api/middleware"
	"cronpilot/internal/auth"
	"cronpilot/internal/config"
	"cronpilot/internal/engine"
)

// Server wraps the gin router and the HTTP listener lifecycle.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger
	engine     *engine.Engine
}

// Config wires a Server to its engine and auth policy. Only
// one of JWTService/APIKeyStore is consulted, per HTTP.Auth.Type.
type Config struct {
	Log         *zap.Logger
	Engine      *engine.Engine
	HTTP        *config.HTTPConfig
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
}

// NewServer builds the gin router, registers the middleware chain and
// routes, and wraps it in an *http.Server bound to cfg.HTTP.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.TracingMiddleware("cronpilot"))
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger(cfg.Log))
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	if cfg.HTTP != nil && cfg.HTTP.Auth.Type != "" && cfg.HTTP.Auth.Type != "none" {
		router.Use(middleware.AuthMiddleware(middleware.AuthConfig{
			Type:        cfg.HTTP.Auth.Type,
			Token:       cfg.HTTP.Auth.Token,
			Header:      cfg.HTTP.Auth.Header,
			JWTService:  cfg.JWTService,
			APIKeyStore: cfg.APIKeyStore,
			SkipPaths:   []string{"/health", "/metrics"},
		}))
	}

	if cfg.HTTP != nil && cfg.HTTP.CORS.Enabled {
		router.Use(corsMiddleware(cfg.HTTP.CORS.Origins))
	}

	s := &Server{
		router: router,
		log:    cfg.Log,
		engine: cfg.Engine,
	}
	s.registerRoutes()

	port := 8080
	host := "0.0.0.0"
	if cfg.HTTP != nil {
		if cfg.HTTP.Port != 0 {
			port = cfg.HTTP.Port
		}
		if cfg.HTTP.Host != "" {
			host = cfg.HTTP.Host
		}
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info("starting http transport", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: listen and serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http transport")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", s.createTask)
			tasks.GET("", s.listTasks)
			tasks.GET("/:id", s.getTask)
			tasks.PUT("/:id", s.updateTask)
			tasks.DELETE("/:id", s.deleteTask)
			tasks.POST("/:id/execute", s.executeTask)
			tasks.GET("/:id/executions", s.listTaskExecutions)
		}

		executions := v1.Group("/executions")
		{
			executions.GET("/:id", s.getExecution)
			executions.GET("/:id/progress", s.streamProgress)
		}

		// Test-only trigger-hook delivery endpoint: lets an external
		// caller (or a test harness) fire a hook event directly.
		v1.POST("/hooks/:event", s.deliverHook)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"cpu_cores": engine.DetectedCPUCores(),
	})
}
