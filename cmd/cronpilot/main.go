// Command cronpilot runs the full scheduler as one process: the engine,
// its trigger sources, and (when configured) the HTTP transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cronpilot/internal/aiclient"
	"cronpilot/internal/api"
	"cronpilot/internal/auth"
	"cronpilot/internal/config"
	"cronpilot/internal/engine"
	"cronpilot/internal/executor"
	"cronpilot/internal/executor/runner"
	"cronpilot/internal/logger"
	"cronpilot/internal/models"
	"cronpilot/internal/observability"
	"cronpilot/internal/smartschedule"
	"cronpilot/internal/store"
	"cronpilot/internal/store/blobstore"
	"cronpilot/internal/store/postgresstore"
	"cronpilot/internal/store/sqlitestore"
	"cronpilot/internal/stream"

	"github.com/redis/go-redis/v9"
)

func main() {
	var explicitConfigPath string
	if len(os.Args) > 1 {
		explicitConfigPath = os.Args[1]
	}

	cfg, err := config.Load(explicitConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cronpilot: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.DefaultConfig("cronpilot"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cronpilot: logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tracing, err := observability.Init(context.Background(), observability.DefaultConfig("cronpilot"))
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tracing.Shutdown(context.Background())
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	if n, err := st.MarkOrphansFailed(context.Background()); err != nil {
		log.Warn("orphan recovery failed", zap.Error(err))
	} else if n > 0 {
		log.Info("recovered orphaned executions", zap.Int64("count", n))
	}

	var broadcaster *stream.Broadcaster
	redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	if b, err := stream.New(redisAddr); err != nil {
		log.Warn("live progress streaming disabled: redis unreachable", zap.Error(err))
	} else {
		broadcaster = b
		defer broadcaster.Close()
	}

	aiClient := aiclient.New(cfg.AIServiceURL)

	registry := executor.NewRegistry()
	registry.Register(models.TaskKindShell, runner.NewShellRunner())
	promptRunner := aiclient.NewPromptRunner(aiClient)
	registry.Register(models.TaskKindAIPrompt, promptRunner)
	registry.Register(models.TaskKindSlashCommand, promptRunner)
	registry.Register(models.TaskKindSubagent, promptRunner)
	registry.Register(models.TaskKindToolInvoke, promptRunner)
	registry.Register(models.TaskKindGenericAIQuery, promptRunner)

	smart := smartschedule.NewResolver(log, aiClient, cfg.AIEnabled)

	var predictor engine.FailurePredictor
	if cfg.AIEnabled {
		predictor = predictorAdapter{client: aiClient}
	}

	blobs, err := openBlobStore()
	if err != nil {
		log.Warn("output overflow blob store disabled", zap.Error(err))
		blobs = nil
	}

	eng := engine.New(log, st, registry, blobs, broadcaster, smart, predictor, engine.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		DefaultTimezone:    cfg.Scheduler.DefaultTimezone,
		AIEnabled:          cfg.AIEnabled,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatal("engine failed to start", zap.Error(err))
	}
	defer eng.Stop()
	log.Info("engine started", zap.String("default_timezone", cfg.Scheduler.DefaultTimezone))

	var httpServer *api.Server
	if cfg.Transport == "http" {
		httpCfg := buildHTTPConfig(cfg)
		serverCfg := api.Config{Log: log, Engine: eng, HTTP: httpCfg}

		switch httpCfg.Auth.Type {
		case "bearer":
			if cfg.JWTSecret != "" {
				jwtSvc, err := auth.NewJWTService(auth.JWTConfig{
					SecretKey:   cfg.JWTSecret,
					Issuer:      cfg.JWTIssuer,
					TokenExpiry: time.Hour,
				})
				if err != nil {
					log.Warn("jwt service disabled, falling back to static bearer token", zap.Error(err))
				} else {
					serverCfg.JWTService = jwtSvc
				}
			}
		case "apikey":
			serverCfg.APIKeyStore = newRedisAPIKeyStore(cfg)
		}

		httpServer = api.NewServer(serverCfg)
		go func() {
			if err := httpServer.Start(); err != nil {
				log.Error("http transport stopped", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http transport shutdown error", zap.Error(err))
		}
	}

	cancel()
	log.Info("shutdown complete")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Type {
	case "remote":
		return postgresstore.New(postgresstore.Config{DSN: cfg.Storage.URL})
	default:
		path := cfg.Storage.Path
		if path == "" {
			path = "cronpilot.db"
		}
		return sqlitestore.New(path)
	}
}

// openBlobStore wires the Redis-adjacent S3 overflow store when the
// AWS environment is configured; a deployment with no bucket configured
// falls back to inline-only output, truncated past the 64KB threshold.
func openBlobStore() (blobstore.Store, error) {
	bucket := os.Getenv("CRONPILOT_BLOB_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("blobstore: CRONPILOT_BLOB_BUCKET not set")
	}
	return blobstore.NewS3Store(blobstore.S3Config{
		Bucket:   bucket,
		Prefix:   os.Getenv("CRONPILOT_BLOB_PREFIX"),
		Region:   os.Getenv("AWS_REGION"),
		Endpoint: os.Getenv("CRONPILOT_BLOB_ENDPOINT"),
	})
}

func buildHTTPConfig(cfg *config.Config) *config.HTTPConfig {
	if cfg.HTTP != nil {
		return cfg.HTTP
	}
	return &config.HTTPConfig{Port: 8080, Host: "0.0.0.0"}
}

// predictorAdapter narrows aiclient.Client's richer PredictionResponse
// down to the engine's FailurePredictor contract.
type predictorAdapter struct {
	client *aiclient.Client
}

func (p predictorAdapter) PredictFailure(ctx context.Context, taskID string, features map[string]interface{}) (string, float64, error) {
	resp, err := p.client.PredictFailure(ctx, taskID, features)
	if err != nil {
		return "", 0, err
	}
	return resp.Decision, resp.Confidence, nil
}

// newRedisAPIKeyStore constructs the apikey-mode store from the same
// Redis address used for live-progress streaming.
func newRedisAPIKeyStore(cfg *config.Config) auth.APIKeyStore {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
	})
	return auth.NewRedisAPIKeyStore(client)
}
