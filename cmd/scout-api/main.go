// Command scout-api runs the HTTP progress API (spec.md §4.6, §4.7): a
// read-only surface over the progress and heartbeat stores, plus the
// queue's lease/deferred sweeper since some deployment needs to run it
// and the API process is as good a place as any lightweight singleton.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/scout/pkg/api"
	"github.com/codeready-toolchain/scout/pkg/config"
	"github.com/codeready-toolchain/scout/pkg/heartbeat"
	"github.com/codeready-toolchain/scout/pkg/kv"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/queue"
	"github.com/codeready-toolchain/scout/pkg/telemetry"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env, continuing with existing environment", "path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	cfg, err := config.Initialize(filepath.Join(*configDir, "agents.yaml"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	redisURL := getEnv("REDIS_URL", "redis://localhost:6379/0")
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("redis unreachable at boot", "error", err)
		os.Exit(1)
	}

	kvStore := kv.NewRedisStore(redisClient)
	q := queue.New(kvStore, cfg.QueueConfig.LeaseTimeout)
	prog := progress.New(kvStore)
	hb := heartbeat.New(kvStore)

	tel, err := telemetry.Init(ctx, telemetry.Config{Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), ServiceName: "scout-api"})
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	go q.RunSweeper(ctx, cfg.QueueConfig.SweepInterval, slog.Default())

	server := api.New(prog, hb, q, cfg.Agents)
	server.Tracer = tel.Tracer

	slog.Info("HTTP server listening", "port", httpPort)
	srv := &http.Server{Addr: ":" + httpPort, Handler: server.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("HTTP server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("HTTP server shut down cleanly")
}
