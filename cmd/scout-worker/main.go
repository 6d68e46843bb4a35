// Command scout-worker runs one configured agent's worker loop: it reads
// AGENT_NAME from the environment, looks up that agent's static
// declaration, wires the concrete execute_fn/tools its label set needs,
// and blocks in Agent.Run until SIGTERM/SIGINT. One OS process per agent
// name; horizontal scale is replicating processes (spec.md §4.2, §5).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/codeready-toolchain/scout/pkg/agent"
	"github.com/codeready-toolchain/scout/pkg/config"
	"github.com/codeready-toolchain/scout/pkg/fanin"
	"github.com/codeready-toolchain/scout/pkg/heartbeat"
	"github.com/codeready-toolchain/scout/pkg/kv"
	"github.com/codeready-toolchain/scout/pkg/llm"
	"github.com/codeready-toolchain/scout/pkg/platform"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/queue"
	"github.com/codeready-toolchain/scout/pkg/react"
	"github.com/codeready-toolchain/scout/pkg/store"
	"github.com/codeready-toolchain/scout/pkg/task"
	"github.com/codeready-toolchain/scout/pkg/telemetry"
	"github.com/codeready-toolchain/scout/pkg/tool"
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

	agentName := os.Getenv("AGENT_NAME")
	if agentName == "" {
		slog.Error("AGENT_NAME is required")
		os.Exit(1)
	}

	cfg, err := config.Initialize(filepath.Join(*configDir, "agents.yaml"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	agentCfg, err := cfg.Agents.Get(agentName)
	if err != nil {
		slog.Error("unknown agent", "agent", agentName, "error", err)
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
	fi := fanin.New(kvStore, q, prog)

	tel, err := telemetry.Init(ctx, telemetry.Config{Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), ServiceName: "scout-worker"})
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	go q.RunSweeper(ctx, cfg.QueueConfig.SweepInterval, slog.Default())

	a := agent.New(agentName, agentCfg.Labels, q, hb, prog, fi)
	a.FanInEnabled = agentCfg.FanIn
	a.AIEnabled = agentCfg.AIEnabled
	a.Log = slog.Default().With("agent", agentName)
	a.Tracer = tel.Tracer

	contentStore, closeStore := maybeConnectStore(ctx)
	if closeStore != nil {
		defer closeStore()
	}

	if err := wireExecution(a, agentCfg, fi, prog, contentStore, tel.Tracer); err != nil {
		slog.Error("failed to wire agent execution", "agent", agentName, "error", err)
		os.Exit(1)
	}

	slog.Info("starting agent", "agent", agentName, "labels", agentCfg.Labels, "ai_enabled", agentCfg.AIEnabled, "fan_in", agentCfg.FanIn)
	if err := a.Run(ctx); err != nil {
		slog.Error("agent run exited with error", "agent", agentName, "error", err)
		os.Exit(1)
	}
	slog.Info("agent shut down cleanly", "agent", agentName)
}

// maybeConnectStore connects the relational store only when DATABASE_URL
// is set, so a deployment without crawler agents need not provision one:
// the searcher never touches Postgres, and the analyst reads content back
// only when a store is connected.
func maybeConnectStore(ctx context.Context) (*store.Client, func()) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, nil
	}
	cfg, err := parseDatabaseURL(dsn)
	if err != nil {
		slog.Error("invalid DATABASE_URL", "error", err)
		os.Exit(1)
	}
	client, err := store.NewClient(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	return client, client.Close
}

// wireExecution gives the agent a concrete ExecuteFn or ReAct executor
// based on its label set, per spec.md §6.2's closed label set. An agent
// configured ai_enabled uses the ReAct executor with every tool its
// labels imply; otherwise a direct, non-LLM ExecuteFn handles it.
func wireExecution(a *agent.Agent, cfg *config.AgentConfig, fi *fanin.Coordinator, prog *progress.Store, contentStore *store.Client, tracer trace.Tracer) error {
	tools, err := buildTools(cfg.Labels, contentStore)
	if err != nil {
		return err
	}

	if cfg.AIEnabled {
		client := buildLLMClient()
		model := cfg.Model
		if model == "" {
			model = getEnv("GROK_MODEL", "grok-beta")
		}
		a.React = react.NewExecutor(client, model, cfg.SystemPrompt, tools, cfg.MaxSteps)
		a.React.Tracer = tracer
		return nil
	}

	analyst := &platform.Analyst{FanIn: fi, Progress: prog, CrawlerLabel: "crawler:x"}
	if contentStore != nil {
		analyst.Store = contentStore
	}
	switch {
	case hasLabel(cfg.Labels, "analyst:analyze") || hasLabel(cfg.Labels, "analyst:summarize"):
		a.ExecuteFn = func(ctx context.Context, t *task.Task) (*task.Result, error) {
			if t.Label == "analyst:summarize" {
				return analyst.Summarize(ctx, t)
			}
			return analyst.Analyze(ctx, t)
		}
	case len(tools) > 0:
		a.ExecuteFn = toolExecuteFn(tools[0])
	}
	return nil
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

// buildTools constructs the concrete tool.Tool for each label the agent
// subscribes to, so both the ReAct path and the direct-execute path
// share one wiring site.
func buildTools(labels []string, contentStore *store.Client) ([]*tool.Tool, error) {
	var tools []*tool.Tool
	for _, label := range labels {
		switch {
		case label == "searcher:web":
			s := &platform.Searcher{Endpoint: getEnv("SEARCH_ENDPOINT", "")}
			t, err := s.Tool()
			if err != nil {
				return nil, err
			}
			tools = append(tools, t)
		case label == "crawler:x":
			if contentStore == nil {
				continue
			}
			c := &platform.Crawler{Platform: "x", Store: contentStore}
			t, err := c.Tool()
			if err != nil {
				return nil, err
			}
			tools = append(tools, t)
		}
	}
	return tools, nil
}

// toolExecuteFn adapts a tool.Tool into an agent.ExecuteFn for agents
// that run a single tool directly, without the ReAct loop, decoding the
// task payload as the tool's argument object.
func toolExecuteFn(t *tool.Tool) agent.ExecuteFn {
	return func(ctx context.Context, tk *task.Task) (*task.Result, error) {
		var args map[string]interface{}
		if len(tk.Payload) > 0 {
			if err := json.Unmarshal(tk.Payload, &args); err != nil {
				return nil, fmt.Errorf("%s: decode payload: %w", t.Name, err)
			}
		}
		if err := t.Validate(args); err != nil {
			return nil, err
		}
		out, err := t.Handler(ctx, args)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal result: %w", t.Name, err)
		}
		return &task.Result{Data: data}, nil
	}
}

func buildLLMClient() llm.Client {
	baseURL := getEnv("GROK_BASE_URL", "https://api.x.ai/v1")
	apiKey := os.Getenv("GROK_API_KEY")
	return llm.NewHTTPClient(baseURL, apiKey)
}

// parseDatabaseURL accepts a standard postgres:// DSN (spec.md §6.4
// DATABASE_URL) and translates it into store.Config's discrete fields.
func parseDatabaseURL(dsn string) (store.Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return store.Config{}, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg := store.Config{
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  "disable",
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	if port := u.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	} else {
		cfg.Port = 5432
	}
	if sslmode := u.Query().Get("sslmode"); sslmode != "" {
		cfg.SSLMode = sslmode
	}
	return cfg, nil
}
