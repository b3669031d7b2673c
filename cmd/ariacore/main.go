// Aria cognitive core server: chat sessions, LLM gateway routing,
// agent delegation, roundtable/swarm orchestration, and cron dispatch
// behind one HTTP/WebSocket/GraphQL surface.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariacore/aria/pkg/agent"
	"github.com/ariacore/aria/pkg/api"
	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/events"
	"github.com/ariacore/aria/pkg/llmgateway"
	"github.com/ariacore/aria/pkg/orchestrator"
	"github.com/ariacore/aria/pkg/scheduler"
	"github.com/ariacore/aria/pkg/session"
	"github.com/ariacore/aria/pkg/skill"
	"github.com/ariacore/aria/pkg/storage"
	"github.com/ariacore/aria/pkg/version"

	"go.opentelemetry.io/otel"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// gatewaySummarizer adapts the LLM Gateway to the Session Manager's
// Summarizer interface for the slow-title path. Lives here because the
// manager sits below the gateway in the dependency order and cannot
// import it.
type gatewaySummarizer struct {
	gateway *llmgateway.Gateway
}

func (g *gatewaySummarizer) Summarize(ctx context.Context, sessionID, firstMessage string) (string, error) {
	result, err := g.gateway.Complete(ctx, &llmgateway.CompletionRequest{
		SessionID: sessionID,
		Messages: []llmgateway.ConversationMessage{
			{Role: llmgateway.RoleSystem, Content: "Summarize the user's message as a chat title of at most six words. Reply with the title only."},
			{Role: llmgateway.RoleUser, Content: firstMessage},
		},
		Timeout: session.SlowTitleTimeout,
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		os.Exit(runBootstrap(os.Args[2:]))
	}

	configDir := flag.String("config-dir",
		getEnv("ARIA_CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Info("no .env file loaded, using process environment", "path", envPath)
	} else {
		slog.Info("environment loaded", "path", envPath)
	}

	httpAddr := ":" + getEnv("ARIA_HTTP_PORT", "8080")
	slog.Info("starting", "app", version.Full(), "addr", httpAddr, "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("configuration loaded",
		"models", stats.Models, "agents", stats.Agents,
		"roundtables", stats.Roundtables, "cron_jobs", stats.CronJobs)

	// Fail closed at startup: a production process without its API key
	// must not come up answering 503s request by request.
	if cfg.Auth != nil && !cfg.Auth.DebugMode && os.Getenv(cfg.Auth.APIKeyEnv) == "" {
		slog.Error("api key not set and debug mode off; refusing to start", "env", cfg.Auth.APIKeyEnv)
		os.Exit(1)
	}

	dbCfg, err := storage.LoadConfigFromEnv()
	if err != nil {
		slog.Error("database configuration failed", "error", err)
		os.Exit(1)
	}
	db, err := storage.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("database close failed", "error", err)
		}
	}()
	slog.Info("database ready", "host", dbCfg.Host, "database", dbCfg.Database)

	meter := otel.Meter(version.AppName)

	// Shared breaker store: model circuits under "model:", skill
	// circuits under the bare skill name.
	breakers := skill.NewBreakerStore(db.Circuits)
	limiter := llmgateway.NewRateLimiter(db.Models)

	provider := llmgateway.NewOpenAICompatProvider(
		os.Getenv("ARIA_LLM_BASE_URL"),
		os.Getenv("ARIA_LLM_MASTER_KEY"),
	)
	providers := llmgateway.NewProviderRegistry(map[string]llmgateway.Provider{
		"openai":  provider,
		"litellm": provider,
		"local":   provider,
	})
	gateway := llmgateway.NewGateway(cfg.ModelRegistry, cfg.Routing, providers, breakers, limiter)

	sessions := session.NewManager(db.Sessions, db.Messages, db.Archive, cfg.Retention, &gatewaySummarizer{gateway: gateway})

	registry := skill.NewRegistry()
	if err := registry.Register(skill.NewMaintenanceSkill(sessions, db, cfg.Retention)); err != nil {
		slog.Error("skill registration failed", "error", err)
		os.Exit(1)
	}
	executor, err := skill.NewExecutor(registry, breakers, db.Skills, meter)
	if err != nil {
		slog.Error("skill executor failed", "error", err)
		os.Exit(1)
	}

	pool := agent.NewPool(sessions, gateway, cfg.ModelRegistry)
	orch := orchestrator.NewOrchestrator(pool, sessions, cfg.AgentRegistry, cfg.RoundtableRegistry)
	sched := scheduler.New(cfg.CronRegistry, db.CronJobs, pool, executor, breakers)
	if q := cfg.Queue; q != nil {
		pool.PollEvery = q.AgentPollInterval
		orch.MaxSwarmWorkers = q.MaxSwarmWorkers
		sched.OrphanScanInterval = q.OrphanScanInterval
		sched.OrphanTimeout = q.OrphanTimeout
	}
	if err := sched.LoadJobs(); err != nil {
		slog.Error("cron job load failed", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)
	defer sched.Stop()
	go sched.RunBackground(ctx, sessions, cfg.Retention)

	connManager := events.NewConnectionManager(events.NewCatchupStore(db.DB()), 10*time.Second)
	listener := events.NewNotifyListener(dbCfg.DSN(), connManager)
	if err := listener.Start(ctx); err != nil {
		slog.Error("notify listener failed", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(context.Background())
	connManager.SetListener(listener)
	publisher := events.NewEventPublisher(db.DB())

	server := api.NewServer(cfg, db, sessions, pool, gateway, orch, sched, connManager, publisher)
	if err := server.ValidateWiring(); err != nil {
		slog.Error("server wiring invalid", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(httpAddr) }()
	slog.Info("http server listening", "addr", httpAddr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
}
