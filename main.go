// Command backend is the main entrypoint for the yapper bot and its API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Connects to the Discord gateway and dispatches interactions.
//   - Starts the transcription job poll loop and cooldown purge job.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics,
//     and the inference and payment webhooks.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/polarhq/yapper-backend/bot"
	"github.com/polarhq/yapper-backend/config"
	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/diag"
	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/lang"
	"github.com/polarhq/yapper-backend/server"
	"github.com/polarhq/yapper-backend/telemetry"
	"github.com/polarhq/yapper-backend/transcription"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Error("bot configuration incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("yapper", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Error reporting (optional; requires SENTRY_DSN)
	reporter, err := diag.Init("yapper@1.0.0")
	if err != nil {
		slog.Error("diagnostics initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer reporter.Flush()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) for deployments without the
	//    schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to legacy embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("legacy embedded SQL migration completed successfully",
			slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully",
			slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Discord REST client and inference backends
	client := &discord.Client{Token: cfg.DiscordToken, ApplicationID: cfg.ApplicationID}
	serverless := &transcription.ServerlessClient{
		BaseURL:    cfg.ServerlessBaseURL,
		EndpointID: cfg.ServerlessEndpointID,
		APIKey:     cfg.ServerlessAPIKey,
		WebhookURL: webhookURL(cfg),
	}
	endpoint := &transcription.EndpointClient{
		BaseURL: cfg.EndpointBaseURL,
		APIKey:  cfg.EndpointAPIKey,
	}

	translator := lang.New()
	orch := transcription.NewOrchestrator(database, client, serverless, endpoint, translator, reporter, cfg)
	b := bot.New(database, client, orch, cfg, translator, reporter)

	// Background jobs
	go orch.StartJobPollLoop(ctx)
	go startCooldownPurgeJob(ctx, database)

	// Gateway connection with automatic resume/redial
	gateway := &discord.Gateway{
		Token:    cfg.DiscordToken,
		Intents:  discord.DefaultIntents,
		Handlers: b.GatewayHandlers(ctx),
	}
	go func() {
		if err := gateway.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("gateway exited with error", slog.Any("err", err))
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/webhooks)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, cfg, orch, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// webhookURL builds the completion callback the serverless backend pushes to.
func webhookURL(cfg *config.Config) string {
	if cfg.PublicBaseURL == "" || cfg.WebhookSecret == "" {
		return ""
	}
	return strings.TrimRight(cfg.PublicBaseURL, "/") + "/job_complete?secret=" + cfg.WebhookSecret
}

// startCooldownPurgeJob trims lapsed durable cooldown rows.
func startCooldownPurgeJob(ctx context.Context, database *sql.DB) {
	interval := time.Hour
	slog.Info("cooldown purge job starting", slog.Duration("interval", interval), slog.String("component", "db"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PurgeExpiredCooldowns(ctx, database)
			if err != nil {
				slog.Warn("cooldown purge failed", slog.Any("err", err), slog.String("component", "db"))
				continue
			}
			if n > 0 {
				slog.Debug("purged expired cooldowns", slog.Int64("rows", n), slog.String("component", "db"))
			}
		}
	}
}
