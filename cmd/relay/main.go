// Command relay runs the webhook-triggered deployment pipeline service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	relayhttp "github.com/agentops/relay/internal/adapter/http"
	_ "github.com/agentops/relay/internal/adapter/discord"
	_ "github.com/agentops/relay/internal/adapter/email"
	"github.com/agentops/relay/internal/adapter/github"
	"github.com/agentops/relay/internal/adapter/llm"
	"github.com/agentops/relay/internal/adapter/memstore"
	relaynats "github.com/agentops/relay/internal/adapter/nats"
	"github.com/agentops/relay/internal/adapter/otel"
	"github.com/agentops/relay/internal/adapter/postgres"
	_ "github.com/agentops/relay/internal/adapter/slack"
	"github.com/agentops/relay/internal/adapter/ws"
	"github.com/agentops/relay/internal/agent"
	"github.com/agentops/relay/internal/bus"
	"github.com/agentops/relay/internal/config"
	"github.com/agentops/relay/internal/git"
	"github.com/agentops/relay/internal/logger"
	"github.com/agentops/relay/internal/port/eventstore"
	"github.com/agentops/relay/internal/port/notifier"
	pstage "github.com/agentops/relay/internal/port/stage"
	"github.com/agentops/relay/internal/replay"
	"github.com/agentops/relay/internal/resilience"
	"github.com/agentops/relay/internal/runner"
	"github.com/agentops/relay/internal/stage"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"postgres", cfg.Postgres.DSN != "",
		"nats", cfg.NATS.URL != "",
		"llm", cfg.LLM.URL != "",
	)

	ctx := context.Background()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	ready := map[string]bool{
		"postgres": false,
		"nats":     false,
		"llm":      false,
		"github":   false,
		"vercel":   cfg.Pipeline.DeployToken != "",
	}

	// --- Persistence ---

	var store eventstore.Store
	var outputs eventstore.OutputsStore = memstore.NewOutputs()
	var busOpts []bus.Option

	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}

		store = postgres.NewEventStore(pool)
		outputs = postgres.NewOutputsStore(pool)
		busOpts = append(busOpts, bus.WithStore(store))
		ready["postgres"] = true
		log.Info("postgres connected, migrations applied")
	}

	if cfg.NATS.URL != "" {
		mirror, err := relaynats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = mirror.Close() }()
		busOpts = append(busOpts, bus.WithSink(mirror))
		ready["nats"] = true
		log.Info("nats event mirror connected")
	}

	b := bus.New(log, busOpts...)

	// --- Pipeline stages ---

	workspaces := git.NewWorkspaces(git.NewPool(cfg.Git.MaxConcurrent))

	monitorOpts := []stage.MonitorOption{
		stage.WithAuthorLookup(git.CommitAuthor),
	}

	if cfg.LLM.URL != "" {
		client := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey)
		client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		if _, err := client.Health(ctx); err != nil {
			log.Warn("llm endpoint unreachable", "url", cfg.LLM.URL, "error", err)
		}
		completer := llm.Completer{Client: client, Model: cfg.LLM.Model}
		delegate := agent.New(completer, cfg.LLM.MaxIterations, log)
		monitorOpts = append(monitorOpts, stage.WithProposer(agent.NewFixProposer(delegate)))
		ready["llm"] = true
	}

	gh := github.NewClient(cfg.GitHub.Token)
	if gh.Configured() {
		monitorOpts = append(monitorOpts, stage.WithIssueOpener(gh))
		ready["github"] = true
	}

	if targets := buildNotifiers(cfg.Notifiers, log); len(targets) > 0 {
		monitorOpts = append(monitorOpts, stage.WithNotifiers(targets))
		log.Info("incident notifiers configured", "count", len(targets))
	}

	stages := []pstage.Stage{
		stage.NewInfra(),
		stage.NewDeps(),
		stage.NewTests(cfg.Pipeline.TestTimeout, b, log),
		stage.NewDeploy(cfg.Pipeline.DeployToken, cfg.Pipeline.DeployTimeout, b, log),
		stage.NewMonitor(stage.MonitorConfig{
			Attempts: cfg.Pipeline.ProbeAttempts,
			Backoff:  cfg.Pipeline.ProbeBackoff,
			Timeout:  cfg.Pipeline.ProbeTimeout,
		}, b, log, monitorOpts...),
	}

	// The controller and runner reference each other: the controller drives
	// sandbox re-executions, the runner reads recorded deltas back from it.
	controller := replay.NewController(b, log, replay.WithStore(store))
	pipeline := runner.New(b, workspaces, stages, log,
		runner.WithOutputsStore(outputs),
		runner.WithDeltaSource(controller),
		runner.WithMetrics(metrics),
	)
	controller.SetRunner(pipeline)

	// --- HTTP ---

	hub := ws.NewHub(b, log)
	handlers := relayhttp.NewHandlers(cfg.Server, b, pipeline, controller, outputs, ready, log)
	router := relayhttp.NewRouter(handlers, hub, cfg.Server, cfg.Webhook, cfg.Logging.Service)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// buildNotifiers constructs every alert target the configuration enables,
// going through the provider registry the adapters register into.
func buildNotifiers(cfg config.Notifiers, log *slog.Logger) []notifier.Notifier {
	configs := map[string]map[string]string{}
	if cfg.DiscordWebhook != "" {
		configs["discord"] = map[string]string{"webhook_url": cfg.DiscordWebhook}
	}
	if cfg.SlackWebhook != "" {
		configs["slack"] = map[string]string{"webhook_url": cfg.SlackWebhook}
	}
	if cfg.SMTP.Host != "" && cfg.EmailTo != "" {
		configs["email"] = map[string]string{
			"host":     cfg.SMTP.Host,
			"port":     strconv.Itoa(cfg.SMTP.Port),
			"from":     cfg.SMTP.From,
			"password": cfg.SMTP.Password,
			"to":       cfg.EmailTo,
		}
	}

	var targets []notifier.Notifier
	for name, conf := range configs {
		n, err := notifier.New(name, conf)
		if err != nil {
			log.Warn("notifier disabled", "provider", name, "error", err)
			continue
		}
		targets = append(targets, n)
	}
	return targets
}
