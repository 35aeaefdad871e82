// Command eventsd runs the event-coordination daemon: the Redis-backed event
// store, the event bus, the suspension and reminder managers, and the ops
// HTTP surface (health, metrics, event inspection).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ghuser/eventcore/pkg/config"
	"github.com/ghuser/eventcore/pkg/eventbus"
	"github.com/ghuser/eventcore/pkg/events"
	"github.com/ghuser/eventcore/pkg/eventstore"
	"github.com/ghuser/eventcore/pkg/httpx"
	"github.com/ghuser/eventcore/pkg/logger"
	"github.com/ghuser/eventcore/pkg/ops"
	"github.com/ghuser/eventcore/pkg/reminder"
	"github.com/ghuser/eventcore/pkg/suspend"
	"github.com/ghuser/eventcore/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := config.ValidateForProduction(cfg); err != nil {
		slog.Error("production config validation failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg)

	ctx := context.Background()
	otelShutdown, metricsHandler, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx) //nolint:errcheck

	// Crash reporting: Sentry (optional — log and continue on failure)
	if err := telemetry.SetupSentry(cfg); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	rdb, err := eventstore.Dial(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1) //nolint:gocritic // intentional: startup failure, deferred flushes are best-effort
	}
	log.Info("redis connected")

	registry := events.NewRegistry()
	reminder.RegisterEvents(registry)

	store, err := eventstore.NewRedisStore(eventstore.Config{
		Client:        rdb,
		KeyPrefix:     cfg.EventKeyPrefix,
		DefaultTTL:    cfg.EventTTL(),
		EnableIndexes: cfg.EnableIndexes,
		Registry:      registry,
		Logger:        log,
	})
	if err != nil {
		log.Error("failed to build event store", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer store.Close() //nolint:errcheck

	provider, err := eventbus.NewProvider(cfg, log)
	if err != nil {
		log.Error("failed to build transport provider", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	bus, err := eventbus.New(eventbus.Config{
		Store:     store,
		Provider:  provider,
		Registry:  registry,
		Logger:    log,
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL(),
	})
	if err != nil {
		log.Error("failed to build event bus", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer bus.Close() //nolint:errcheck

	// Route transport-level reminder traffic back into local listeners, so a
	// future networked provider can answer reminders from another process.
	for _, topic := range []string{reminder.TopicRequested, reminder.TopicResponded} {
		if err := bus.Bridge(ctx, topic); err != nil {
			log.Error("failed to bridge topic", "topic", topic, "error", err)
			os.Exit(1) //nolint:gocritic
		}
	}

	suspensions := suspend.NewManager(log)
	reminders, err := reminder.NewManager(bus, suspensions, log)
	if err != nil {
		log.Error("failed to build reminder manager", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	// Acknowledge reminder requests so the request/response loop closes even
	// with no dedicated responder deployed. A real responder replaces this by
	// publishing its own RespondedEvent for the same reminder id.
	bus.Subscribe(reminder.TopicRequested, func(ctx context.Context, evt events.Event) error {
		req, ok := evt.(*reminder.RequestedEvent)
		if !ok {
			return nil
		}
		log.InfoContext(ctx, "reminder requested",
			"reminder_id", req.ReminderID,
			"priority", req.Priority)
		_, err := bus.Publish(ctx, reminder.NewRespondedEvent(
			req.ReminderID, "acknowledged", map[string]any{"prompt": req.Prompt}))
		return err
	})

	r := httpx.NewRouter(
		httpx.ServerConfig{
			ServiceName:        cfg.ServiceName,
			IsDevelopment:      cfg.Environment == config.EnvDevelopment,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		},
		httpx.Middlewares{
			Recovery: logger.Recovery(log),
			Sentry:   telemetry.SentryMiddleware(),
			Otel:     otelhttp.NewMiddleware(cfg.ServiceName),
			Logger:   logger.Middleware(log),
		},
	)
	ops.Routes(r, store, reminders, httpx.HealthChecks{Store: store, Bus: bus}, metricsHandler)

	srv := httpx.NewServer(cfg.HTTPAddr, r)

	go func() {
		log.Info("server listening", "addr", srv.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("daemon stopped")
}
