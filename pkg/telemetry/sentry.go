package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"

	"github.com/ghuser/eventcore/pkg/config"
	"github.com/ghuser/eventcore/pkg/suspend"
)

// SetupSentry initializes the Sentry SDK. No-ops if DSN is empty.
func SetupSentry(cfg *config.Config) error {
	if cfg.SentryDSN == "" {
		return nil
	}

	// Reminders timing out is an expected outcome, not an incident.
	beforeSend := func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
		if hint != nil && errors.Is(hint.OriginalException, suspend.ErrTimeout) {
			return nil
		}
		return event
	}

	rate := 0.2
	if cfg.Environment == config.EnvDevelopment {
		rate = 1.0
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          cfg.ServiceName + "@" + cfg.ServiceVersion,
		TracesSampleRate: rate,
		BeforeSend:       beforeSend,
	}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	return nil
}

// SentryFlush flushes buffered events before process exit.
func SentryFlush() {
	sentry.Flush(2 * time.Second)
}

// SentryMiddleware returns a net/http middleware that captures panics and errors.
// Repanic: true so the outer Recovery middleware still handles the 500 response.
func SentryMiddleware() func(http.Handler) http.Handler {
	h := sentryhttp.New(sentryhttp.Options{Repanic: true})
	return h.Handle
}
