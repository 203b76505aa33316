// Package diag reports failures to Sentry and hands back an event id that
// user-facing error replies can embed. When SENTRY_DSN is unset, capture
// still returns a locally generated id so replies always carry something a
// user can quote in a bug report.
package diag

import (
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

type Reporter struct {
	enabled bool
}

// Init configures the Sentry client from SENTRY_DSN / SENTRY_ENVIRONMENT.
func Init(release string) (*Reporter, error) {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		slog.Info("diagnostics capture disabled: SENTRY_DSN not set")
		return &Reporter{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		Release:     release,
	})
	if err != nil {
		return nil, err
	}
	return &Reporter{enabled: true}, nil
}

// Capture records err with the given context attributes and returns an event id.
func (r *Reporter) Capture(err error, extras map[string]any) string {
	if err == nil {
		return ""
	}
	if !r.enabled {
		id := uuid.New().String()
		slog.Error("captured error (local only)", slog.Any("err", err), slog.String("event_id", id))
		return id
	}
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		if len(extras) > 0 {
			scope.SetExtras(extras)
		}
	})
	eventID := hub.CaptureException(err)
	if eventID == nil {
		return uuid.New().String()
	}
	return string(*eventID)
}

// Flush drains buffered events; call on shutdown.
func (r *Reporter) Flush() {
	if r.enabled {
		sentry.Flush(2 * time.Second)
	}
}
