// Package server exposes the HTTP surface of the bot: health and readiness
// probes, Prometheus metrics, a status summary, the inference completion
// webhook, and the payment provider webhook. It injects correlation IDs into
// request contexts for consistent logging.
package server

import (
	"database/sql"
	"time"

	"github.com/polarhq/yapper-backend/config"
	"github.com/polarhq/yapper-backend/transcription"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db      *sql.DB
	cfg     *config.Config
	orch    *transcription.Orchestrator
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, cfg *config.Config, orch *transcription.Orchestrator) *Handlers {
	return &Handlers{db: db, cfg: cfg, orch: orch, started: time.Now()}
}
