package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/telemetry"
)

// HandleStatus summarizes the pipeline for dashboards and manual checks.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	openJobs, err := db.CountJobs(ctx, h.db)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("status: count jobs failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	delivered, err := db.CountTranscriptions(ctx, h.db)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("status: count transcriptions failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := map[string]any{
		"open_jobs":      openJobs,
		"transcriptions": delivered,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}
	if sweep, err := db.GetKV(ctx, h.db, "last_job_sweep"); err == nil && sweep != "" {
		out["last_job_sweep"] = sweep
	}
	if health, err := h.orch.Serverless.Health(ctx); err == nil {
		out["serverless"] = map[string]int{
			"workers_idle":     health.WorkersIdle,
			"workers_running":  health.WorkersRunning,
			"jobs_in_queue":    health.JobsInQueue,
			"jobs_in_progress": health.JobsInProgress,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
