package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/polarhq/yapper-backend/telemetry"
	"github.com/polarhq/yapper-backend/transcription"
)

// jobCompletePayload is the push body the serverless backend posts when a
// job reaches a terminal state. It mirrors the status polling shape.
type jobCompletePayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Output struct {
		Model            string `json:"model"`
		Transcription    string `json:"transcription"`
		DetectedLanguage string `json:"detected_language,omitempty"`
	} `json:"output"`
}

// HandleJobComplete settles a job pushed by the inference backend. The poll
// sweep covers the same jobs, so everything here is acknowledged: retries of
// a handled job no-op inside the orchestrator, and malformed bodies are
// dropped rather than redelivered forever.
func (h *Handlers) HandleJobComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.WebhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("secret")), []byte(h.cfg.WebhookSecret)) != 1 {
		slog.Warn("webhook secret mismatch", slog.String("remote_addr", r.RemoteAddr), slog.String("component", "http"))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ack := func() {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"ack": true})
	}

	var payload jobCompletePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ID == "" {
		telemetry.LoggerWithCorr(r.Context()).Warn("malformed completion webhook body", "err", err)
		ack()
		return
	}
	if !transcription.IsTerminal(payload.Status) {
		telemetry.LoggerWithCorr(r.Context()).Debug("ignoring non-terminal webhook",
			"job_id", payload.ID, "state", payload.Status)
		ack()
		return
	}

	status := &transcription.JobStatus{
		ID:            payload.ID,
		State:         payload.Status,
		Model:         payload.Output.Model,
		Transcription: payload.Output.Transcription,
		Language:      payload.Output.DetectedLanguage,
		Error:         payload.Error,
	}
	if err := h.orch.HandleCompletion(r.Context(), status); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("webhook completion failed",
			"job_id", payload.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	telemetry.WebhookCompletions.Inc()
	ack()
}
