// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	JobsSubmitted      *prometheus.CounterVec // labels: backend, model
	JobsFailed         prometheus.Counter
	JobsCancelled      prometheus.Counter
	Transcriptions     prometheus.Counter
	Escalations        prometheus.Counter
	WebhookCompletions prometheus.Counter
	PollCompletions    prometheus.Counter
	ReconcileRaces     prometheus.Counter // completion observed for an already-handled job
	CommandRuns        *prometheus.CounterVec // labels: kind, key, outcome

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer
	DeliveryDuration  prometheus.Observer
	TranscriptLength  prometheus.Observer // characters

	// Gauges
	OpenJobsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "yapper_jobs_submitted_total", Help: "Transcription jobs submitted to an inference backend"}, []string{"backend", "model"})
		JobsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "yapper_jobs_failed_total", Help: "Transcription jobs that reached a failed terminal state"})
		JobsCancelled = promauto.NewCounter(prometheus.CounterOpts{Name: "yapper_jobs_cancelled_total", Help: "Transcription jobs cancelled before completion"})
		Transcriptions = promauto.NewCounter(prometheus.CounterOpts{Name: "yapper_transcriptions_total", Help: "Transcripts delivered to chat"})
		Escalations = promauto.NewCounter(prometheus.CounterOpts{Name: "yapper_escalations_total", Help: "Completed degraded-tier jobs re-submitted at the high tier"})
		WebhookCompletions = promauto.NewCounter(prometheus.CounterOpts{Name: "yapper_webhook_completions_total", Help: "Terminal job states first observed via the webhook path"})
		PollCompletions = promauto.NewCounter(prometheus.CounterOpts{Name: "yapper_poll_completions_total", Help: "Terminal job states first observed via the poll sweep"})
		ReconcileRaces = promauto.NewCounter(prometheus.CounterOpts{Name: "yapper_reconcile_races_total", Help: "Completion signals that found the job already handled (clean no-op)"})
		CommandRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "yapper_command_runs_total", Help: "Command invocations by dispatcher kind, key, and outcome"}, []string{"kind", "key", "outcome"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "yapper_reconcile_duration_seconds", Help: "Completion handling duration seconds", Buckets: prometheus.DefBuckets})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "yapper_delivery_duration_seconds", Help: "Transcript delivery duration seconds", Buckets: prometheus.DefBuckets})
		TranscriptLength = promauto.NewHistogram(prometheus.HistogramOpts{Name: "yapper_transcript_length_chars", Help: "Delivered transcript length in characters", Buckets: prometheus.ExponentialBuckets(64, 2, 10)})
		OpenJobsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "yapper_open_jobs", Help: "Current number of in-flight transcription jobs"})
	})
}

// SetOpenJobs records the current in-flight job count.
func SetOpenJobs(n int) {
	if OpenJobsGauge != nil {
		OpenJobsGauge.Set(float64(n))
	}
}

// CountCommand records one command invocation outcome ("ok" or "error").
func CountCommand(kind, key string, ok bool) {
	if CommandRuns == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	CommandRuns.WithLabelValues(kind, key, outcome).Inc()
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
