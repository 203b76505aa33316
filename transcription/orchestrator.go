package transcription

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/polarhq/yapper-backend/config"
	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/diag"
	"github.com/polarhq/yapper-backend/lang"
	"github.com/polarhq/yapper-backend/telemetry"
)

// SubmitRequest carries everything needed to start a job and later deliver
// its result.
type SubmitRequest struct {
	AttachmentURL     string
	GuildID           string
	ChannelID         string
	InitialMessageID  string
	ResponseMessageID string
	InteractionID     string
	InteractionToken  string
	// ForceModel pins the tier, bypassing the degrade policy. Escalation
	// resubmissions use it.
	ForceModel string
}

// Orchestrator owns the job lifecycle from submission to delivery.
type Orchestrator struct {
	DB         *sql.DB
	Serverless Backend
	Endpoint   Backend
	Diag       *diag.Reporter

	deliver *deliverer
	cfg     *config.Config
}

func NewOrchestrator(dbc *sql.DB, api MessageAPI, serverless, endpoint Backend, translator *lang.Translator, reporter *diag.Reporter, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		DB:         dbc,
		Serverless: serverless,
		Endpoint:   endpoint,
		Diag:       reporter,
		deliver:    newDeliverer(api, translator, cfg.MessageCharLimit),
		cfg:        cfg,
	}
}

func (o *Orchestrator) backendFor(name string) Backend {
	if name == BackendEndpoint {
		return o.Endpoint
	}
	return o.Serverless
}

// choosePlacement applies the degrade policy: when the serverless pool has no
// running workers, fall back to the medium tier on the managed endpoint
// rather than queueing behind a cold start.
func (o *Orchestrator) choosePlacement(ctx context.Context) (backend string, model string) {
	health, err := o.Serverless.Health(ctx)
	if err != nil {
		slog.Warn("serverless health check failed, degrading",
			slog.Any("err", err), slog.String("component", "transcription"))
		return BackendEndpoint, ModelMedium
	}
	if health.WorkersRunning <= 0 {
		return BackendEndpoint, ModelMedium
	}
	return BackendServerless, ModelLargeV3
}

// Submit places a job at a backend and persists the row. The returned job
// carries the backend-assigned id.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*db.Job, error) {
	var backend, model string
	if req.ForceModel != "" {
		backend, model = BackendServerless, req.ForceModel
	} else {
		backend, model = o.choosePlacement(ctx)
	}

	jobID, err := o.backendFor(backend).Submit(ctx, req.AttachmentURL, model)
	if err != nil {
		return nil, fmt.Errorf("submit to %s: %w", backend, err)
	}

	job := db.Job{
		ID:                jobID,
		Backend:           backend,
		Model:             model,
		AttachmentURL:     req.AttachmentURL,
		GuildID:           req.GuildID,
		ChannelID:         req.ChannelID,
		InitialMessageID:  req.InitialMessageID,
		ResponseMessageID: req.ResponseMessageID,
		InteractionID:     req.InteractionID,
		InteractionToken:  req.InteractionToken,
	}
	if err := db.CreateJob(ctx, o.DB, job); err != nil {
		// The backend job is orphaned; cancel best-effort so it does not
		// burn worker time.
		if cancelErr := o.backendFor(backend).Cancel(ctx, jobID); cancelErr != nil {
			slog.Warn("failed to cancel orphaned job",
				slog.String("job_id", jobID), slog.Any("err", cancelErr),
				slog.String("component", "transcription"))
		}
		return nil, fmt.Errorf("persist job: %w", err)
	}

	telemetry.JobsSubmitted.WithLabelValues(backend, model).Inc()
	slog.Info("transcription job submitted",
		slog.String("job_id", jobID),
		slog.String("backend", backend),
		slog.String("model", model),
		slog.String("component", "transcription"))
	return &job, nil
}

// StartJobPollLoop sweeps open jobs on a fixed interval, reconciling any the
// webhook has not already settled. Runs until ctx is cancelled.
func (o *Orchestrator) StartJobPollLoop(ctx context.Context) {
	interval := o.cfg.JobPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	slog.Info("job poll loop starting",
		slog.Duration("interval", interval),
		slog.String("component", "transcription"))

	// Run immediately on start
	o.pollOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job poll loop stopped", slog.String("component", "transcription"))
			return
		case <-ticker.C:
			o.pollOnce(ctx)
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context) {
	jobs, err := db.ListJobs(ctx, o.DB)
	if err != nil {
		slog.Warn("failed to list open jobs", slog.Any("err", err), slog.String("component", "transcription"))
		return
	}
	telemetry.SetOpenJobs(len(jobs))
	if err := db.SetKV(ctx, o.DB, "last_job_sweep", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("failed to record sweep timestamp", slog.Any("err", err), slog.String("component", "transcription"))
	}

	for _, job := range jobs {
		status, err := o.backendFor(job.Backend).Status(ctx, job.ID)
		if err != nil {
			slog.Warn("job status check failed",
				slog.String("job_id", job.ID), slog.Any("err", err),
				slog.String("component", "transcription"))
			continue
		}
		if status == nil {
			// Backend forgot the job; drop the row so it stops sweeping.
			slog.Warn("backend no longer knows job, dropping",
				slog.String("job_id", job.ID), slog.String("component", "transcription"))
			if err := db.DeleteJob(ctx, o.DB, job.ID); err != nil {
				slog.Warn("failed to delete forgotten job", slog.String("job_id", job.ID), slog.Any("err", err))
			}
			continue
		}
		if !IsTerminal(status.State) {
			continue
		}
		if err := o.HandleCompletion(ctx, status); err != nil {
			slog.Error("poll completion failed",
				slog.String("job_id", job.ID), slog.Any("err", err),
				slog.String("component", "transcription"))
			o.Diag.Capture(err, map[string]any{"job_id": job.ID, "source": "poll"})
		} else {
			telemetry.PollCompletions.Inc()
		}
	}
}

// HandleCompletion settles one terminal job status. Shared by the poll sweep
// and the webhook; the TakeJob claim makes it idempotent, so the loser of
// the race sees a clean no-op.
func (o *Orchestrator) HandleCompletion(ctx context.Context, status *JobStatus) error {
	start := time.Now()
	defer func() {
		telemetry.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	job, err := db.TakeJob(ctx, o.DB, status.ID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", status.ID, err)
	}
	if job == nil {
		telemetry.ReconcileRaces.Inc()
		slog.Debug("job already settled", slog.String("job_id", status.ID), slog.String("component", "transcription"))
		return nil
	}

	switch status.State {
	case StateCompleted:
		return o.completeJob(ctx, job, status)
	case StateFailed:
		telemetry.JobsFailed.Inc()
		o.Diag.Capture(fmt.Errorf("transcription job failed: %s", status.Error),
			map[string]any{"job_id": job.ID, "backend": job.Backend, "model": job.Model})
		if err := o.deliver.deliverFailure(ctx, job); err != nil {
			return fmt.Errorf("deliver failure notice: %w", err)
		}
		return nil
	case StateCancelled:
		telemetry.JobsCancelled.Inc()
		slog.Info("job cancelled upstream", slog.String("job_id", job.ID), slog.String("component", "transcription"))
		return nil
	}
	return fmt.Errorf("non-terminal state %q in completion for job %s", status.State, job.ID)
}

func (o *Orchestrator) completeJob(ctx context.Context, job *db.Job, status *JobStatus) error {
	start := time.Now()
	defer func() {
		telemetry.DeliveryDuration.Observe(time.Since(start).Seconds())
	}()

	telemetry.Transcriptions.Inc()
	telemetry.TranscriptLength.Observe(float64(len(status.Transcription)))

	escalating := job.Model == ModelMedium

	// A record from the first delivery means this is the escalated result:
	// edit the earlier response (and thread) in place.
	record, err := db.GetTranscription(ctx, o.DB, job.InitialMessageID)
	if err != nil {
		return fmt.Errorf("load transcription record: %w", err)
	}
	opts := deliverOptions{escalating: escalating}
	if record != nil {
		opts.existingThreadID = record.ThreadID
	}

	threadID, err := o.deliver.deliver(ctx, job, status.Transcription, opts)
	if err != nil {
		// Unsplittable input is terminal; the row is already gone.
		o.Diag.Capture(err, map[string]any{"job_id": job.ID})
		return fmt.Errorf("deliver transcript: %w", err)
	}
	if threadID == "" && record != nil {
		threadID = record.ThreadID
	}

	if err := db.UpsertTranscription(ctx, o.DB, db.Transcription{
		InitialMessageID:  job.InitialMessageID,
		ResponseMessageID: job.ResponseMessageID,
		ThreadID:          threadID,
		Model:             job.Model,
	}); err != nil {
		return fmt.Errorf("record transcription: %w", err)
	}

	if threadID != "" {
		if err := o.deliver.archiveThread(ctx, threadID); err != nil {
			slog.Warn("failed to archive delivery thread",
				slog.String("thread_id", threadID), slog.Any("err", err),
				slog.String("component", "transcription"))
		}
	}

	if escalating {
		telemetry.Escalations.Inc()
		if _, err := o.Submit(ctx, SubmitRequest{
			AttachmentURL:     job.AttachmentURL,
			GuildID:           job.GuildID,
			ChannelID:         job.ChannelID,
			InitialMessageID:  job.InitialMessageID,
			ResponseMessageID: job.ResponseMessageID,
			InteractionID:     job.InteractionID,
			InteractionToken:  job.InteractionToken,
			ForceModel:        ModelLargeV3,
		}); err != nil {
			// The degraded transcript is already delivered; surface but do
			// not fail the completion.
			slog.Error("escalation resubmit failed",
				slog.String("job_id", job.ID), slog.Any("err", err),
				slog.String("component", "transcription"))
			o.Diag.Capture(err, map[string]any{"job_id": job.ID, "stage": "escalation"})
		}
	}

	slog.Info("transcript delivered",
		slog.String("job_id", job.ID),
		slog.String("model", job.Model),
		slog.Int("length", len(status.Transcription)),
		slog.Bool("escalating", escalating),
		slog.String("component", "transcription"))
	return nil
}

// CancelForMessage tears down any work tied to a deleted source message:
// the in-flight job, its placeholder, and any delivered transcription.
func (o *Orchestrator) CancelForMessage(ctx context.Context, channelID, initialMessageID string) error {
	job, err := db.FindJobByMessage(ctx, o.DB, initialMessageID)
	if err != nil {
		return fmt.Errorf("find job by message: %w", err)
	}
	if job != nil {
		if err := o.backendFor(job.Backend).Cancel(ctx, job.ID); err != nil {
			slog.Warn("backend cancel failed",
				slog.String("job_id", job.ID), slog.Any("err", err),
				slog.String("component", "transcription"))
		}
		if err := db.DeleteJob(ctx, o.DB, job.ID); err != nil {
			return fmt.Errorf("delete job row: %w", err)
		}
		if err := o.deliver.api.DeleteMessage(ctx, job.ChannelID, job.ResponseMessageID); err != nil {
			slog.Warn("failed to delete placeholder",
				slog.String("message_id", job.ResponseMessageID), slog.Any("err", err),
				slog.String("component", "transcription"))
		}
		telemetry.JobsCancelled.Inc()
	}

	record, err := db.GetTranscription(ctx, o.DB, initialMessageID)
	if err != nil {
		return fmt.Errorf("load transcription record: %w", err)
	}
	if record == nil {
		// The deleted message may be the bot's own transcript reply.
		record, err = db.FindTranscriptionByResponse(ctx, o.DB, initialMessageID)
		if err != nil {
			return fmt.Errorf("find transcription by response: %w", err)
		}
		if record == nil {
			return nil
		}
	} else if err := o.deliver.api.DeleteMessage(ctx, channelID, record.ResponseMessageID); err != nil {
		slog.Warn("failed to delete transcript reply",
			slog.String("message_id", record.ResponseMessageID), slog.Any("err", err),
			slog.String("component", "transcription"))
	}
	if record.ThreadID != "" {
		if err := o.deliver.api.DeleteChannel(ctx, record.ThreadID); err != nil {
			slog.Warn("failed to delete transcript thread",
				slog.String("thread_id", record.ThreadID), slog.Any("err", err),
				slog.String("component", "transcription"))
		}
	}
	return db.DeleteTranscription(ctx, o.DB, record.InitialMessageID)
}
