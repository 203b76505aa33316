// Package transcription orchestrates audio transcription jobs: submitting
// work to an inference backend, reconciling completions from both the poll
// sweep and the webhook, delivering transcripts back to Discord, and
// escalating degraded results to the high-quality model.
package transcription

import "context"

// Job states reported by the inference backends.
const (
	StateInQueue    = "IN_QUEUE"
	StateInProgress = "IN_PROGRESS"
	StateCompleted  = "COMPLETED"
	StateFailed     = "FAILED"
	StateCancelled  = "CANCELLED"
)

// Backend names stored on job rows.
const (
	BackendServerless = "serverless"
	BackendEndpoint   = "endpoint"
)

// Model tiers.
const (
	ModelMedium  = "medium"
	ModelLargeV3 = "large-v3"
)

// IsTerminal reports whether a state ends the job's lifecycle.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// JobStatus is a backend's view of one job.
type JobStatus struct {
	ID            string
	State         string
	Model         string
	Transcription string
	Language      string
	Error         string
}

// Health summarizes worker availability at a backend.
type Health struct {
	WorkersIdle    int
	WorkersRunning int
	JobsInQueue    int
	JobsInProgress int
}

// Backend abstracts an inference provider. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Submit enqueues a transcription and returns the backend job id.
	Submit(ctx context.Context, attachmentURL, model string) (string, error)
	// Status returns the current job status, or nil when the backend no
	// longer knows the job.
	Status(ctx context.Context, jobID string) (*JobStatus, error)
	// Cancel stops a queued or running job. Cancelling an unknown job is
	// not an error.
	Cancel(ctx context.Context, jobID string) error
	// Health reports worker availability.
	Health(ctx context.Context) (*Health, error)
}
