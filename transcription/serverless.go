package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ServerlessClient talks to a RunPod-style serverless endpoint:
// POST {base}/{endpoint}/run, GET /status/{id}, POST /cancel/{id},
// GET /health. Submissions carry the completion webhook URL so the
// backend can push results.
type ServerlessClient struct {
	BaseURL    string
	EndpointID string
	APIKey     string
	WebhookURL string
	HTTPClient *http.Client
}

func (c *ServerlessClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *ServerlessClient) url(path string) string {
	return fmt.Sprintf("%s/%s%s", c.BaseURL, c.EndpointID, path)
}

func (c *ServerlessClient) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.http().Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// serverlessStatus is the wire shape of run/status/cancel responses.
type serverlessStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Output struct {
		Model            string `json:"model"`
		Transcription    string `json:"transcription"`
		Translation      string `json:"translation,omitempty"`
		DetectedLanguage string `json:"detected_language,omitempty"`
	} `json:"output"`
}

func (s *serverlessStatus) toJobStatus() *JobStatus {
	return &JobStatus{
		ID:            s.ID,
		State:         s.Status,
		Model:         s.Output.Model,
		Transcription: s.Output.Transcription,
		Language:      s.Output.DetectedLanguage,
		Error:         s.Error,
	}
}

func (c *ServerlessClient) Submit(ctx context.Context, attachmentURL, model string) (string, error) {
	payload := map[string]any{
		"input": map[string]any{
			"audio":         attachmentURL,
			"model":         model,
			"transcription": "plain_text",
			"translate":     true,
			"temperature":   0,
		},
		"enable_vad": false,
	}
	if c.WebhookURL != "" {
		payload["webhook"] = c.WebhookURL
	}
	var body serverlessStatus
	code, err := c.do(ctx, http.MethodPost, c.url("/run"), payload, &body)
	if err != nil {
		return "", fmt.Errorf("serverless submit: %w", err)
	}
	if code != http.StatusOK || body.ID == "" {
		return "", fmt.Errorf("serverless submit: unexpected status %d", code)
	}
	return body.ID, nil
}

func (c *ServerlessClient) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	var body serverlessStatus
	code, err := c.do(ctx, http.MethodGet, c.url("/status/"+jobID), nil, &body)
	if err != nil {
		return nil, fmt.Errorf("serverless status: %w", err)
	}
	if code == http.StatusNotFound || code == http.StatusBadRequest {
		return nil, nil
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("serverless status: unexpected status %d", code)
	}
	return body.toJobStatus(), nil
}

func (c *ServerlessClient) Cancel(ctx context.Context, jobID string) error {
	code, err := c.do(ctx, http.MethodPost, c.url("/cancel/"+jobID), nil, nil)
	if err != nil {
		return fmt.Errorf("serverless cancel: %w", err)
	}
	if code != http.StatusOK && code != http.StatusNotFound {
		return fmt.Errorf("serverless cancel: unexpected status %d", code)
	}
	return nil
}

func (c *ServerlessClient) Health(ctx context.Context) (*Health, error) {
	var body struct {
		Jobs struct {
			InQueue    int `json:"inQueue"`
			InProgress int `json:"inProgress"`
		} `json:"jobs"`
		Workers struct {
			Idle    int `json:"idle"`
			Running int `json:"running"`
		} `json:"workers"`
	}
	code, err := c.do(ctx, http.MethodGet, c.url("/health"), nil, &body)
	if err != nil {
		return nil, fmt.Errorf("serverless health: %w", err)
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("serverless health: unexpected status %d", code)
	}
	return &Health{
		WorkersIdle:    body.Workers.Idle,
		WorkersRunning: body.Workers.Running,
		JobsInQueue:    body.Jobs.InQueue,
		JobsInProgress: body.Jobs.InProgress,
	}, nil
}
