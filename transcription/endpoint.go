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

// EndpointClient talks to the managed transcription endpoint:
// POST {base}/transcribe, GET {base}/job/{id}. The endpoint has no cancel
// or health routes; cancel is a local no-op and health reports a single
// always-available worker.
type EndpointClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func (c *EndpointClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *EndpointClient) do(ctx context.Context, method, url string, body, out any) (int, error) {
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
	req.Header.Set("Authorization", c.APIKey)
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

type endpointStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Output struct {
		Model            string `json:"model"`
		Transcription    string `json:"transcription"`
		DetectedLanguage string `json:"detected_language,omitempty"`
	} `json:"output"`
}

func (c *EndpointClient) Submit(ctx context.Context, attachmentURL, model string) (string, error) {
	var body endpointStatus
	code, err := c.do(ctx, http.MethodPost, c.BaseURL+"/transcribe", map[string]string{"url": attachmentURL}, &body)
	if err != nil {
		return "", fmt.Errorf("endpoint submit: %w", err)
	}
	if code != http.StatusOK || body.ID == "" {
		return "", fmt.Errorf("endpoint submit: unexpected status %d", code)
	}
	return body.ID, nil
}

func (c *EndpointClient) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	var body endpointStatus
	code, err := c.do(ctx, http.MethodGet, c.BaseURL+"/job/"+jobID, nil, &body)
	if err != nil {
		return nil, fmt.Errorf("endpoint status: %w", err)
	}
	if code != http.StatusOK {
		// The endpoint answers non-200 for jobs it no longer tracks.
		return nil, nil
	}
	return &JobStatus{
		ID:            body.ID,
		State:         body.Status,
		Model:         body.Output.Model,
		Transcription: body.Output.Transcription,
		Language:      body.Output.DetectedLanguage,
		Error:         body.Error,
	}, nil
}

func (c *EndpointClient) Cancel(ctx context.Context, jobID string) error {
	// No cancel route; the local job row delete is the cancellation.
	return nil
}

func (c *EndpointClient) Health(ctx context.Context) (*Health, error) {
	return &Health{WorkersRunning: 1}, nil
}
