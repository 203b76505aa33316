package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// MockInferenceServer creates a test server that mocks a RunPod-style
// serverless transcription endpoint (run/status/cancel/health).
type MockInferenceServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockInferenceServer creates a new mock inference API server. Routes are
// matched on the path suffix after the endpoint ID, so handlers register
// keys like "/run" or "/status".
func NewMockInferenceServer(t *testing.T) *MockInferenceServer {
	t.Helper()
	m := &MockInferenceServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for key, handler := range m.Handlers {
			if strings.Contains(r.URL.Path, key) {
				handler(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockRunResponse adds a handler that accepts submissions and returns the
// given job ID in the queued state.
func (m *MockInferenceServer) MockRunResponse(jobID string) {
	m.Handlers["/run"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"id":     jobID,
			"status": "IN_QUEUE",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockStatusResponse adds a handler for status polls. A terminal COMPLETED
// status carries the transcription text in the output block.
func (m *MockInferenceServer) MockStatusResponse(jobID, status, transcription string) {
	m.Handlers["/status"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"id":     jobID,
			"status": status,
			"output": map[string]string{
				"model":             "large-v3",
				"transcription":     transcription,
				"detected_language": "en",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockHealthResponse adds a handler for the endpoint health probe.
func (m *MockInferenceServer) MockHealthResponse(idle, running, inQueue, inProgress int) {
	m.Handlers["/health"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"workers": map[string]int{"idle": idle, "running": running},
			"jobs":    map[string]int{"inQueue": inQueue, "inProgress": inProgress},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockDiscordServer creates a test server that mocks the Discord REST API.
// Requests are recorded so tests can assert on side effects.
type MockDiscordServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
	Requests []RecordedRequest
}

// RecordedRequest captures one call made against the mock Discord API.
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// NewMockDiscordServer creates a new mock Discord API server. Handlers are
// keyed by "METHOD /path"; unmatched requests get an empty message object so
// client response decoding stays happy.
func NewMockDiscordServer(t *testing.T) *MockDiscordServer {
	t.Helper()
	m := &MockDiscordServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.Requests = append(m.Requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
		key := r.Method + " " + r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"0","channel_id":"0"}`))
	}))
	t.Cleanup(m.Close)
	return m
}

// MockMessageResponse adds a handler that returns a message object for the
// given method and path.
func (m *MockDiscordServer) MockMessageResponse(method, path, messageID, channelID string) {
	m.Handlers[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"id":         messageID,
			"channel_id": channelID,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockErrorResponse adds a handler that fails with a Discord API error body.
func (m *MockDiscordServer) MockErrorResponse(method, path string, httpStatus, code int, message string) {
	m.Handlers[method+" "+path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"code":    code,
			"message": message,
		})
	}
}
