package transcription

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polarhq/yapper-backend/config"
	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/diag"
	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/lang"
	"github.com/polarhq/yapper-backend/telemetry"
	"github.com/polarhq/yapper-backend/testutil"
)

// fakeBackend scripts Submit/Status/Health responses and records calls.
type fakeBackend struct {
	mu        sync.Mutex
	nextID    int
	submitted []string // models in submission order
	cancelled []string
	statuses  map[string]*JobStatus
	health    Health
}

func newFakeBackend(workersRunning int) *fakeBackend {
	return &fakeBackend{
		statuses: make(map[string]*JobStatus),
		health:   Health{WorkersRunning: workersRunning},
	}
}

func (f *fakeBackend) Submit(ctx context.Context, attachmentURL, model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake-%d", f.nextID)
	f.submitted = append(f.submitted, model)
	f.statuses[id] = &JobStatus{ID: id, State: StateInQueue, Model: model}
	return id, nil
}

func (f *fakeBackend) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[jobID], nil
}

func (f *fakeBackend) Cancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeBackend) Health(ctx context.Context) (*Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.health
	return &h, nil
}

func (f *fakeBackend) submittedModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

// fakeAPI implements MessageAPI and records every mutation.
type fakeAPI struct {
	mu              sync.Mutex
	editedOriginals []discord.MessageCreate
	editedMessages  []discord.MessageCreate
	created         []discord.MessageCreate
	deletedMessages []string
	deletedChannels []string
	channelEdits    map[string][]discord.ChannelEdit
	threadErr       error
	nextMsgID       int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{channelEdits: make(map[string][]discord.ChannelEdit)}
}

func (f *fakeAPI) msg() *discord.Message {
	f.nextMsgID++
	return &discord.Message{ID: fmt.Sprintf("fake-msg-%d", f.nextMsgID)}
}

func (f *fakeAPI) EditOriginalResponse(ctx context.Context, token string, body discord.MessageCreate) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editedOriginals = append(f.editedOriginals, body)
	return f.msg(), nil
}

func (f *fakeAPI) CreateMessage(ctx context.Context, channelID string, body discord.MessageCreate) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, body)
	return f.msg(), nil
}

func (f *fakeAPI) EditMessage(ctx context.Context, channelID, messageID string, body discord.MessageCreate) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editedMessages = append(f.editedMessages, body)
	return f.msg(), nil
}

func (f *fakeAPI) GetMessage(ctx context.Context, channelID, messageID string) (*discord.Message, error) {
	return &discord.Message{ID: messageID, ChannelID: channelID, Thread: &discord.Channel{ID: "existing-thread"}}, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMessages = append(f.deletedMessages, messageID)
	return nil
}

func (f *fakeAPI) StartThreadFromMessage(ctx context.Context, channelID, messageID string, body discord.ThreadCreate) (*discord.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadErr != nil {
		return nil, f.threadErr
	}
	return &discord.Channel{ID: "thread-new", ParentID: channelID}, nil
}

func (f *fakeAPI) EditChannel(ctx context.Context, channelID string, body discord.ChannelEdit) (*discord.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelEdits[channelID] = append(f.channelEdits[channelID], body)
	return &discord.Channel{ID: channelID}, nil
}

func (f *fakeAPI) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedChannels = append(f.deletedChannels, channelID)
	return nil
}

func (f *fakeAPI) placeholderEdits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.editedOriginals) + len(f.editedMessages)
}

func setupOrchestrator(t *testing.T, serverless, endpoint *fakeBackend) (*Orchestrator, *fakeAPI, *sql.DB) {
	t.Helper()
	database := testutil.SetupTestDB(t)

	telemetry.Init()
	api := newFakeAPI()
	cfg := &config.Config{MessageCharLimit: 2000, JobPollInterval: 5 * time.Second}
	orch := NewOrchestrator(database, api, serverless, endpoint, lang.New(), &diag.Reporter{}, cfg)
	return orch, api, database
}

func cleanupJob(t *testing.T, database *sql.DB, initialMessageID string) {
	t.Helper()
	database.Exec(`DELETE FROM jobs WHERE initial_message_id=$1`, initialMessageID)
	database.Exec(`DELETE FROM transcriptions WHERE initial_message_id=$1`, initialMessageID)
}

func TestSubmitDegradePolicy(t *testing.T) {
	serverless := newFakeBackend(0)
	endpoint := newFakeBackend(1)
	orch, _, database := setupOrchestrator(t, serverless, endpoint)
	ctx := context.Background()
	defer cleanupJob(t, database, "msg-degrade")

	job, err := orch.Submit(ctx, SubmitRequest{
		AttachmentURL:     "https://cdn.example.com/a.ogg",
		ChannelID:         "chan-1",
		InitialMessageID:  "msg-degrade",
		ResponseMessageID: "resp-degrade",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Backend != BackendEndpoint || job.Model != ModelMedium {
		t.Errorf("degraded submit went to %s/%s, want endpoint/medium", job.Backend, job.Model)
	}

	serverless.mu.Lock()
	serverless.health.WorkersRunning = 2
	serverless.mu.Unlock()
	defer cleanupJob(t, database, "msg-healthy")

	job, err = orch.Submit(ctx, SubmitRequest{
		AttachmentURL:     "https://cdn.example.com/a.ogg",
		ChannelID:         "chan-1",
		InitialMessageID:  "msg-healthy",
		ResponseMessageID: "resp-healthy",
	})
	if err != nil {
		t.Fatalf("Submit healthy: %v", err)
	}
	if job.Backend != BackendServerless || job.Model != ModelLargeV3 {
		t.Errorf("healthy submit went to %s/%s, want serverless/large-v3", job.Backend, job.Model)
	}
}

// TestCompletionRace delivers the same terminal status from two goroutines,
// simulating the poll sweep and the webhook arriving together. Exactly one
// delivery must happen and the job row must be gone.
func TestCompletionRace(t *testing.T) {
	serverless := newFakeBackend(2)
	orch, api, database := setupOrchestrator(t, serverless, newFakeBackend(1))
	ctx := context.Background()
	defer cleanupJob(t, database, "msg-race")

	job, err := orch.Submit(ctx, SubmitRequest{
		AttachmentURL:     "https://cdn.example.com/a.ogg",
		ChannelID:         "chan-1",
		InitialMessageID:  "msg-race",
		ResponseMessageID: "resp-race",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status := &JobStatus{ID: job.ID, State: StateCompleted, Model: job.Model, Transcription: "a short transcript"}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := orch.HandleCompletion(ctx, status); err != nil {
				t.Errorf("HandleCompletion: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := api.placeholderEdits(); n != 1 {
		t.Errorf("placeholder edited %d times, want 1", n)
	}
	remaining, err := db.GetJob(ctx, database, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if remaining != nil {
		t.Errorf("job row survived completion: %+v", remaining)
	}
}

// TestEscalationChain drives a degraded job through both completions: the
// medium result delivers with the higher-quality note and resubmits at
// large-v3; the large-v3 result edits in place and leaves no open jobs.
func TestEscalationChain(t *testing.T) {
	serverless := newFakeBackend(0)
	endpoint := newFakeBackend(1)
	orch, api, database := setupOrchestrator(t, serverless, endpoint)
	ctx := context.Background()
	defer cleanupJob(t, database, "msg-esc")

	job, err := orch.Submit(ctx, SubmitRequest{
		AttachmentURL:     "https://cdn.example.com/a.ogg",
		ChannelID:         "chan-1",
		InitialMessageID:  "msg-esc",
		ResponseMessageID: "resp-esc",
		InteractionToken:  "tok-esc",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Model != ModelMedium {
		t.Fatalf("expected degraded first submission, got %s", job.Model)
	}

	if err := orch.HandleCompletion(ctx, &JobStatus{
		ID: job.ID, State: StateCompleted, Model: ModelMedium, Transcription: "quick result",
	}); err != nil {
		t.Fatalf("first HandleCompletion: %v", err)
	}

	api.mu.Lock()
	if len(api.editedOriginals) != 1 {
		t.Fatalf("placeholder edits = %d, want 1", len(api.editedOriginals))
	}
	if !strings.Contains(api.editedOriginals[0].Content, lang.New().Get("HIGHER_QUALITY_NOTE")) {
		t.Error("degraded delivery missing higher-quality note")
	}
	api.mu.Unlock()

	// Escalation pins large-v3 on the serverless pool.
	if got := serverless.submittedModels(); len(got) != 1 || got[0] != ModelLargeV3 {
		t.Fatalf("serverless submissions = %v, want [large-v3]", got)
	}
	escalated, err := db.FindJobByMessage(ctx, database, "msg-esc")
	if err != nil {
		t.Fatalf("FindJobByMessage: %v", err)
	}
	if escalated == nil || escalated.Model != ModelLargeV3 {
		t.Fatalf("escalated job = %+v", escalated)
	}
	if escalated.InteractionToken != "tok-esc" {
		t.Errorf("escalated job lost interaction token: %q", escalated.InteractionToken)
	}

	if err := orch.HandleCompletion(ctx, &JobStatus{
		ID: escalated.ID, State: StateCompleted, Model: ModelLargeV3, Transcription: "better result",
	}); err != nil {
		t.Fatalf("second HandleCompletion: %v", err)
	}

	api.mu.Lock()
	last := api.editedOriginals[len(api.editedOriginals)-1]
	if strings.Contains(last.Content, lang.New().Get("HIGHER_QUALITY_NOTE")) {
		t.Error("final delivery still carries the higher-quality note")
	}
	if !strings.Contains(last.Content, "better result") {
		t.Errorf("final delivery content = %q", last.Content)
	}
	api.mu.Unlock()

	open, err := db.FindJobByMessage(ctx, database, "msg-esc")
	if err != nil {
		t.Fatalf("FindJobByMessage after chain: %v", err)
	}
	if open != nil {
		t.Errorf("open job remains after escalation chain: %+v", open)
	}

	rec, err := db.GetTranscription(ctx, database, "msg-esc")
	if err != nil {
		t.Fatalf("GetTranscription: %v", err)
	}
	if rec == nil || rec.Model != ModelLargeV3 {
		t.Errorf("final record = %+v, want large-v3", rec)
	}
}

func TestFailureDelivery(t *testing.T) {
	serverless := newFakeBackend(2)
	orch, api, database := setupOrchestrator(t, serverless, newFakeBackend(1))
	ctx := context.Background()
	defer cleanupJob(t, database, "msg-fail")

	job, err := orch.Submit(ctx, SubmitRequest{
		AttachmentURL:     "https://cdn.example.com/a.ogg",
		ChannelID:         "chan-1",
		InitialMessageID:  "msg-fail",
		ResponseMessageID: "resp-fail",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := orch.HandleCompletion(ctx, &JobStatus{
		ID: job.ID, State: StateFailed, Error: "worker exploded",
	}); err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.editedMessages) != 1 {
		t.Fatalf("placeholder edits = %d, want 1", len(api.editedMessages))
	}
	edit := api.editedMessages[0]
	if edit.Content != lang.New().Get("TRANSCRIPTION_FAILED") {
		t.Errorf("failure content = %q", edit.Content)
	}
	if len(edit.Components) != 1 || len(edit.Components[0].Components) != 1 {
		t.Fatal("failure delivery missing retry button")
	}
	if got := edit.Components[0].Components[0].CustomID; got != "retry.msg-fail" {
		t.Errorf("retry custom id = %q", got)
	}
}

func TestCancellationScenario(t *testing.T) {
	serverless := newFakeBackend(2)
	orch, api, database := setupOrchestrator(t, serverless, newFakeBackend(1))
	ctx := context.Background()
	defer cleanupJob(t, database, "msg-cancel")

	job, err := orch.Submit(ctx, SubmitRequest{
		AttachmentURL:     "https://cdn.example.com/a.ogg",
		ChannelID:         "chan-1",
		InitialMessageID:  "msg-cancel",
		ResponseMessageID: "resp-cancel",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := orch.CancelForMessage(ctx, "chan-1", "msg-cancel"); err != nil {
		t.Fatalf("CancelForMessage: %v", err)
	}

	serverless.mu.Lock()
	if len(serverless.cancelled) != 1 || serverless.cancelled[0] != job.ID {
		t.Errorf("backend cancels = %v", serverless.cancelled)
	}
	serverless.mu.Unlock()

	remaining, err := db.GetJob(ctx, database, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if remaining != nil {
		t.Errorf("job row survived cancel: %+v", remaining)
	}

	api.mu.Lock()
	deletedPlaceholder := false
	for _, id := range api.deletedMessages {
		if id == "resp-cancel" {
			deletedPlaceholder = true
		}
	}
	api.mu.Unlock()
	if !deletedPlaceholder {
		t.Error("placeholder message not deleted")
	}

	// Deleting the source after delivery removes the record, reply, and thread.
	if err := db.UpsertTranscription(ctx, database, db.Transcription{
		InitialMessageID:  "msg-cancel",
		ResponseMessageID: "resp-cancel",
		ThreadID:          "thread-cancel",
		Model:             ModelLargeV3,
	}); err != nil {
		t.Fatalf("UpsertTranscription: %v", err)
	}
	if err := orch.CancelForMessage(ctx, "chan-1", "msg-cancel"); err != nil {
		t.Fatalf("CancelForMessage with record: %v", err)
	}

	api.mu.Lock()
	threadDeleted := false
	for _, id := range api.deletedChannels {
		if id == "thread-cancel" {
			threadDeleted = true
		}
	}
	api.mu.Unlock()
	if !threadDeleted {
		t.Error("transcript thread not deleted")
	}

	rec, err := db.GetTranscription(ctx, database, "msg-cancel")
	if err != nil {
		t.Fatalf("GetTranscription: %v", err)
	}
	if rec != nil {
		t.Errorf("record survived cancellation: %+v", rec)
	}
}

// TestCancelForDeletedReply covers the user deleting the bot's transcript
// reply rather than the source voice message: the record is found by its
// response id and torn down the same way.
func TestCancelForDeletedReply(t *testing.T) {
	serverless := newFakeBackend(2)
	orch, api, database := setupOrchestrator(t, serverless, newFakeBackend(1))
	ctx := context.Background()
	defer cleanupJob(t, database, "msg-reply-del")

	if err := db.UpsertTranscription(ctx, database, db.Transcription{
		InitialMessageID:  "msg-reply-del",
		ResponseMessageID: "resp-reply-del",
		ThreadID:          "thread-reply-del",
		Model:             ModelLargeV3,
	}); err != nil {
		t.Fatalf("UpsertTranscription: %v", err)
	}

	if err := orch.CancelForMessage(ctx, "chan-1", "resp-reply-del"); err != nil {
		t.Fatalf("CancelForMessage: %v", err)
	}

	api.mu.Lock()
	threadDeleted := false
	for _, id := range api.deletedChannels {
		if id == "thread-reply-del" {
			threadDeleted = true
		}
	}
	api.mu.Unlock()
	if !threadDeleted {
		t.Error("transcript thread not deleted")
	}

	rec, err := db.GetTranscription(ctx, database, "msg-reply-del")
	if err != nil {
		t.Fatalf("GetTranscription: %v", err)
	}
	if rec != nil {
		t.Errorf("record survived reply deletion: %+v", rec)
	}
}

// TestPollLoopSettlesJob runs one poll sweep against a backend reporting a
// terminal state.
func TestPollLoopSettlesJob(t *testing.T) {
	serverless := newFakeBackend(2)
	orch, api, database := setupOrchestrator(t, serverless, newFakeBackend(1))
	ctx := context.Background()
	defer cleanupJob(t, database, "msg-poll")

	job, err := orch.Submit(ctx, SubmitRequest{
		AttachmentURL:     "https://cdn.example.com/a.ogg",
		ChannelID:         "chan-1",
		InitialMessageID:  "msg-poll",
		ResponseMessageID: "resp-poll",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	serverless.mu.Lock()
	serverless.statuses[job.ID] = &JobStatus{
		ID: job.ID, State: StateCompleted, Model: job.Model, Transcription: "polled transcript",
	}
	serverless.mu.Unlock()

	orch.pollOnce(ctx)

	if n := api.placeholderEdits(); n != 1 {
		t.Errorf("placeholder edits = %d, want 1", n)
	}
	remaining, err := db.GetJob(ctx, database, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if remaining != nil {
		t.Errorf("job row survived poll settlement: %+v", remaining)
	}
}

// TestPollRecordsSweepTimestamp verifies each sweep stamps kv so /status can
// report when the reconciler last ran.
func TestPollRecordsSweepTimestamp(t *testing.T) {
	serverless := newFakeBackend(2)
	orch, _, database := setupOrchestrator(t, serverless, newFakeBackend(1))
	ctx := context.Background()
	t.Cleanup(func() {
		database.Exec(`DELETE FROM kv WHERE key='last_job_sweep'`)
	})

	before := time.Now().UTC().Add(-time.Second)
	orch.pollOnce(ctx)

	stamp, err := db.GetKV(ctx, database, "last_job_sweep")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		t.Fatalf("sweep timestamp %q not RFC3339: %v", stamp, err)
	}
	if at.Before(before) {
		t.Errorf("sweep timestamp %v predates the sweep", at)
	}
}

// TestPollDropsForgottenJob verifies the sweep deletes rows the backend no
// longer tracks.
func TestPollDropsForgottenJob(t *testing.T) {
	serverless := newFakeBackend(2)
	orch, _, database := setupOrchestrator(t, serverless, newFakeBackend(1))
	ctx := context.Background()
	defer cleanupJob(t, database, "msg-forgot")

	job, err := orch.Submit(ctx, SubmitRequest{
		AttachmentURL:     "https://cdn.example.com/a.ogg",
		ChannelID:         "chan-1",
		InitialMessageID:  "msg-forgot",
		ResponseMessageID: "resp-forgot",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	serverless.mu.Lock()
	delete(serverless.statuses, job.ID)
	serverless.mu.Unlock()

	orch.pollOnce(ctx)

	remaining, err := db.GetJob(ctx, database, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if remaining != nil {
		t.Errorf("forgotten job row survived sweep: %+v", remaining)
	}
}
