package db

import (
	"context"
	"database/sql"
	"time"
)

// Transcription records a delivered transcript so repeat requests against the
// same source message reuse the existing response instead of re-running
// inference. Keyed by the source message id.
type Transcription struct {
	InitialMessageID  string
	ResponseMessageID string
	ThreadID          string
	Model             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UpsertTranscription inserts or refreshes the record for a source message.
// Escalation overwrites response/thread/model in place.
func UpsertTranscription(ctx context.Context, dbx *sql.DB, t Transcription) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO transcriptions
		(initial_message_id, response_message_id, thread_id, model, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NOW(),NOW())
		ON CONFLICT (initial_message_id) DO UPDATE SET
			response_message_id=EXCLUDED.response_message_id,
			thread_id=EXCLUDED.thread_id,
			model=EXCLUDED.model,
			updated_at=NOW()`,
		t.InitialMessageID, t.ResponseMessageID, t.ThreadID, t.Model)
	return err
}

// GetTranscription returns the record for a source message, or nil.
func GetTranscription(ctx context.Context, dbx *sql.DB, initialMessageID string) (*Transcription, error) {
	var t Transcription
	err := dbx.QueryRowContext(ctx, `SELECT initial_message_id, response_message_id,
		COALESCE(thread_id,''), COALESCE(model,''), created_at, updated_at
		FROM transcriptions WHERE initial_message_id=$1`, initialMessageID).
		Scan(&t.InitialMessageID, &t.ResponseMessageID, &t.ThreadID, &t.Model, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindTranscriptionByResponse maps a bot response message back to its record;
// used to tear the record down when the reply itself is deleted.
func FindTranscriptionByResponse(ctx context.Context, dbx *sql.DB, responseMessageID string) (*Transcription, error) {
	var t Transcription
	err := dbx.QueryRowContext(ctx, `SELECT initial_message_id, response_message_id,
		COALESCE(thread_id,''), COALESCE(model,''), created_at, updated_at
		FROM transcriptions WHERE response_message_id=$1`, responseMessageID).
		Scan(&t.InitialMessageID, &t.ResponseMessageID, &t.ThreadID, &t.Model, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CountTranscriptions returns the number of recorded transcriptions.
func CountTranscriptions(ctx context.Context, dbx *sql.DB) (int, error) {
	var n int
	err := dbx.QueryRowContext(ctx, `SELECT COUNT(1) FROM transcriptions`).Scan(&n)
	return n, err
}

// DeleteTranscription removes the record for a source message. Called when
// the source message is deleted so a later request re-transcribes.
func DeleteTranscription(ctx context.Context, dbx *sql.DB, initialMessageID string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM transcriptions WHERE initial_message_id=$1`, initialMessageID)
	return err
}
