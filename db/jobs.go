package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Job identifies one in-flight unit of transcription work at an inference
// backend. The row exists only while the job is non-terminal; whoever first
// observes a terminal state removes it via TakeJob.
type Job struct {
	ID                string
	Backend           string // which infrastructure issued it: "serverless" | "endpoint"
	Model             string // requested quality tier
	AttachmentURL     string
	GuildID           string
	ChannelID         string
	InitialMessageID  string
	ResponseMessageID string
	InteractionID     string
	InteractionToken  string
	CreatedAt         time.Time
}

// CreateJob persists a new job row keyed by the backend-assigned id.
// The interaction token is encrypted when ENCRYPTION_KEY is configured.
func CreateJob(ctx context.Context, dbx *sql.DB, j Job) error {
	cipher, err := getTokenCipher()
	if err != nil {
		return fmt.Errorf("get token cipher: %w", err)
	}
	token := j.InteractionToken
	encrypted := false
	if cipher != nil && token != "" {
		if token, err = cipher.EncryptString(token); err != nil {
			return fmt.Errorf("encrypt interaction token: %w", err)
		}
		encrypted = true
	}
	_, err = dbx.ExecContext(ctx, `INSERT INTO jobs
		(id, backend, model, attachment_url, guild_id, channel_id, initial_message_id, response_message_id, interaction_id, interaction_token, token_encrypted, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())`,
		j.ID, j.Backend, j.Model, j.AttachmentURL, j.GuildID, j.ChannelID,
		j.InitialMessageID, j.ResponseMessageID, j.InteractionID, token, encrypted)
	return err
}

const jobColumns = `id, backend, model, attachment_url, COALESCE(guild_id,''), channel_id,
	initial_message_id, response_message_id, COALESCE(interaction_id,''), COALESCE(interaction_token,''),
	COALESCE(token_encrypted,false), created_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var encrypted bool
	if err := row.Scan(&j.ID, &j.Backend, &j.Model, &j.AttachmentURL, &j.GuildID, &j.ChannelID,
		&j.InitialMessageID, &j.ResponseMessageID, &j.InteractionID, &j.InteractionToken,
		&encrypted, &j.CreatedAt); err != nil {
		return nil, err
	}
	if encrypted && j.InteractionToken != "" {
		cipher, err := getTokenCipher()
		if err != nil {
			return nil, fmt.Errorf("get token cipher: %w", err)
		}
		if cipher == nil {
			return nil, fmt.Errorf("interaction token is encrypted but ENCRYPTION_KEY not configured")
		}
		if j.InteractionToken, err = cipher.DecryptString(j.InteractionToken); err != nil {
			return nil, fmt.Errorf("decrypt interaction token: %w", err)
		}
	}
	return &j, nil
}

// GetJob returns the job with the given id, or nil if absent.
func GetJob(ctx context.Context, dbx *sql.DB, id string) (*Job, error) {
	j, err := scanJob(dbx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// TakeJob atomically claims and removes the job with the given id, returning
// nil when another path already claimed it. The delete-returning round trip
// is the single mutual-exclusion point between the poll sweep and the
// webhook handler: exactly one caller observes the row.
func TakeJob(ctx context.Context, dbx *sql.DB, id string) (*Job, error) {
	j, err := scanJob(dbx.QueryRowContext(ctx, `DELETE FROM jobs WHERE id=$1 RETURNING `+jobColumns, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// DeleteJob removes a job row unconditionally; deleting an absent row is not an error.
func DeleteJob(ctx context.Context, dbx *sql.DB, id string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM jobs WHERE id=$1`, id)
	return err
}

// FindJobByMessage returns any in-flight job originating from the given
// source message, or nil.
func FindJobByMessage(ctx context.Context, dbx *sql.DB, initialMessageID string) (*Job, error) {
	j, err := scanJob(dbx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE initial_message_id=$1 ORDER BY created_at LIMIT 1`, initialMessageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// ListJobs returns all open jobs, oldest first.
func ListJobs(ctx context.Context, dbx *sql.DB) ([]Job, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// CountJobs returns the number of open jobs.
func CountJobs(ctx context.Context, dbx *sql.DB) (int, error) {
	var n int
	err := dbx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs`).Scan(&n)
	return n, err
}
