package db

import (
	"context"
	"database/sql"
	"time"
)

// UpsertCooldown records that a user ran a command, setting when the
// per-command cooldown lapses. Written only after a successful run.
func UpsertCooldown(ctx context.Context, dbx *sql.DB, commandKey, commandKind, userID string, expiresAt time.Time) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO cooldowns (command_key, command_kind, user_id, expires_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (command_key, command_kind, user_id) DO UPDATE SET expires_at=EXCLUDED.expires_at`,
		commandKey, commandKind, userID, expiresAt)
	return err
}

// GetCooldownExpiry returns when the user's cooldown for a command lapses.
// A zero time means no active cooldown.
func GetCooldownExpiry(ctx context.Context, dbx *sql.DB, commandKey, commandKind, userID string) (time.Time, error) {
	var expires time.Time
	err := dbx.QueryRowContext(ctx, `SELECT expires_at FROM cooldowns
		WHERE command_key=$1 AND command_kind=$2 AND user_id=$3`,
		commandKey, commandKind, userID).Scan(&expires)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if !expires.After(time.Now()) {
		return time.Time{}, nil
	}
	return expires, nil
}

// PurgeExpiredCooldowns removes lapsed rows; run periodically to keep the
// table from accumulating.
func PurgeExpiredCooldowns(ctx context.Context, dbx *sql.DB) (int64, error) {
	res, err := dbx.ExecContext(ctx, `DELETE FROM cooldowns WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
