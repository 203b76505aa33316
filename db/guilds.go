package db

import (
	"context"
	"database/sql"
	"time"
)

// IsUserIgnored reports whether transcription requests from (or against)
// the user should be refused.
func IsUserIgnored(ctx context.Context, dbx *sql.DB, userID string) (bool, error) {
	var one int
	err := dbx.QueryRowContext(ctx, `SELECT 1 FROM ignored_users WHERE user_id=$1`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetUserIgnored adds or removes a user from the ignore list.
func SetUserIgnored(ctx context.Context, dbx *sql.DB, userID, scope string, ignored bool) error {
	var err error
	if ignored {
		_, err = dbx.ExecContext(ctx, `INSERT INTO ignored_users (user_id, scope) VALUES ($1,$2)
			ON CONFLICT (user_id) DO UPDATE SET scope=EXCLUDED.scope`, userID, scope)
	} else {
		_, err = dbx.ExecContext(ctx, `DELETE FROM ignored_users WHERE user_id=$1`, userID)
	}
	return err
}

// GetAutoTranscribe reports whether a guild opted into transcribing voice
// messages automatically on arrival. Defaults to false for unknown guilds.
func GetAutoTranscribe(ctx context.Context, dbx *sql.DB, guildID string) (bool, error) {
	var enabled bool
	err := dbx.QueryRowContext(ctx, `SELECT auto_transcribe FROM guild_settings WHERE guild_id=$1`, guildID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return enabled, err
}

// SetAutoTranscribe stores the guild's auto-transcription preference.
func SetAutoTranscribe(ctx context.Context, dbx *sql.DB, guildID string, enabled bool) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO guild_settings (guild_id, auto_transcribe) VALUES ($1,$2)
		ON CONFLICT (guild_id) DO UPDATE SET auto_transcribe=EXCLUDED.auto_transcribe`, guildID, enabled)
	return err
}

// PremiumGuild marks a guild as having an active premium entitlement.
type PremiumGuild struct {
	GuildID     string
	PurchaserID string
	ExpiresAt   sql.NullTime
}

// IsPremiumGuild reports whether the guild has an unexpired entitlement.
func IsPremiumGuild(ctx context.Context, dbx *sql.DB, guildID string) (bool, error) {
	var expires sql.NullTime
	err := dbx.QueryRowContext(ctx, `SELECT expires_at FROM premium_guilds WHERE guild_id=$1`, guildID).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if expires.Valid && !expires.Time.After(time.Now()) {
		return false, nil
	}
	return true, nil
}

// GetPremiumGuild returns the guild's entitlement, or nil when it has none.
func GetPremiumGuild(ctx context.Context, dbx *sql.DB, guildID string) (*PremiumGuild, error) {
	var g PremiumGuild
	err := dbx.QueryRowContext(ctx,
		`SELECT guild_id, purchaser_id, expires_at FROM premium_guilds WHERE guild_id=$1`, guildID).
		Scan(&g.GuildID, &g.PurchaserID, &g.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GrantPremium records or extends a guild's entitlement. A null expiry means
// it does not lapse on its own.
func GrantPremium(ctx context.Context, dbx *sql.DB, g PremiumGuild) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO premium_guilds (guild_id, purchaser_id, expires_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (guild_id) DO UPDATE SET purchaser_id=EXCLUDED.purchaser_id, expires_at=EXCLUDED.expires_at`,
		g.GuildID, g.PurchaserID, g.ExpiresAt)
	return err
}

// ListPremiumGuildsForUser returns the guilds whose entitlement the user
// purchased; feeds the premium-remove autocomplete.
func ListPremiumGuildsForUser(ctx context.Context, dbx *sql.DB, purchaserID string) ([]PremiumGuild, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT guild_id, purchaser_id, expires_at FROM premium_guilds WHERE purchaser_id=$1 ORDER BY guild_id`, purchaserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PremiumGuild
	for rows.Next() {
		var g PremiumGuild
		if err := rows.Scan(&g.GuildID, &g.PurchaserID, &g.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RevokePremium removes a guild's entitlement.
func RevokePremium(ctx context.Context, dbx *sql.DB, guildID string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM premium_guilds WHERE guild_id=$1`, guildID)
	return err
}
