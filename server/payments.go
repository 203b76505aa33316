package server

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/telemetry"
)

// paymentEvent is the provider's entitlement notification. Created events
// grant premium to a guild; deleted events revoke it.
type paymentEvent struct {
	Type string `json:"type"`
	Data struct {
		GuildID     string     `json:"guild_id"`
		PurchaserID string     `json:"purchaser_id"`
		ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	} `json:"data"`
}

// HandlePaymentWebhook applies entitlement changes pushed by the payment
// provider. Authenticated with a shared token header.
func (h *Handlers) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.PaymentWebhookToken == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Payment-Token")), []byte(h.cfg.PaymentWebhookToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var event paymentEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.Data.GuildID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	log := telemetry.LoggerWithCorr(r.Context())
	switch event.Type {
	case "entitlement.created", "entitlement.renewed":
		grant := db.PremiumGuild{
			GuildID:     event.Data.GuildID,
			PurchaserID: event.Data.PurchaserID,
		}
		if event.Data.ExpiresAt != nil {
			grant.ExpiresAt = sql.NullTime{Time: *event.Data.ExpiresAt, Valid: true}
		}
		if err := db.GrantPremium(r.Context(), h.db, grant); err != nil {
			log.Error("grant premium failed", "guild_id", event.Data.GuildID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		log.Info("premium granted", "guild_id", event.Data.GuildID)
	case "entitlement.deleted":
		if err := db.RevokePremium(r.Context(), h.db, event.Data.GuildID); err != nil {
			log.Error("revoke premium failed", "guild_id", event.Data.GuildID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		log.Info("premium revoked", "guild_id", event.Data.GuildID)
	default:
		log.Debug("ignoring payment event", "type", event.Type)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
