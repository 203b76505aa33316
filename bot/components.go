package bot

import (
	"context"
	"strings"
	"time"

	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/transcription"
)

// componentRetry handles the retry button on a failed transcription. The
// custom id carries the original message id after the "retry." prefix.
func (b *Bot) componentRetry() *Command {
	return &Command{
		Descriptor: Descriptor{Key: "retry.", Cooldown: 10 * time.Second},
		Run: func(ctx context.Context, ev *Event) error {
			initialMessageID := strings.TrimPrefix(ev.Interaction.Data.CustomID, "retry.")

			inFlight, err := db.FindJobByMessage(ctx, b.DB, initialMessageID)
			if err != nil {
				return err
			}
			if inFlight != nil {
				return b.replyEphemeral(ctx, ev, b.Translator.Get("MESSAGE_STILL_BEING_TRANSCRIBED"))
			}

			target, err := b.API.GetMessage(ctx, ev.ChannelID(), initialMessageID)
			if err != nil {
				return err
			}
			attachment := b.pickAttachment(target)
			if attachment == nil {
				return b.replyEphemeral(ctx, ev, b.Translator.Get("NO_VALID_ATTACHMENTS_ERROR"))
			}

			if err := b.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
				Type: discord.CallbackChannelMessageWithSource,
				Data: &discord.InteractionCallback{Content: b.Translator.Get("TRANSCRIBING")},
			}); err != nil {
				return err
			}
			placeholder, err := b.API.GetOriginalResponse(ctx, ev.Interaction.Token)
			if err != nil {
				return err
			}

			_, err = b.Orch.Submit(ctx, transcription.SubmitRequest{
				AttachmentURL:     attachment.URL,
				GuildID:           ev.GuildID(),
				ChannelID:         ev.ChannelID(),
				InitialMessageID:  initialMessageID,
				ResponseMessageID: placeholder.ID,
				InteractionID:     ev.Interaction.ID,
				InteractionToken:  ev.Interaction.Token,
			})
			return err
		},
	}
}

// componentPremiumSelect handles the management menu under /premium.
// Values look like "remove:<guild id>"; only the purchaser may revoke.
func (b *Bot) componentPremiumSelect() *Command {
	return &Command{
		Descriptor: Descriptor{Key: "premium."},
		Run: func(ctx context.Context, ev *Event) error {
			if len(ev.Interaction.Data.Values) == 0 {
				return b.replyEphemeral(ctx, ev, b.Translator.Get("PREMIUM_INFO_DESCRIPTION"))
			}
			value := ev.Interaction.Data.Values[0]
			guildID, ok := strings.CutPrefix(value, "remove:")
			if !ok {
				return b.replyEphemeral(ctx, ev, b.Translator.Get("PREMIUM_INFO_DESCRIPTION"))
			}

			entitlement, err := db.GetPremiumGuild(ctx, b.DB, guildID)
			if err != nil {
				return err
			}
			if entitlement == nil || entitlement.PurchaserID != ev.UserID() {
				return b.replyEphemeral(ctx, ev, b.Translator.Get("NOT_A_PREMIUM_GUILD_DESCRIPTION"))
			}
			if err := db.RevokePremium(ctx, b.DB, guildID); err != nil {
				return err
			}
			return b.replyEphemeral(ctx, ev, b.Translator.Get("PREMIUM_REMOVED", guildID))
		},
	}
}
