package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/permissions"
	"github.com/polarhq/yapper-backend/transcription"
)

const (
	transcribeKey          = "Transcribe"
	transcribeEphemeralKey = "Transcribe (ephemeral)"
)

func (b *Bot) registerCommands() {
	b.commands.Register(b.cmdPing())
	b.commands.Register(b.cmdTranscribe(transcribeKey, false))
	b.commands.Register(b.cmdTranscribe(transcribeEphemeralKey, true))
	b.commands.Register(b.cmdConfig())
	b.commands.Register(b.cmdIgnore())
	b.commands.Register(b.cmdPremium())

	b.components.RegisterPrefix("retry.", b.componentRetry())
	b.components.RegisterPrefix("premium.", b.componentPremiumSelect())

	b.text.Register(b.cmdStats())
}

func (b *Bot) cmdPing() *Command {
	return &Command{
		Descriptor: Descriptor{Key: "ping"},
		Run: func(ctx context.Context, ev *Event) error {
			start := time.Now()
			err := b.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
				Type: discord.CallbackChannelMessageWithSource,
				Data: &discord.InteractionCallback{Content: b.Translator.Get("PING"), Flags: discord.FlagEphemeral},
			})
			if err != nil {
				return err
			}
			_, err = b.API.EditOriginalResponse(ctx, ev.Interaction.Token, discord.MessageCreate{
				Content: b.Translator.Get("PONG", time.Since(start).Round(time.Millisecond)),
			})
			return err
		},
	}
}

// cmdTranscribe is the message context menu entry. The ephemeral variant
// replies only to the invoker; its result stays out of the channel.
func (b *Bot) cmdTranscribe(key string, ephemeral bool) *Command {
	return &Command{
		Descriptor: Descriptor{
			Key: key,
			BotPermissions: uint64(permissions.ViewChannel | permissions.SendMessages |
				permissions.ReadMessageHistory | permissions.CreatePublicThreads),
			Cooldown: 10 * time.Second,
		},
		PreCheck: func(ctx context.Context, ev *Event) (string, error) {
			target := ev.Interaction.TargetMessage()
			if target == nil {
				return "", fmt.Errorf("no target message resolved for %s", key)
			}
			attachment := b.pickAttachment(target)
			if attachment == nil {
				return b.Translator.Get("NO_VALID_ATTACHMENTS_ERROR"), nil
			}
			// Video transcription is the paid tier; voice stays free.
			if strings.HasPrefix(attachment.ContentType, "video/") && ev.GuildID() != "" {
				premium, err := db.IsPremiumGuild(ctx, b.DB, ev.GuildID())
				if err != nil {
					return "", err
				}
				if !premium {
					return b.Translator.Get("NOT_A_PREMIUM_GUILD_DESCRIPTION"), nil
				}
			}
			return "", nil
		},
		Run: func(ctx context.Context, ev *Event) error {
			target := ev.Interaction.TargetMessage()
			if target == nil {
				return fmt.Errorf("no target message resolved for %s", key)
			}

			if target.Author != nil {
				ignored, err := db.IsUserIgnored(ctx, b.DB, target.Author.ID)
				if err != nil {
					return err
				}
				if ignored {
					return b.replyEphemeral(ctx, ev, b.Translator.Get("USER_IS_IGNORED_ERROR"))
				}
			}

			// An existing transcript is reused, never re-run.
			record, err := db.GetTranscription(ctx, b.DB, target.ID)
			if err != nil {
				return err
			}
			if record != nil {
				return b.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
					Type: discord.CallbackChannelMessageWithSource,
					Data: &discord.InteractionCallback{
						Components: []discord.Component{discord.ActionRow(discord.Component{
							Type:  discord.ComponentTypeButton,
							Style: discord.ButtonStyleLink,
							URL:   discord.MessageLink(ev.GuildID(), ev.ChannelID(), record.ResponseMessageID),
							Label: b.Translator.Get("READ_MORE_BUTTON_LABEL"),
						})},
						Flags: discord.FlagEphemeral,
					},
				})
			}

			inFlight, err := db.FindJobByMessage(ctx, b.DB, target.ID)
			if err != nil {
				return err
			}
			if inFlight != nil {
				return b.replyEphemeral(ctx, ev, b.Translator.Get("MESSAGE_STILL_BEING_TRANSCRIBED"))
			}

			flags := 0
			if ephemeral {
				flags = discord.FlagEphemeral
			}
			if err := b.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
				Type: discord.CallbackChannelMessageWithSource,
				Data: &discord.InteractionCallback{Content: b.Translator.Get("TRANSCRIBING"), Flags: flags},
			}); err != nil {
				return err
			}
			placeholder, err := b.API.GetOriginalResponse(ctx, ev.Interaction.Token)
			if err != nil {
				return fmt.Errorf("fetch placeholder: %w", err)
			}

			attachment := b.pickAttachment(target)
			_, err = b.Orch.Submit(ctx, transcription.SubmitRequest{
				AttachmentURL:     attachment.URL,
				GuildID:           ev.GuildID(),
				ChannelID:         ev.ChannelID(),
				InitialMessageID:  target.ID,
				ResponseMessageID: placeholder.ID,
				InteractionID:     ev.Interaction.ID,
				InteractionToken:  ev.Interaction.Token,
			})
			return err
		},
	}
}

func (b *Bot) cmdConfig() *Command {
	return &Command{
		Descriptor: Descriptor{
			Key:             "config",
			UserPermissions: uint64(permissions.ManageGuild),
		},
		PreCheck: func(ctx context.Context, ev *Event) (string, error) {
			if ev.GuildID() == "" {
				return b.Translator.Get("NOT_A_PREMIUM_GUILD_DESCRIPTION"), nil
			}
			premium, err := db.IsPremiumGuild(ctx, b.DB, ev.GuildID())
			if err != nil {
				return "", err
			}
			if !premium {
				return b.Translator.Get("NOT_A_PREMIUM_GUILD_DESCRIPTION"), nil
			}
			return "", nil
		},
		Run: func(ctx context.Context, ev *Event) error {
			sub := subcommand(ev.Interaction, "auto_transcription")
			if sub == nil {
				return fmt.Errorf("config invoked without a known subcommand")
			}
			enabled := false
			for _, opt := range sub.Options {
				if opt.Name == "enabled" {
					enabled = opt.BoolValue()
				}
			}
			if err := db.SetAutoTranscribe(ctx, b.DB, ev.GuildID(), enabled); err != nil {
				return err
			}
			msg := "AUTO_TRANSCRIPTION_DISABLED"
			if enabled {
				msg = "AUTO_TRANSCRIPTION_ENABLED"
			}
			return b.replyEphemeral(ctx, ev, b.Translator.Get(msg))
		},
	}
}

func (b *Bot) cmdIgnore() *Command {
	return &Command{
		Descriptor: Descriptor{Key: "ignore"},
		Run: func(ctx context.Context, ev *Event) error {
			userID := ev.UserID()
			ignored, err := db.IsUserIgnored(ctx, b.DB, userID)
			if err != nil {
				return err
			}
			if err := db.SetUserIgnored(ctx, b.DB, userID, "global", !ignored); err != nil {
				return err
			}
			msg := "USER_IGNORED"
			if ignored {
				msg = "USER_UNIGNORED"
			}
			return b.replyEphemeral(ctx, ev, b.Translator.Get(msg))
		},
	}
}

func (b *Bot) cmdPremium() *Command {
	return &Command{
		Descriptor: Descriptor{Key: "premium"},
		Run: func(ctx context.Context, ev *Event) error {
			description := b.Translator.Get("PREMIUM_INFO_DESCRIPTION")
			if ev.GuildID() != "" {
				entitlement, err := db.GetPremiumGuild(ctx, b.DB, ev.GuildID())
				if err != nil {
					return err
				}
				if entitlement != nil {
					until := "you cancel"
					if entitlement.ExpiresAt.Valid {
						until = entitlement.ExpiresAt.Time.Format("January 2, 2006")
					}
					description += "\n\n" + b.Translator.Get("PREMIUM_ACTIVE_UNTIL", until)
				}
			}
			return b.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
				Type: discord.CallbackChannelMessageWithSource,
				Data: &discord.InteractionCallback{
					Embeds: []discord.Embed{{
						Title:       b.Translator.Get("PREMIUM_INFO_TITLE"),
						Description: description,
					}},
					Components: []discord.Component{discord.ActionRow(discord.Component{
						Type:     discord.ComponentTypeStringSelect,
						CustomID: "premium.manage",
						Options:  b.premiumSelectOptions(ctx, ev),
					})},
					Flags: discord.FlagEphemeral,
				},
			})
		},
		Autocomplete: func(ctx context.Context, ev *Event) ([]discord.AutocompleteChoice, error) {
			guilds, err := db.ListPremiumGuildsForUser(ctx, b.DB, ev.UserID())
			if err != nil {
				return nil, err
			}
			prefix := ""
			if ev.Interaction.Data != nil {
				for _, opt := range ev.Interaction.Data.Options {
					if opt.Focused {
						prefix = opt.StringValue()
						break
					}
				}
			}
			choices := make([]discord.AutocompleteChoice, 0, len(guilds))
			for _, g := range guilds {
				if prefix != "" && !strings.HasPrefix(g.GuildID, prefix) {
					continue
				}
				choices = append(choices, discord.AutocompleteChoice{Name: g.GuildID, Value: g.GuildID})
			}
			return choices, nil
		},
	}
}

func (b *Bot) premiumSelectOptions(ctx context.Context, ev *Event) []discord.SelectOption {
	options := []discord.SelectOption{}
	guilds, err := db.ListPremiumGuildsForUser(ctx, b.DB, ev.UserID())
	if err == nil {
		for _, g := range guilds {
			options = append(options, discord.SelectOption{
				Label: "Remove premium from " + g.GuildID,
				Value: "remove:" + g.GuildID,
			})
		}
	}
	if len(options) == 0 {
		options = append(options, discord.SelectOption{Label: "No premium servers", Value: "none"})
	}
	return options
}

// cmdStats is the developer text command reporting pipeline counters.
func (b *Bot) cmdStats() *Command {
	return &Command{
		Descriptor: Descriptor{Key: "stats", DevOnly: true},
		Run: func(ctx context.Context, ev *Event) error {
			openJobs, err := db.CountJobs(ctx, b.DB)
			if err != nil {
				return err
			}
			delivered, err := db.CountTranscriptions(ctx, b.DB)
			if err != nil {
				return err
			}
			_, err = b.API.CreateMessage(ctx, ev.Message.ChannelID, discord.MessageCreate{
				Content:   fmt.Sprintf("Open jobs: %d\nDelivered transcriptions: %d", openJobs, delivered),
				Reference: &discord.MessageRef{MessageID: ev.Message.ID},
			})
			return err
		},
	}
}

func (b *Bot) replyEphemeral(ctx context.Context, ev *Event, content string) error {
	return b.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
		Type: discord.CallbackChannelMessageWithSource,
		Data: &discord.InteractionCallback{Content: content, Flags: discord.FlagEphemeral},
	})
}

// subcommand returns the named subcommand option, or nil.
func subcommand(i *discord.Interaction, name string) *discord.CommandOption {
	if i == nil || i.Data == nil {
		return nil
	}
	for idx := range i.Data.Options {
		if i.Data.Options[idx].Name == name {
			return &i.Data.Options[idx]
		}
	}
	return nil
}
