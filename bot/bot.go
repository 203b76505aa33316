package bot

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/polarhq/yapper-backend/config"
	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/diag"
	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/lang"
	"github.com/polarhq/yapper-backend/transcription"
)

// ClientAPI is the full Discord surface the bot's commands use.
// *discord.Client satisfies it.
type ClientAPI interface {
	API
	transcription.MessageAPI
	GetOriginalResponse(ctx context.Context, token string) (*discord.Message, error)
}

// Bot wires gateway events into the six dispatcher instances and hosts the
// command implementations.
type Bot struct {
	DB         *sql.DB
	API        ClientAPI
	Orch       *transcription.Orchestrator
	Cfg        *config.Config
	Translator *lang.Translator
	Diag       *diag.Reporter

	commands   *Registry // slash + context menu, shared with autocomplete
	components *Registry // button/select/modal custom-id prefixes
	text       *Registry // prefix text commands

	dispatchers map[Kind]*Dispatcher
}

func New(dbc *sql.DB, api ClientAPI, orch *transcription.Orchestrator, cfg *config.Config, translator *lang.Translator, reporter *diag.Reporter) *Bot {
	b := &Bot{
		DB:         dbc,
		API:        api,
		Orch:       orch,
		Cfg:        cfg,
		Translator: translator,
		Diag:       reporter,
		commands:   NewRegistry(),
		components: NewRegistry(),
		text:       NewRegistry(),
	}
	b.registerCommands()

	b.dispatchers = map[Kind]*Dispatcher{
		KindCommand:      NewDispatcher(KindCommand, b.commands, dbc, api, cfg, translator, reporter),
		KindAutocomplete: NewDispatcher(KindAutocomplete, b.commands, dbc, api, cfg, translator, reporter),
		KindButton:       NewDispatcher(KindButton, b.components, dbc, api, cfg, translator, reporter),
		KindSelect:       NewDispatcher(KindSelect, b.components, dbc, api, cfg, translator, reporter),
		KindModal:        NewDispatcher(KindModal, b.components, dbc, api, cfg, translator, reporter),
		KindText:         NewDispatcher(KindText, b.text, dbc, api, cfg, translator, reporter),
	}
	return b
}

// GatewayHandlers returns the event handlers to hang on the gateway.
func (b *Bot) GatewayHandlers(ctx context.Context) discord.EventHandlers {
	return discord.EventHandlers{
		Ready: func(user discord.User) {
			slog.Info("bot ready", slog.String("username", user.Username), slog.String("component", "bot"))
		},
		InteractionCreate: func(i discord.Interaction) {
			if err := b.HandleInteraction(ctx, &i); err != nil {
				b.Diag.Capture(err, map[string]any{"interaction_id": i.ID})
				slog.Error("interaction handling failed",
					slog.String("interaction_id", i.ID), slog.Any("err", err),
					slog.String("component", "bot"))
			}
		},
		MessageCreate: func(m discord.Message) {
			if err := b.HandleMessage(ctx, &m); err != nil {
				b.Diag.Capture(err, map[string]any{"message_id": m.ID})
				slog.Error("message handling failed",
					slog.String("message_id", m.ID), slog.Any("err", err),
					slog.String("component", "bot"))
			}
		},
		MessageDelete: func(channelID, messageID, guildID string) {
			if err := b.Orch.CancelForMessage(ctx, channelID, messageID); err != nil {
				slog.Warn("cancel on message delete failed",
					slog.String("message_id", messageID), slog.Any("err", err),
					slog.String("component", "bot"))
			}
		},
	}
}

// HandleInteraction routes one interaction to its variant dispatcher.
func (b *Bot) HandleInteraction(ctx context.Context, i *discord.Interaction) error {
	if i.Data == nil {
		return nil
	}
	switch i.Type {
	case discord.InteractionTypeApplicationCommand:
		return b.dispatchers[KindCommand].Dispatch(ctx, &Event{
			Kind: KindCommand, Key: i.Data.Name, Interaction: i,
		})
	case discord.InteractionTypeAutocomplete:
		return b.dispatchers[KindAutocomplete].Dispatch(ctx, &Event{
			Kind: KindAutocomplete, Key: i.Data.Name, Interaction: i,
		})
	case discord.InteractionTypeMessageComponent:
		kind := KindButton
		if i.Data.ComponentType >= discord.ComponentTypeStringSelect {
			kind = KindSelect
		}
		return b.dispatchers[kind].Dispatch(ctx, &Event{
			Kind: kind, Key: i.Data.CustomID, Interaction: i,
		})
	case discord.InteractionTypeModalSubmit:
		return b.dispatchers[KindModal].Dispatch(ctx, &Event{
			Kind: KindModal, Key: i.Data.CustomID, Interaction: i,
		})
	}
	return nil
}

// HandleMessage handles auto transcription of guild voice messages, then
// prefix text commands.
func (b *Bot) HandleMessage(ctx context.Context, m *discord.Message) error {
	if m.Author == nil || m.Author.Bot {
		return nil
	}

	if m.GuildID != "" && b.hasTranscribableAttachment(m) {
		handled, err := b.maybeAutoTranscribe(ctx, m)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	return b.handleTextCommand(ctx, m)
}

func (b *Bot) hasTranscribableAttachment(m *discord.Message) bool {
	return b.pickAttachment(m) != nil
}

func (b *Bot) pickAttachment(m *discord.Message) *discord.Attachment {
	for i := range m.Attachments {
		if b.Cfg.AllowsFileType(m.Attachments[i].ContentType) {
			return &m.Attachments[i]
		}
	}
	return nil
}

// maybeAutoTranscribe submits a voice message for guilds that opted in.
func (b *Bot) maybeAutoTranscribe(ctx context.Context, m *discord.Message) (bool, error) {
	enabled, err := db.GetAutoTranscribe(ctx, b.DB, m.GuildID)
	if err != nil {
		return false, err
	}
	if !enabled {
		return false, nil
	}
	ignored, err := db.IsUserIgnored(ctx, b.DB, m.Author.ID)
	if err != nil {
		return false, err
	}
	if ignored {
		return false, nil
	}
	inFlight, err := db.FindJobByMessage(ctx, b.DB, m.ID)
	if err != nil {
		return false, err
	}
	if inFlight != nil {
		return true, nil
	}

	attachment := b.pickAttachment(m)
	placeholder, err := b.API.CreateMessage(ctx, m.ChannelID, discord.MessageCreate{
		Content:   b.Translator.Get("TRANSCRIBING"),
		Reference: &discord.MessageRef{MessageID: m.ID},
	})
	if err != nil {
		return false, err
	}
	_, err = b.Orch.Submit(ctx, transcription.SubmitRequest{
		AttachmentURL:     attachment.URL,
		GuildID:           m.GuildID,
		ChannelID:         m.ChannelID,
		InitialMessageID:  m.ID,
		ResponseMessageID: placeholder.ID,
	})
	return true, err
}

// handleTextCommand matches configured prefixes and dispatches the first
// word as the command key.
func (b *Bot) handleTextCommand(ctx context.Context, m *discord.Message) error {
	var rest string
	matched := false
	for _, prefix := range b.Cfg.Prefixes {
		if strings.HasPrefix(m.Content, prefix) {
			rest = strings.TrimPrefix(m.Content, prefix)
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil
	}
	if _, ok := b.text.Resolve(fields[0]); !ok {
		// Unknown text input after a prefix is chatter, not a stale command.
		return nil
	}
	return b.dispatchers[KindText].Dispatch(ctx, &Event{
		Kind: KindText, Key: fields[0], Message: m, Args: fields[1:],
	})
}
