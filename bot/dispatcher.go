package bot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/polarhq/yapper-backend/config"
	"github.com/polarhq/yapper-backend/cooldown"
	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/diag"
	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/lang"
	"github.com/polarhq/yapper-backend/permissions"
	"github.com/polarhq/yapper-backend/telemetry"
)

// errorEmbedColor is the red used on failure embeds.
const errorEmbedColor = 0xED4245

// API is the slice of the Discord client the dispatcher needs.
type API interface {
	CreateInteractionResponse(ctx context.Context, interactionID, token string, resp discord.InteractionResponse) error
	CreateFollowUp(ctx context.Context, token string, body discord.MessageCreate) (*discord.Message, error)
	CreateMessage(ctx context.Context, channelID string, body discord.MessageCreate) (*discord.Message, error)
	GetGuild(ctx context.Context, guildID string) (*discord.Guild, error)
	DeleteGlobalCommand(ctx context.Context, commandID string) error
}

// Dispatcher runs the pipeline for one interaction variant:
// resolve -> validate -> preCheck -> tracker gate -> run.
// Six instances cover commands, autocomplete, buttons, selects, modals,
// and text commands; the tracker is scoped per instance so the double-click
// guard is dispatcher-wide.
type Dispatcher struct {
	Kind       Kind
	Registry   *Registry
	DB         *sql.DB
	API        API
	Cfg        *config.Config
	Translator *lang.Translator
	Diag       *diag.Reporter
	Tracker    *cooldown.Tracker
}

func NewDispatcher(kind Kind, registry *Registry, dbc *sql.DB, api API, cfg *config.Config, translator *lang.Translator, reporter *diag.Reporter) *Dispatcher {
	return &Dispatcher{
		Kind:       kind,
		Registry:   registry,
		DB:         dbc,
		API:        api,
		Cfg:        cfg,
		Translator: translator,
		Diag:       reporter,
		Tracker:    cooldown.NewTracker(),
	}
}

// kindName is the human name used in replies ("slash command", "button", ...).
func (d *Dispatcher) kindName() string {
	return d.Translator.Get(d.Kind.langKey())
}

func (d *Dispatcher) isComponent() bool {
	switch d.Kind {
	case KindButton, KindSelect, KindModal:
		return true
	}
	return false
}

// Dispatch runs one event through the pipeline. The returned error is the
// top-level boundary case only: every reply channel already failed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	cmd, ok := d.resolve(ev)
	if !ok {
		if d.isComponent() {
			// Components expire and users replay stale ones; not an error.
			slog.Debug("dropping stale component interaction",
				slog.String("custom_id", ev.Key), slog.String("component", "dispatcher"))
			return nil
		}
		if d.Kind == KindAutocomplete {
			// The only valid callback here is an autocomplete result; send an
			// empty set rather than a message Discord would reject.
			return d.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
				Type: discord.CallbackAutocompleteResult,
				Data: &discord.InteractionCallback{},
			})
		}
		return d.handleStaleCommand(ctx, ev)
	}

	if fail := d.validate(ctx, cmd, ev); fail != nil {
		telemetry.CountCommand(string(d.Kind), cmd.Key, false)
		return d.replyEmbed(ctx, ev, fail.title, fail.description)
	}

	if cmd.PreCheck != nil {
		msg, err := cmd.PreCheck(ctx, ev)
		if err != nil {
			return d.handleRunFailure(ctx, cmd, ev, err)
		}
		if msg != "" {
			telemetry.CountCommand(string(d.Kind), cmd.Key, false)
			return d.reply(ctx, ev, discord.InteractionCallback{Content: msg, Flags: discord.FlagEphemeral})
		}
	}

	if d.Tracker.IsBlocked(ev.UserID()) {
		telemetry.CountCommand(string(d.Kind), cmd.Key, false)
		return d.replyEmbed(ctx, ev,
			d.Translator.Get("COOLDOWN_ON_TYPE_TITLE"),
			d.Translator.Get("COOLDOWN_ON_TYPE_DESCRIPTION", d.kindName()))
	}

	if d.Kind == KindAutocomplete {
		return d.runAutocomplete(ctx, cmd, ev)
	}

	if err := cmd.Run(ctx, ev); err != nil {
		return d.handleRunFailure(ctx, cmd, ev, err)
	}

	if cmd.Cooldown > 0 {
		if err := db.UpsertCooldown(ctx, d.DB, cmd.Key, string(d.Kind), ev.UserID(), time.Now().Add(cmd.Cooldown)); err != nil {
			slog.Warn("failed to record cooldown",
				slog.String("key", cmd.Key), slog.Any("err", err), slog.String("component", "dispatcher"))
		}
	}
	d.Tracker.Admit(ev.UserID(), cmd.Cooldown)
	telemetry.CountCommand(string(d.Kind), cmd.Key, true)
	return nil
}

func (d *Dispatcher) resolve(ev *Event) (*Command, bool) {
	if d.isComponent() {
		return d.Registry.ResolvePrefix(ev.Key)
	}
	return d.Registry.Resolve(ev.Key)
}

// handleStaleCommand handles the platform advertising a command the process
// no longer implements: report it, best-effort delete the registration, and
// tell the user.
func (d *Dispatcher) handleStaleCommand(ctx context.Context, ev *Event) error {
	err := fmt.Errorf("unknown %s %q invoked", d.kindName(), ev.Key)
	eventID := d.Diag.Capture(err, map[string]any{"kind": string(d.Kind), "key": ev.Key})
	slog.Error("stale command invoked",
		slog.String("key", ev.Key),
		slog.String("kind", string(d.Kind)),
		slog.String("event_id", eventID),
		slog.String("component", "dispatcher"))

	if ev.Interaction != nil && ev.Interaction.Data != nil && ev.Interaction.Data.ID != "" {
		if delErr := d.API.DeleteGlobalCommand(ctx, ev.Interaction.Data.ID); delErr != nil {
			slog.Warn("failed to delete stale command registration",
				slog.String("command_id", ev.Interaction.Data.ID),
				slog.Any("err", delErr), slog.String("component", "dispatcher"))
		}
	}

	return d.reply(ctx, ev, discord.InteractionCallback{
		Embeds: []discord.Embed{{
			Title:       d.Translator.Get("COMMAND_DOES_NOT_EXIST_TITLE", d.kindName()),
			Description: d.Translator.Get("COMMAND_DOES_NOT_EXIST_DESCRIPTION", d.kindName(), ev.Key),
			Color:       errorEmbedColor,
			Footer:      &discord.EmbedFooter{Text: d.Translator.Get("EVENT_ID_FOOTER", eventID)},
		}},
		Flags: discord.FlagEphemeral,
	})
}

type validationFailure struct {
	title       string
	description string
}

// validate evaluates admission checks in fixed priority order and reports
// only the first failure: owner-only, dev-only, user permission difference,
// bot permission difference, then the durable per-command cooldown.
func (d *Dispatcher) validate(ctx context.Context, cmd *Command, ev *Event) *validationFailure {
	if cmd.OwnerOnly {
		guildID := ev.GuildID()
		if guildID == "" {
			return &validationFailure{
				title:       d.Translator.Get("MISSING_PERMISSIONS_TITLE"),
				description: d.Translator.Get("MISSING_PERMISSIONS_OWNER_ONLY", d.kindName()),
			}
		}
		guild, err := d.API.GetGuild(ctx, guildID)
		if err != nil || guild.OwnerID != ev.UserID() {
			if err != nil {
				d.Diag.Capture(fmt.Errorf("guild lookup for owner check: %w", err),
					map[string]any{"guild_id": guildID})
			}
			return &validationFailure{
				title:       d.Translator.Get("MISSING_PERMISSIONS_TITLE"),
				description: d.Translator.Get("MISSING_PERMISSIONS_OWNER_ONLY", d.kindName()),
			}
		}
	}

	if cmd.DevOnly && !d.Cfg.IsAdmin(ev.UserID()) {
		return &validationFailure{
			title:       d.Translator.Get("MISSING_PERMISSIONS_TITLE"),
			description: d.Translator.Get("MISSING_PERMISSIONS_DEVELOPER_ONLY", d.kindName()),
		}
	}

	if cmd.UserPermissions != 0 && ev.Interaction != nil && ev.Interaction.Member != nil {
		held := parseBitfield(ev.Interaction.Member.Permissions)
		if missing := permissions.Difference(cmd.UserPermissions, held); len(missing) > 0 {
			return &validationFailure{
				title:       d.Translator.Get("MISSING_PERMISSIONS_TITLE"),
				description: d.Translator.Get("MISSING_PERMISSIONS_USER", d.permissionList(missing), d.kindName()),
			}
		}
	}

	if cmd.BotPermissions != 0 && ev.Interaction != nil && ev.Interaction.AppPermissions != "" {
		held := parseBitfield(ev.Interaction.AppPermissions)
		if missing := permissions.Difference(cmd.BotPermissions, held); len(missing) > 0 {
			return &validationFailure{
				title:       d.Translator.Get("MISSING_PERMISSIONS_TITLE"),
				description: d.Translator.Get("MISSING_PERMISSIONS_BOT", d.permissionList(missing), d.kindName()),
			}
		}
	}

	if cmd.Cooldown > 0 {
		expires, err := db.GetCooldownExpiry(ctx, d.DB, cmd.Key, string(d.Kind), ev.UserID())
		if err != nil {
			slog.Warn("cooldown lookup failed",
				slog.String("key", cmd.Key), slog.Any("err", err), slog.String("component", "dispatcher"))
		} else if !expires.IsZero() {
			remaining := time.Until(expires).Round(time.Second)
			return &validationFailure{
				title:       d.Translator.Get("COMMAND_ON_COOLDOWN_TITLE"),
				description: d.Translator.Get("COMMAND_ON_COOLDOWN_DESCRIPTION", d.kindName(), remaining),
			}
		}
	}

	return nil
}

func (d *Dispatcher) permissionList(missing []permissions.Bit) string {
	names := permissions.Names(missing)
	for i, name := range names {
		names[i] = d.Translator.Get(name)
	}
	return strings.Join(names, ", ")
}

func parseBitfield(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (d *Dispatcher) runAutocomplete(ctx context.Context, cmd *Command, ev *Event) error {
	if cmd.Autocomplete == nil {
		return nil
	}
	choices, err := cmd.Autocomplete(ctx, ev)
	if err != nil {
		// Autocomplete has no visible reply channel for errors; capture and
		// return an empty set.
		d.Diag.Capture(err, map[string]any{"key": cmd.Key})
		choices = nil
	}
	return d.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
		Type: discord.CallbackAutocompleteResult,
		Data: &discord.InteractionCallback{Choices: choices},
	})
}

// handleRunFailure captures diagnostics and walks the two-tier reply
// fallback: initial response, then follow-up when already acknowledged,
// then propagate.
func (d *Dispatcher) handleRunFailure(ctx context.Context, cmd *Command, ev *Event, runErr error) error {
	eventID := d.Diag.Capture(runErr, map[string]any{
		"kind": string(d.Kind),
		"key":  cmd.Key,
		"user": ev.UserID(),
	})
	slog.Error("command run failed",
		slog.String("key", cmd.Key),
		slog.String("kind", string(d.Kind)),
		slog.String("event_id", eventID),
		slog.Any("err", runErr),
		slog.String("component", "dispatcher"))
	telemetry.CountCommand(string(d.Kind), cmd.Key, false)

	embed := discord.Embed{
		Title:       d.Translator.Get("AN_ERROR_HAS_OCCURRED_TITLE"),
		Description: d.Translator.Get("AN_ERROR_HAS_OCCURRED_DESCRIPTION"),
		Color:       errorEmbedColor,
		Footer:      &discord.EmbedFooter{Text: d.Translator.Get("EVENT_ID_FOOTER", eventID)},
	}
	if err := d.reply(ctx, ev, discord.InteractionCallback{
		Embeds: []discord.Embed{embed},
		Flags:  discord.FlagEphemeral,
	}); err != nil {
		return fmt.Errorf("surfacing run failure (%v): %w", runErr, err)
	}
	return nil
}

// reply sends the initial interaction response, falling back to a follow-up
// when the interaction was already acknowledged. Text command events reply
// as channel messages.
func (d *Dispatcher) reply(ctx context.Context, ev *Event, data discord.InteractionCallback) error {
	if ev.Interaction == nil {
		if ev.Message == nil {
			return fmt.Errorf("no reply channel for event %q", ev.Key)
		}
		_, err := d.API.CreateMessage(ctx, ev.Message.ChannelID, discord.MessageCreate{
			Content:   data.Content,
			Embeds:    data.Embeds,
			Reference: &discord.MessageRef{MessageID: ev.Message.ID},
		})
		return err
	}

	err := d.API.CreateInteractionResponse(ctx, ev.Interaction.ID, ev.Interaction.Token, discord.InteractionResponse{
		Type: discord.CallbackChannelMessageWithSource,
		Data: &data,
	})
	if err == nil {
		return nil
	}
	if !discord.IsAPIErrorCode(err, discord.ErrCodeAlreadyAcknowledged) {
		return err
	}
	_, followErr := d.API.CreateFollowUp(ctx, ev.Interaction.Token, discord.MessageCreate{
		Content:    data.Content,
		Embeds:     data.Embeds,
		Components: data.Components,
		Flags:      data.Flags,
	})
	if followErr != nil {
		return fmt.Errorf("follow-up after acknowledged interaction: %w", followErr)
	}
	return nil
}

func (d *Dispatcher) replyEmbed(ctx context.Context, ev *Event, title, description string) error {
	return d.reply(ctx, ev, discord.InteractionCallback{
		Embeds: []discord.Embed{{Title: title, Description: description, Color: errorEmbedColor}},
		Flags:  discord.FlagEphemeral,
	})
}
