package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/polarhq/yapper-backend/config"
	"github.com/polarhq/yapper-backend/diag"
	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/lang"
	"github.com/polarhq/yapper-backend/permissions"
)

// fakeDispatcherAPI records every Discord call the dispatcher makes.
type fakeDispatcherAPI struct {
	responses       []discord.InteractionResponse
	followUps       []discord.MessageCreate
	channelMessages []discord.MessageCreate
	deletedCommands []string

	respondErr error
	guild      *discord.Guild
	guildErr   error
}

func (f *fakeDispatcherAPI) CreateInteractionResponse(ctx context.Context, interactionID, token string, resp discord.InteractionResponse) error {
	if f.respondErr != nil {
		return f.respondErr
	}
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeDispatcherAPI) CreateFollowUp(ctx context.Context, token string, body discord.MessageCreate) (*discord.Message, error) {
	f.followUps = append(f.followUps, body)
	return &discord.Message{ID: "follow-up"}, nil
}

func (f *fakeDispatcherAPI) CreateMessage(ctx context.Context, channelID string, body discord.MessageCreate) (*discord.Message, error) {
	f.channelMessages = append(f.channelMessages, body)
	return &discord.Message{ID: "channel-msg"}, nil
}

func (f *fakeDispatcherAPI) GetGuild(ctx context.Context, guildID string) (*discord.Guild, error) {
	if f.guildErr != nil {
		return nil, f.guildErr
	}
	if f.guild != nil {
		return f.guild, nil
	}
	return &discord.Guild{ID: guildID, OwnerID: "owner-1"}, nil
}

func (f *fakeDispatcherAPI) DeleteGlobalCommand(ctx context.Context, commandID string) error {
	f.deletedCommands = append(f.deletedCommands, commandID)
	return nil
}

func newTestDispatcher(kind Kind, api *fakeDispatcherAPI) *Dispatcher {
	return NewDispatcher(kind, NewRegistry(), nil, api,
		&config.Config{Admins: []string{"dev-1"}}, lang.New(), &diag.Reporter{})
}

func guildInteraction(userID string) *discord.Interaction {
	return &discord.Interaction{
		ID:      "int-1",
		Token:   "tok-1",
		GuildID: "guild-1",
		Member:  &discord.Member{User: &discord.User{ID: userID}, Permissions: "0"},
		Data:    &discord.InteractionData{},
	}
}

func TestStaleCommandDeletesRegistration(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)

	i := guildInteraction("u1")
	i.Data.ID = "cmd-registration-id"
	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "vanished", Interaction: i}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(api.deletedCommands) != 1 || api.deletedCommands[0] != "cmd-registration-id" {
		t.Fatalf("expected stale registration deleted, got %v", api.deletedCommands)
	}
	if len(api.responses) != 1 {
		t.Fatalf("expected one reply, got %d", len(api.responses))
	}
	embed := api.responses[0].Data.Embeds[0]
	if !strings.Contains(embed.Title, "doesn't exist") {
		t.Errorf("unexpected embed title %q", embed.Title)
	}
	if embed.Footer == nil || !strings.HasPrefix(embed.Footer.Text, "Event ID:") {
		t.Errorf("expected an event id footer, got %+v", embed.Footer)
	}
}

func TestStaleComponentDropsSilently(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindButton, api)

	i := guildInteraction("u1")
	i.Data.CustomID = "expired.abc"
	if err := d.Dispatch(context.Background(), &Event{Kind: KindButton, Key: "expired.abc", Interaction: i}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(api.responses) != 0 || len(api.deletedCommands) != 0 {
		t.Fatal("stale component should not produce replies or deletions")
	}
}

func TestValidateOwnerOnly(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)
	ran := false
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "owner", OwnerOnly: true},
		Run:        func(ctx context.Context, ev *Event) error { ran = true; return nil },
	})

	// Not the owner.
	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "owner", Interaction: guildInteraction("u1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ran {
		t.Fatal("command ran for a non-owner")
	}
	if desc := api.responses[0].Data.Embeds[0].Description; !strings.Contains(desc, "server owner") {
		t.Errorf("unexpected rejection %q", desc)
	}

	// The owner.
	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "owner", Interaction: guildInteraction("owner-1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ran {
		t.Fatal("command did not run for the owner")
	}
}

func TestValidateDevOnly(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)
	ran := false
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "debug", DevOnly: true},
		Run:        func(ctx context.Context, ev *Event) error { ran = true; return nil },
	})

	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "debug", Interaction: guildInteraction("u1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ran {
		t.Fatal("dev-only command ran for a regular user")
	}

	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "debug", Interaction: guildInteraction("dev-1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ran {
		t.Fatal("dev-only command did not run for an admin")
	}
}

func TestValidateUserPermissions(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "config", UserPermissions: uint64(permissions.ManageGuild)},
		Run:        func(ctx context.Context, ev *Event) error { return nil },
	})

	i := guildInteraction("u1")
	i.Member.Permissions = "0"
	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "config", Interaction: i}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	desc := api.responses[0].Data.Embeds[0].Description
	if !strings.Contains(desc, "Manage Server") {
		t.Errorf("expected friendly permission name in %q", desc)
	}
	if !strings.Contains(desc, "You're missing") {
		t.Errorf("expected the user-side message, got %q", desc)
	}
}

func TestValidateBotPermissions(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "speak", BotPermissions: uint64(permissions.SendMessages)},
		Run:        func(ctx context.Context, ev *Event) error { return nil },
	})

	i := guildInteraction("u1")
	i.AppPermissions = "0"
	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "speak", Interaction: i}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	desc := api.responses[0].Data.Embeds[0].Description
	if !strings.Contains(desc, "I'm missing") || !strings.Contains(desc, "Send Messages") {
		t.Errorf("unexpected bot-permission rejection %q", desc)
	}
}

func TestValidatePriorityOrder(t *testing.T) {
	// A command failing every check reports only the highest-priority one.
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)
	d.Registry.Register(&Command{
		Descriptor: Descriptor{
			Key:             "locked",
			OwnerOnly:       true,
			DevOnly:         true,
			UserPermissions: uint64(permissions.ManageGuild),
			BotPermissions:  uint64(permissions.SendMessages),
		},
		Run: func(ctx context.Context, ev *Event) error { return nil },
	})

	i := guildInteraction("u1")
	i.AppPermissions = "0"
	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "locked", Interaction: i}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	desc := api.responses[0].Data.Embeds[0].Description
	if !strings.Contains(desc, "server owner") {
		t.Errorf("expected the owner-only rejection first, got %q", desc)
	}
}

func TestRunFailureRepliesWithEventID(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "boom"},
		Run:        func(ctx context.Context, ev *Event) error { return errors.New("kaput") },
	})

	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "boom", Interaction: guildInteraction("u1")}); err != nil {
		t.Fatalf("failure was surfaced to the user, should not propagate: %v", err)
	}
	embed := api.responses[0].Data.Embeds[0]
	if !strings.Contains(embed.Title, "error has occurred") {
		t.Errorf("unexpected title %q", embed.Title)
	}
	if embed.Footer == nil || !strings.HasPrefix(embed.Footer.Text, "Event ID:") {
		t.Errorf("expected event id footer, got %+v", embed.Footer)
	}
}

func TestRunFailureFallsBackToFollowUp(t *testing.T) {
	api := &fakeDispatcherAPI{
		respondErr: &discord.APIError{Status: 400, Code: discord.ErrCodeAlreadyAcknowledged, Message: "already acked"},
	}
	d := newTestDispatcher(KindCommand, api)
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "boom"},
		Run:        func(ctx context.Context, ev *Event) error { return errors.New("kaput") },
	})

	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "boom", Interaction: guildInteraction("u1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(api.followUps) != 1 {
		t.Fatalf("expected a follow-up fallback, got %d", len(api.followUps))
	}
}

func TestPreCheckRejectionSkipsRun(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)
	ran := false
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "gated"},
		PreCheck:   func(ctx context.Context, ev *Event) (string, error) { return "not for you", nil },
		Run:        func(ctx context.Context, ev *Event) error { ran = true; return nil },
	})

	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "gated", Interaction: guildInteraction("u1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ran {
		t.Fatal("run executed despite precheck rejection")
	}
	if api.responses[0].Data.Content != "not for you" {
		t.Errorf("unexpected reply %q", api.responses[0].Data.Content)
	}
	if api.responses[0].Data.Flags&discord.FlagEphemeral == 0 {
		t.Error("precheck rejection should be ephemeral")
	}
}

func TestTrackerBlocksRapidRepeat(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindCommand, api)
	runs := 0
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "fast"},
		Run:        func(ctx context.Context, ev *Event) error { runs++; return nil },
	})

	d.Tracker.Admit("u1", time.Minute)
	if err := d.Dispatch(context.Background(), &Event{Kind: KindCommand, Key: "fast", Interaction: guildInteraction("u1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if runs != 0 {
		t.Fatal("tracked user should have been blocked")
	}
	if title := api.responses[0].Data.Embeds[0].Title; !strings.Contains(title, "Slow down") {
		t.Errorf("unexpected title %q", title)
	}
}

func TestStaleAutocompleteRepliesEmptySet(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindAutocomplete, api)

	i := guildInteraction("u1")
	i.Data.ID = "cmd-registration-id"
	if err := d.Dispatch(context.Background(), &Event{Kind: KindAutocomplete, Key: "vanished", Interaction: i}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(api.deletedCommands) != 0 {
		t.Errorf("autocomplete should not delete registrations, got %v", api.deletedCommands)
	}
	if len(api.responses) != 1 {
		t.Fatalf("expected one reply, got %d", len(api.responses))
	}
	resp := api.responses[0]
	if resp.Type != discord.CallbackAutocompleteResult {
		t.Fatalf("expected autocomplete callback type, got %d", resp.Type)
	}
	if len(resp.Data.Choices) != 0 || len(resp.Data.Embeds) != 0 {
		t.Errorf("expected an empty choice set, got %+v", resp.Data)
	}
}

func TestAutocompleteRepliesWithChoices(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindAutocomplete, api)
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "premium"},
		Autocomplete: func(ctx context.Context, ev *Event) ([]discord.AutocompleteChoice, error) {
			return []discord.AutocompleteChoice{{Name: "guild-1", Value: "guild-1"}}, nil
		},
	})

	if err := d.Dispatch(context.Background(), &Event{Kind: KindAutocomplete, Key: "premium", Interaction: guildInteraction("u1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	resp := api.responses[0]
	if resp.Type != discord.CallbackAutocompleteResult {
		t.Fatalf("expected autocomplete callback type, got %d", resp.Type)
	}
	if len(resp.Data.Choices) != 1 || resp.Data.Choices[0].Name != "guild-1" {
		t.Errorf("unexpected choices %+v", resp.Data.Choices)
	}
}

func TestAutocompleteErrorReturnsEmptySet(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindAutocomplete, api)
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "premium"},
		Autocomplete: func(ctx context.Context, ev *Event) ([]discord.AutocompleteChoice, error) {
			return nil, errors.New("db down")
		},
	})

	if err := d.Dispatch(context.Background(), &Event{Kind: KindAutocomplete, Key: "premium", Interaction: guildInteraction("u1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(api.responses) != 1 || len(api.responses[0].Data.Choices) != 0 {
		t.Fatalf("expected an empty choice reply, got %+v", api.responses)
	}
}

func TestTextEventRepliesInChannel(t *testing.T) {
	api := &fakeDispatcherAPI{}
	d := newTestDispatcher(KindText, api)
	d.Registry.Register(&Command{
		Descriptor: Descriptor{Key: "stats", DevOnly: true},
		Run: func(ctx context.Context, ev *Event) error {
			return d.reply(ctx, ev, discord.InteractionCallback{Content: "42"})
		},
	})

	msg := &discord.Message{ID: "m1", ChannelID: "c1", Author: &discord.User{ID: "dev-1"}}
	if err := d.Dispatch(context.Background(), &Event{Kind: KindText, Key: "stats", Message: msg}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(api.channelMessages) != 1 {
		t.Fatalf("expected a channel reply, got %d", len(api.channelMessages))
	}
	reply := api.channelMessages[0]
	if reply.Content != "42" {
		t.Errorf("unexpected content %q", reply.Content)
	}
	if reply.Reference == nil || reply.Reference.MessageID != "m1" {
		t.Errorf("expected a reply reference to the invoking message, got %+v", reply.Reference)
	}
}
