// Package bot contains the command registry and the dispatcher pipeline that
// turns gateway events into command executions: resolve, validate, preCheck,
// cooldown gate, run, with uniform failure recovery.
package bot

import (
	"context"
	"time"

	"github.com/polarhq/yapper-backend/discord"
)

// Kind names one interaction variant. Each variant gets its own dispatcher
// instance with its own double-click tracker.
type Kind string

const (
	KindCommand      Kind = "APPLICATION_COMMAND"
	KindAutocomplete Kind = "AUTOCOMPLETE"
	KindButton       Kind = "BUTTON"
	KindSelect       Kind = "SELECT_MENU"
	KindModal        Kind = "MODAL"
	KindText         Kind = "TEXT_COMMAND"
)

// langKey maps a kind to its display-name translation key.
func (k Kind) langKey() string {
	switch k {
	case KindCommand:
		return "SLASH_COMMAND"
	case KindAutocomplete:
		return "AUTOCOMPLETE"
	case KindButton:
		return "BUTTON"
	case KindSelect:
		return "SELECT_MENU"
	case KindModal:
		return "MODAL"
	case KindText:
		return "TEXT_COMMAND"
	}
	return string(k)
}

// Event is one invocation flowing through a dispatcher. Interactions carry
// Interaction; text commands carry Message and Args.
type Event struct {
	Kind        Kind
	Key         string
	Interaction *discord.Interaction
	Message     *discord.Message
	Args        []string
}

// UserID returns the acting user's id.
func (e *Event) UserID() string {
	if e.Interaction != nil {
		if u := e.Interaction.Sender(); u != nil {
			return u.ID
		}
		return ""
	}
	if e.Message != nil && e.Message.Author != nil {
		return e.Message.Author.ID
	}
	return ""
}

// GuildID returns the guild the event came from, or "" in DMs.
func (e *Event) GuildID() string {
	if e.Interaction != nil {
		return e.Interaction.GuildID
	}
	if e.Message != nil {
		return e.Message.GuildID
	}
	return ""
}

// ChannelID returns the source channel.
func (e *Event) ChannelID() string {
	if e.Interaction != nil {
		return e.Interaction.ChannelID
	}
	if e.Message != nil {
		return e.Message.ChannelID
	}
	return ""
}

// Descriptor is a command's immutable configuration.
type Descriptor struct {
	Key             string
	UserPermissions uint64
	BotPermissions  uint64
	DevOnly         bool
	OwnerOnly       bool
	// Cooldown, when non-zero, is recorded durably per (command, user) and
	// enforced by validate on later invocations.
	Cooldown time.Duration
}

// Command pairs a descriptor with its behavior. PreCheck may reject with a
// user-facing message before any side effect; a nil PreCheck always passes.
type Command struct {
	Descriptor
	PreCheck     func(ctx context.Context, ev *Event) (string, error)
	Run          func(ctx context.Context, ev *Event) error
	Autocomplete func(ctx context.Context, ev *Event) ([]discord.AutocompleteChoice, error)
}
