// Package discord contains a minimal Discord client: REST calls for
// interaction responses, messages, and threads, plus a gateway connection
// that feeds events into the bot dispatcher.
package discord

import (
	"encoding/json"
	"fmt"
)

// Interaction types delivered over the gateway.
const (
	InteractionTypePing               = 1
	InteractionTypeApplicationCommand = 2
	InteractionTypeMessageComponent   = 3
	InteractionTypeAutocomplete       = 4
	InteractionTypeModalSubmit        = 5
)

// Application command types.
const (
	CommandTypeChatInput = 1
	CommandTypeUser      = 2
	CommandTypeMessage   = 3
)

// Application command option types.
const (
	OptionTypeSubCommand = 1
	OptionTypeString     = 3
	OptionTypeBoolean    = 5
)

// Component types.
const (
	ComponentTypeActionRow    = 1
	ComponentTypeButton       = 2
	ComponentTypeStringSelect = 3
)

// Button styles.
const (
	ButtonStylePrimary   = 1
	ButtonStyleSecondary = 2
	ButtonStyleLink      = 5
)

// Interaction callback types.
const (
	CallbackPong                             = 1
	CallbackChannelMessageWithSource         = 4
	CallbackDeferredChannelMessageWithSource = 5
	CallbackDeferredUpdateMessage            = 6
	CallbackUpdateMessage                    = 7
	CallbackAutocompleteResult               = 8
	CallbackModal                            = 9
)

// Message flags.
const (
	FlagEphemeral = 1 << 6
)

// JSON error codes Discord returns that the bot handles specially.
const (
	ErrCodeUnknownGuild        = 10004
	ErrCodeUnknownChannel      = 10003
	ErrCodeUnknownMessage      = 10008
	ErrCodeUnknownMember       = 10007
	ErrCodeAlreadyAcknowledged = 40060
	ErrCodeMissingAccess       = 50001
	ErrCodeThreadExists        = 160004
	ErrCodeThreadLocked        = 160002
)

// APIError is a non-2xx response from the Discord REST API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// IsAPIErrorCode reports whether err is an APIError with the given code.
func IsAPIErrorCode(err error, code int) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == code
}

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

type Member struct {
	User        *User  `json:"user,omitempty"`
	Nick        string `json:"nick,omitempty"`
	Permissions string `json:"permissions,omitempty"` // stringified bitfield
}

type Guild struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

type Channel struct {
	ID       string `json:"id"`
	Type     int    `json:"type"`
	GuildID  string `json:"guild_id,omitempty"`
	Name     string `json:"name,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

type Attachment struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type,omitempty"`
	Size        int     `json:"size"`
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_secs,omitempty"`
	Waveform    string  `json:"waveform,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	Author      *User        `json:"author,omitempty"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Flags       int          `json:"flags,omitempty"`
	Thread      *Channel     `json:"thread,omitempty"`
	Reference   *MessageRef  `json:"message_reference,omitempty"`
}

type MessageRef struct {
	MessageID string `json:"message_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// Component models action rows, buttons, and select menus. Discord nests
// buttons and selects under an action row.
type Component struct {
	Type       int            `json:"type"`
	Style      int            `json:"style,omitempty"`
	Label      string         `json:"label,omitempty"`
	CustomID   string         `json:"custom_id,omitempty"`
	URL        string         `json:"url,omitempty"`
	Disabled   bool           `json:"disabled,omitempty"`
	Options    []SelectOption `json:"options,omitempty"`
	Components []Component    `json:"components,omitempty"`
}

type SelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// ActionRow wraps components in the required outer row.
func ActionRow(components ...Component) Component {
	return Component{Type: ComponentTypeActionRow, Components: components}
}

// InteractionData is the command- or component-specific payload.
type InteractionData struct {
	ID            string                  `json:"id,omitempty"`
	Name          string                  `json:"name,omitempty"`
	Type          int                     `json:"type,omitempty"`
	CustomID      string                  `json:"custom_id,omitempty"`
	ComponentType int                     `json:"component_type,omitempty"`
	Values        []string                `json:"values,omitempty"`
	TargetID      string                  `json:"target_id,omitempty"`
	Options       []CommandOption         `json:"options,omitempty"`
	Resolved      *InteractionResolved    `json:"resolved,omitempty"`
	Raw           json.RawMessage         `json:"-"`
	Fields        map[string]ModalFieldIn `json:"-"`
}

type CommandOption struct {
	Name    string          `json:"name"`
	Type    int             `json:"type"`
	Value   json.RawMessage `json:"value,omitempty"`
	Focused bool            `json:"focused,omitempty"`
	Options []CommandOption `json:"options,omitempty"`
}

// StringValue decodes the option value as a string, tolerating numbers.
func (o CommandOption) StringValue() string {
	var s string
	if err := json.Unmarshal(o.Value, &s); err == nil {
		return s
	}
	return string(o.Value)
}

// BoolValue decodes the option value as a bool.
func (o CommandOption) BoolValue() bool {
	var b bool
	_ = json.Unmarshal(o.Value, &b)
	return b
}

type InteractionResolved struct {
	Messages map[string]Message `json:"messages,omitempty"`
	Users    map[string]User    `json:"users,omitempty"`
}

type ModalFieldIn struct {
	CustomID string `json:"custom_id"`
	Value    string `json:"value"`
}

type Interaction struct {
	ID             string           `json:"id"`
	ApplicationID  string           `json:"application_id"`
	Type           int              `json:"type"`
	Data           *InteractionData `json:"data,omitempty"`
	GuildID        string           `json:"guild_id,omitempty"`
	ChannelID      string           `json:"channel_id,omitempty"`
	Member         *Member          `json:"member,omitempty"`
	User           *User            `json:"user,omitempty"`
	Token          string           `json:"token"`
	Message        *Message         `json:"message,omitempty"`
	AppPermissions string           `json:"app_permissions,omitempty"` // stringified bitfield
}

// Sender returns the invoking user regardless of guild or DM context.
func (i *Interaction) Sender() *User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// TargetMessage resolves the message a context-menu command was invoked on.
func (i *Interaction) TargetMessage() *Message {
	if i.Data == nil || i.Data.Resolved == nil {
		return nil
	}
	if m, ok := i.Data.Resolved.Messages[i.Data.TargetID]; ok {
		return &m
	}
	return nil
}

// InteractionResponse is the body for the initial interaction callback.
type InteractionResponse struct {
	Type int                  `json:"type"`
	Data *InteractionCallback `json:"data,omitempty"`
}

type InteractionCallback struct {
	Content    string               `json:"content,omitempty"`
	Embeds     []Embed              `json:"embeds,omitempty"`
	Components []Component          `json:"components,omitempty"`
	Flags      int                  `json:"flags,omitempty"`
	Choices    []AutocompleteChoice `json:"choices,omitempty"`
}

type AutocompleteChoice struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// MessageCreate is the body for creating or editing a channel message.
type MessageCreate struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []Component `json:"components,omitempty"`
	Reference  *MessageRef `json:"message_reference,omitempty"`
	Flags      int         `json:"flags,omitempty"`
}

// ThreadCreate is the body for starting a thread from a message.
type ThreadCreate struct {
	Name                string `json:"name"`
	AutoArchiveDuration int    `json:"auto_archive_duration,omitempty"`
}

// ChannelEdit carries the mutable thread fields the bot touches.
type ChannelEdit struct {
	Archived *bool `json:"archived,omitempty"`
	Locked   *bool `json:"locked,omitempty"`
}

// ApplicationCommand is the registration payload for slash and context menu commands.
type ApplicationCommand struct {
	ID                       string                     `json:"id,omitempty"`
	Name                     string                     `json:"name"`
	Type                     int                        `json:"type,omitempty"`
	Description              string                     `json:"description,omitempty"`
	Options                  []ApplicationCommandOption `json:"options,omitempty"`
	DefaultMemberPermissions string                     `json:"default_member_permissions,omitempty"`
	DMPermission             *bool                      `json:"dm_permission,omitempty"`
}

type ApplicationCommandOption struct {
	Name         string                     `json:"name"`
	Description  string                     `json:"description"`
	Type         int                        `json:"type"`
	Required     bool                       `json:"required,omitempty"`
	Autocomplete bool                       `json:"autocomplete,omitempty"`
	Choices      []AutocompleteChoice       `json:"choices,omitempty"`
	Options      []ApplicationCommandOption `json:"options,omitempty"`
}

// MessageLink builds the canonical deep link to a message.
func MessageLink(guildID, channelID, messageID string) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}
