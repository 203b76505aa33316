// Package lang is a thin key -> string translation service for user-facing
// text. The bot treats localization as an external concern; this package
// only resolves keys against an embedded en-US table and applies
// fmt.Sprintf-style arguments. Unknown keys resolve to the key itself so a
// missing string is visible rather than silent.
package lang

import "fmt"

type Translator struct {
	strings map[string]string
}

// New returns a translator backed by the embedded en-US table.
func New() *Translator {
	return &Translator{strings: enUS}
}

// Get resolves key and formats it with args when provided.
func (t *Translator) Get(key string, args ...any) string {
	s, ok := t.strings[key]
	if !ok {
		s = key
	}
	if len(args) == 0 {
		return s
	}
	return fmt.Sprintf(s, args...)
}

// Has reports whether key exists in the table.
func (t *Translator) Has(key string) bool {
	_, ok := t.strings[key]
	return ok
}

var enUS = map[string]string{
	// dispatcher
	"COMMAND_DOES_NOT_EXIST_TITLE":       "This %s doesn't exist!",
	"COMMAND_DOES_NOT_EXIST_DESCRIPTION": "You used the %s %q, but it no longer exists. It has been removed and shouldn't show up again.",
	"AN_ERROR_HAS_OCCURRED_TITLE":        "An error has occurred!",
	"AN_ERROR_HAS_OCCURRED_DESCRIPTION":  "Something went wrong while running that. The issue has been reported, please try again later.",
	"INTERNAL_ERROR_TITLE":               "An internal error has occurred!",
	"INTERNAL_ERROR_DESCRIPTION":         "Something went wrong on our end. The issue has been reported, please try again later.",
	"EVENT_ID_FOOTER":                    "Event ID: %s",

	// validation
	"MISSING_PERMISSIONS_TITLE":          "Missing permissions!",
	"MISSING_PERMISSIONS_OWNER_ONLY":     "This %s can only be used by the server owner.",
	"MISSING_PERMISSIONS_DEVELOPER_ONLY": "This %s can only be used by the developers of the bot.",
	"MISSING_PERMISSIONS_USER":           "You're missing the %s permission(s), which you need to use this %s.",
	"MISSING_PERMISSIONS_BOT":            "I'm missing the %s permission(s), which I need for this %s to work.",
	"COOLDOWN_ON_TYPE_TITLE":             "Slow down!",
	"COOLDOWN_ON_TYPE_DESCRIPTION":       "You're using %ss too fast, please wait a moment and try again.",
	"COMMAND_ON_COOLDOWN_TITLE":          "This command is on cooldown!",
	"COMMAND_ON_COOLDOWN_DESCRIPTION":    "You can use this %s again in %s.",

	// transcription flow
	"TRANSCRIBING":                      "✍️ Transcribing, this may take a moment...",
	"NO_VALID_ATTACHMENTS_ERROR":        "That message has no audio or video attachments I can transcribe.",
	"USER_IS_IGNORED_ERROR":             "That user has asked not to have their messages transcribed.",
	"MESSAGE_STILL_BEING_TRANSCRIBED":   "That message is still being transcribed, hold on!",
	"TRANSCRIBED_MESSAGE_BUTTON_LABEL":  "Transcribed Message",
	"READ_MORE_BUTTON_LABEL":            "Read More",
	"HIGHER_QUALITY_NOTE":               "⚡ A higher quality message is currently being transcribed.",
	"TRANSCRIPTION_FAILED":              "I wasn't able to transcribe that message, sorry.",
	"RETRY_BUTTON_LABEL":                "Retry",

	// premium
	"NOT_A_PREMIUM_GUILD_TITLE":       "This server doesn't have premium!",
	"NOT_A_PREMIUM_GUILD_DESCRIPTION": "This feature requires a premium subscription. Use /premium to learn more.",
	"PREMIUM_INFO_TITLE":              "Premium",
	"PREMIUM_INFO_DESCRIPTION":       "Premium unlocks transcription for longer files and videos. Pick a product below to learn more.",
	"PREMIUM_ACTIVE_UNTIL":           "This server has premium until %s.",
	"PREMIUM_REMOVED":                "Premium has been removed from server %s.",

	// config commands
	"AUTO_TRANSCRIPTION_ENABLED":  "Voice messages in this server will now be transcribed automatically.",
	"AUTO_TRANSCRIPTION_DISABLED": "Voice messages in this server will no longer be transcribed automatically.",
	"USER_IGNORED":                "Got it, I won't transcribe your messages anymore.",
	"USER_UNIGNORED":              "Welcome back, I'll transcribe your messages again.",

	// misc commands
	"PING":              "Ping?",
	"PONG":              "Pong! Round trip took %s.",
	"SLASH_COMMAND":     "slash command",
	"CONTEXT_MENU":      "context menu",
	"BUTTON":            "button",
	"SELECT_MENU":       "select menu",
	"MODAL":             "modal",
	"TEXT_COMMAND":      "text command",
	"AUTOCOMPLETE":      "autocomplete",

	// permission flag names surfaced in missing-permission replies
	"CREATE_INSTANT_INVITE":    "Create Invite",
	"KICK_MEMBERS":             "Kick Members",
	"BAN_MEMBERS":              "Ban Members",
	"ADMINISTRATOR":            "Administrator",
	"MANAGE_CHANNELS":          "Manage Channels",
	"MANAGE_GUILD":             "Manage Server",
	"ADD_REACTIONS":            "Add Reactions",
	"VIEW_AUDIT_LOG":           "View Audit Log",
	"VIEW_CHANNEL":             "View Channel",
	"SEND_MESSAGES":            "Send Messages",
	"MANAGE_MESSAGES":          "Manage Messages",
	"EMBED_LINKS":              "Embed Links",
	"ATTACH_FILES":             "Attach Files",
	"READ_MESSAGE_HISTORY":     "Read Message History",
	"MENTION_EVERYONE":         "Mention Everyone",
	"USE_EXTERNAL_EMOJIS":      "Use External Emojis",
	"MANAGE_ROLES":             "Manage Roles",
	"MANAGE_WEBHOOKS":          "Manage Webhooks",
	"USE_APPLICATION_COMMANDS": "Use Application Commands",
	"MANAGE_THREADS":           "Manage Threads",
	"CREATE_PUBLIC_THREADS":    "Create Public Threads",
	"CREATE_PRIVATE_THREADS":   "Create Private Threads",
	"SEND_MESSAGES_IN_THREADS": "Send Messages in Threads",
	"MODERATE_MEMBERS":         "Timeout Members",
	"SEND_VOICE_MESSAGES":      "Send Voice Messages",
}
