// Package permissions implements capability-bitfield math over the Discord
// permission space. A permission set is an unsigned 64-bit integer with one
// bit per capability; commands declare the set a user (and the bot itself)
// must hold before they may run.
package permissions

// Bit is a single permission flag.
type Bit uint64

const (
	CreateInstantInvite Bit = 1 << iota
	KickMembers
	BanMembers
	Administrator
	ManageChannels
	ManageGuild
	AddReactions
	ViewAuditLog
	PrioritySpeaker
	Stream
	ViewChannel
	SendMessages
	SendTTSMessages
	ManageMessages
	EmbedLinks
	AttachFiles
	ReadMessageHistory
	MentionEveryone
	UseExternalEmojis
	ViewGuildInsights
	Connect
	Speak
	MuteMembers
	DeafenMembers
	MoveMembers
	UseVAD
	ChangeNickname
	ManageNicknames
	ManageRoles
	ManageWebhooks
	ManageGuildExpressions
	UseApplicationCommands
	RequestToSpeak
	ManageEvents
	ManageThreads
	CreatePublicThreads
	CreatePrivateThreads
	UseExternalStickers
	SendMessagesInThreads
	UseEmbeddedActivities
	ModerateMembers
	ViewCreatorMonetizationAnalytics
	UseSoundboard
	CreateGuildExpressions
	CreateEvents
	UseExternalSounds
	SendVoiceMessages
)

// names maps each flag to the translation key used when telling a user which
// permissions they are missing.
var names = map[Bit]string{
	CreateInstantInvite:              "CREATE_INSTANT_INVITE",
	KickMembers:                      "KICK_MEMBERS",
	BanMembers:                       "BAN_MEMBERS",
	Administrator:                    "ADMINISTRATOR",
	ManageChannels:                   "MANAGE_CHANNELS",
	ManageGuild:                      "MANAGE_GUILD",
	AddReactions:                     "ADD_REACTIONS",
	ViewAuditLog:                     "VIEW_AUDIT_LOG",
	PrioritySpeaker:                  "PRIORITY_SPEAKER",
	Stream:                           "STREAM",
	ViewChannel:                      "VIEW_CHANNEL",
	SendMessages:                     "SEND_MESSAGES",
	SendTTSMessages:                  "SEND_TTS_MESSAGES",
	ManageMessages:                   "MANAGE_MESSAGES",
	EmbedLinks:                       "EMBED_LINKS",
	AttachFiles:                      "ATTACH_FILES",
	ReadMessageHistory:               "READ_MESSAGE_HISTORY",
	MentionEveryone:                  "MENTION_EVERYONE",
	UseExternalEmojis:                "USE_EXTERNAL_EMOJIS",
	ViewGuildInsights:                "VIEW_GUILD_INSIGHTS",
	Connect:                          "CONNECT",
	Speak:                            "SPEAK",
	MuteMembers:                      "MUTE_MEMBERS",
	DeafenMembers:                    "DEAFEN_MEMBERS",
	MoveMembers:                      "MOVE_MEMBERS",
	UseVAD:                           "USE_VAD",
	ChangeNickname:                   "CHANGE_NICKNAME",
	ManageNicknames:                  "MANAGE_NICKNAMES",
	ManageRoles:                      "MANAGE_ROLES",
	ManageWebhooks:                   "MANAGE_WEBHOOKS",
	ManageGuildExpressions:           "MANAGE_GUILD_EXPRESSIONS",
	UseApplicationCommands:           "USE_APPLICATION_COMMANDS",
	RequestToSpeak:                   "REQUEST_TO_SPEAK",
	ManageEvents:                     "MANAGE_EVENTS",
	ManageThreads:                    "MANAGE_THREADS",
	CreatePublicThreads:              "CREATE_PUBLIC_THREADS",
	CreatePrivateThreads:             "CREATE_PRIVATE_THREADS",
	UseExternalStickers:              "USE_EXTERNAL_STICKERS",
	SendMessagesInThreads:            "SEND_MESSAGES_IN_THREADS",
	UseEmbeddedActivities:            "USE_EMBEDDED_ACTIVITIES",
	ModerateMembers:                  "MODERATE_MEMBERS",
	ViewCreatorMonetizationAnalytics: "VIEW_CREATOR_MONETIZATION_ANALYTICS",
	UseSoundboard:                    "USE_SOUNDBOARD",
	CreateGuildExpressions:           "CREATE_GUILD_EXPRESSIONS",
	CreateEvents:                     "CREATE_EVENTS",
	UseExternalSounds:                "USE_EXTERNAL_SOUNDS",
	SendVoiceMessages:                "SEND_VOICE_MESSAGES",
}

// Has reports whether held contains every bit of required.
func Has(held, required uint64) bool {
	return held&required == required
}

// Difference returns the required bits absent from held, in ascending bit
// order. A required value of literal zero means "no permission required" and
// short-circuits to nil without any bit math; zero is a sentinel, not an
// empty set to diff against.
func Difference(required, held uint64) []Bit {
	if required == 0 {
		return nil
	}
	missing := required &^ held
	if missing == 0 {
		return nil
	}
	var out []Bit
	for i := 0; i < 64; i++ {
		b := Bit(1) << i
		if missing&uint64(b) != 0 {
			out = append(out, b)
		}
	}
	return out
}

// Name returns the translation key for a flag, or empty for unknown bits.
func Name(b Bit) string { return names[b] }

// Names maps flags to their translation keys, skipping unknown bits.
func Names(bits []Bit) []string {
	out := make([]string, 0, len(bits))
	for _, b := range bits {
		if n, ok := names[b]; ok {
			out = append(out, n)
		}
	}
	return out
}
