package bot

import (
	"strconv"

	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/permissions"
)

// ApplicationCommands builds the registration payload for everything the bot
// answers to through the interaction gateway. Text commands are not
// registered with the platform.
func ApplicationCommands() []discord.ApplicationCommand {
	return []discord.ApplicationCommand{
		{
			Name:        "ping",
			Type:        discord.CommandTypeChatInput,
			Description: "Check that the bot is alive and measure round-trip time.",
		},
		{
			Name: transcribeKey,
			Type: discord.CommandTypeMessage,
		},
		{
			Name: transcribeEphemeralKey,
			Type: discord.CommandTypeMessage,
		},
		{
			Name:                     "config",
			Type:                     discord.CommandTypeChatInput,
			Description:              "Configure how the bot behaves in this server.",
			DefaultMemberPermissions: strconv.FormatUint(uint64(permissions.ManageGuild), 10),
			Options: []discord.ApplicationCommandOption{
				{
					Name:        "auto_transcription",
					Description: "Automatically transcribe voice messages posted in this server.",
					Type:        discord.OptionTypeSubCommand,
					Options: []discord.ApplicationCommandOption{
						{
							Name:        "enabled",
							Description: "Whether voice messages should be transcribed automatically.",
							Type:        discord.OptionTypeBoolean,
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:        "ignore",
			Type:        discord.CommandTypeChatInput,
			Description: "Toggle whether your messages may be transcribed.",
		},
		{
			Name:        "premium",
			Type:        discord.CommandTypeChatInput,
			Description: "Learn about premium and manage your premium servers.",
		},
	}
}
