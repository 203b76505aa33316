// Command register-commands pushes the bot's application command set to
// Discord. With DEVELOPMENT_GUILD_ID set it overwrites that guild's commands
// (changes are visible immediately); otherwise it overwrites the global set,
// which Discord propagates over roughly an hour.
//
// Usage:
//
//	go run ./cmd/register-commands
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/polarhq/yapper-backend/bot"
	"github.com/polarhq/yapper-backend/config"
	"github.com/polarhq/yapper-backend/discord"
)

func main() {
	_ = godotenv.Load(".env")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if cfg.DiscordToken == "" || cfg.ApplicationID == "" {
		slog.Error("DISCORD_TOKEN and APPLICATION_ID are required")
		os.Exit(1)
	}

	client := &discord.Client{Token: cfg.DiscordToken, ApplicationID: cfg.ApplicationID}
	cmds := bot.ApplicationCommands()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var registered []discord.ApplicationCommand
	if cfg.DevelopmentGuildID != "" {
		registered, err = client.BulkOverwriteGuildCommands(ctx, cfg.DevelopmentGuildID, cmds)
		if err != nil {
			slog.Error("overwrite guild commands", "guild_id", cfg.DevelopmentGuildID, "err", err)
			os.Exit(1)
		}
		slog.Info("registered guild commands", "guild_id", cfg.DevelopmentGuildID, "count", len(registered))
		return
	}

	registered, err = client.BulkOverwriteGlobalCommands(ctx, cmds)
	if err != nil {
		slog.Error("overwrite global commands", "err", err)
		os.Exit(1)
	}
	slog.Info("registered global commands", "count", len(registered))
	for _, c := range registered {
		slog.Info("command", "id", c.ID, "name", c.Name, "type", c.Type)
	}
}
