// Package discord glues the bot to the Discord gateway: session setup, the
// administrator command surface, and the notification sender used by the
// reconcile loop.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// NewSession builds a gateway session with the intents the bot needs:
// guilds, guild messages, and message content (prefix commands).
func NewSession(botToken string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	return s, nil
}
