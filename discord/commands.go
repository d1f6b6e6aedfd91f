package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/varkst/livewatch/tracker"
)

// Registry is the slice of tracker.Store the command layer needs.
type Registry interface {
	Add(ctx context.Context, guildID int64, channel string) error
	Remove(ctx context.Context, guildID int64, channel string) error
	List(ctx context.Context, guildID int64) ([]string, error)
	SetNotifyChannel(ctx context.Context, guildID, channelID int64) error
	SetPingRole(ctx context.Context, guildID, roleID int64) error
}

// Commander routes administrator prefix commands (addnotif, removenotif,
// setchannel, setrole, notiflist) to the subscription store and replies
// in-channel. Store conflicts come back as friendly replies, never crashes.
type Commander struct {
	Prefix string
	Store  Registry
}

// Attach registers the message handler on a gateway session.
func (c *Commander) Attach(s *discordgo.Session) {
	s.AddHandler(c.onMessage)
}

var commands = map[string]struct{}{
	"addnotif":    {},
	"removenotif": {},
	"setchannel":  {},
	"setrole":     {},
	"notiflist":   {},
}

func (c *Commander) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if !strings.HasPrefix(m.Content, c.Prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, c.Prefix))
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	if _, ok := commands[cmd]; !ok {
		return
	}

	// Commands are gated to administrators; everyone else is ignored.
	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil || perms&discordgo.PermissionAdministrator == 0 {
		return
	}

	guildID, err := strconv.ParseInt(m.GuildID, 10, 64)
	if err != nil {
		slog.Warn("unparseable guild id", slog.String("guild_id", m.GuildID))
		return
	}

	reply := c.Dispatch(context.Background(), cmd, guildID, fields[1:])
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		slog.Warn("command reply failed",
			slog.String("command", cmd),
			slog.Int64("guild_id", guildID),
			slog.Any("err", err))
	}
}

// Dispatch executes one command and returns the reply text. Split out from
// the gateway handler so command behavior is testable without a session.
func (c *Commander) Dispatch(ctx context.Context, cmd string, guildID int64, args []string) string {
	switch cmd {
	case "addnotif":
		return c.addNotif(ctx, guildID, args)
	case "removenotif":
		return c.removeNotif(ctx, guildID, args)
	case "setchannel":
		return c.setChannel(ctx, guildID, args)
	case "setrole":
		return c.setRole(ctx, guildID, args)
	case "notiflist":
		return c.notifList(ctx, guildID)
	}
	return ""
}

func (c *Commander) addNotif(ctx context.Context, guildID int64, args []string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: %saddnotif <twitch channel>", c.Prefix)
	}
	name := strings.ToLower(args[0])
	if err := c.Store.Add(ctx, guildID, name); err != nil {
		if errors.Is(err, tracker.ErrAlreadyTracked) {
			return fmt.Sprintf("Twitch channel `%s` is already being tracked.", name)
		}
		return c.internalError("addnotif", guildID, err)
	}
	return fmt.Sprintf("Added Twitch channel: %s to the notification list.", name)
}

func (c *Commander) removeNotif(ctx context.Context, guildID int64, args []string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: %sremovenotif <twitch channel>", c.Prefix)
	}
	name := strings.ToLower(args[0])
	if err := c.Store.Remove(ctx, guildID, name); err != nil {
		if errors.Is(err, tracker.ErrNotTracked) {
			return fmt.Sprintf("Twitch channel `%s` is not being tracked.", name)
		}
		return c.internalError("removenotif", guildID, err)
	}
	return fmt.Sprintf("Removed Twitch channel: %s from the notification list.", name)
}

func (c *Commander) setChannel(ctx context.Context, guildID int64, args []string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: %ssetchannel <#channel>", c.Prefix)
	}
	channelID, err := ParseChannelMention(args[0])
	if err != nil {
		return "That doesn't look like a channel. Mention it like #announcements."
	}
	if err := c.Store.SetNotifyChannel(ctx, guildID, channelID); err != nil {
		return c.internalError("setchannel", guildID, err)
	}
	return fmt.Sprintf("Notifications will be sent to <#%d>.", channelID)
}

func (c *Commander) setRole(ctx context.Context, guildID int64, args []string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Usage: %ssetrole <@role>", c.Prefix)
	}
	roleID, err := ParseRoleMention(args[0])
	if err != nil {
		return "That doesn't look like a role. Mention it like @streams."
	}
	if err := c.Store.SetPingRole(ctx, guildID, roleID); err != nil {
		return c.internalError("setrole", guildID, err)
	}
	return fmt.Sprintf("Set <@&%d> to be pinged for notifications.", roleID)
}

func (c *Commander) notifList(ctx context.Context, guildID int64) string {
	channels, err := c.Store.List(ctx, guildID)
	if err != nil {
		return c.internalError("notiflist", guildID, err)
	}
	if len(channels) == 0 {
		return "No Twitch channels are being tracked for this server."
	}
	var b strings.Builder
	b.WriteString("Tracked Twitch channels:")
	for _, ch := range channels {
		b.WriteString("\n- ")
		b.WriteString(ch)
	}
	return b.String()
}

func (c *Commander) internalError(cmd string, guildID int64, err error) string {
	slog.Error("command failed",
		slog.String("command", cmd),
		slog.Int64("guild_id", guildID),
		slog.Any("err", err))
	return "Something went wrong; try again in a moment."
}

// ParseChannelMention accepts a channel mention (<#123>) or a raw snowflake.
func ParseChannelMention(s string) (int64, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<#"), ">")
	return parseSnowflake(s)
}

// ParseRoleMention accepts a role mention (<@&123>) or a raw snowflake.
func ParseRoleMention(s string) (int64, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<@&"), ">")
	return parseSnowflake(s)
}

func parseSnowflake(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid snowflake %q", s)
	}
	return id, nil
}
