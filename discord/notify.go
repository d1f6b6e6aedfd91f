package discord

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
)

// DeliveryError reports a failed notification send. The destination may have
// been deleted since it was configured; the caller treats this as a per-row
// failure, not a fatal one.
type DeliveryError struct {
	ChannelID int64
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to channel %d: %v", e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// messageSender is the slice of *discordgo.Session the notifier uses.
type messageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts go-live messages to Discord channels. It is a pure adapter:
// no retries, no formatting beyond the role mention prefix.
type Notifier struct {
	Sender messageSender
}

// NewNotifier wraps a gateway session.
func NewNotifier(s *discordgo.Session) *Notifier {
	return &Notifier{Sender: s}
}

// Send posts content to the destination channel, prefixed with a role mention
// when roleID is non-zero.
func (n *Notifier) Send(ctx context.Context, channelID, roleID int64, content string) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{ChannelID: channelID, Err: err}
	}
	if roleID != 0 {
		content = fmt.Sprintf("<@&%d> %s", roleID, content)
	}
	if _, err := n.Sender.ChannelMessageSend(strconv.FormatInt(channelID, 10), content); err != nil {
		return &DeliveryError{ChannelID: channelID, Err: err}
	}
	return nil
}
