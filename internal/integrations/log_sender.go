package integrations

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender records notifications instead of delivering them. Used in dev
// and as the fallback when no real sender is configured for a channel.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, channel Channel, recipient, subject, body string) error {
	s.log.Info().
		Str("channel", string(channel)).
		Str("recipient", recipient).
		Str("subject", subject).
		Msg("notification (log only)")
	return nil
}

// ChannelMux routes each notification to the sender registered for its
// channel, falling back to the default sender.
type ChannelMux struct {
	senders  map[Channel]NotificationSender
	fallback NotificationSender
}

func NewChannelMux(fallback NotificationSender) *ChannelMux {
	return &ChannelMux{
		senders:  make(map[Channel]NotificationSender),
		fallback: fallback,
	}
}

func (m *ChannelMux) Register(channel Channel, sender NotificationSender) {
	m.senders[channel] = sender
}

func (m *ChannelMux) Send(ctx context.Context, channel Channel, recipient, subject, body string) error {
	if sender, ok := m.senders[channel]; ok {
		return sender.Send(ctx, channel, recipient, subject, body)
	}
	return m.fallback.Send(ctx, channel, recipient, subject, body)
}
