// Package delivery pushes text to people. Every adapter reports success as a
// bool and never returns an error: callers decide what an undelivered
// message means for them.
package delivery

import (
	"context"
	"log/slog"
)

// ChatResolver maps a participant reference to a channel-specific chat id.
type ChatResolver interface {
	ChatID(ctx context.Context, recipient string) (string, bool)
}

// ChatResolverFunc adapts a function to ChatResolver.
type ChatResolverFunc func(ctx context.Context, recipient string) (string, bool)

// ChatID calls f.
func (f ChatResolverFunc) ChatID(ctx context.Context, recipient string) (string, bool) {
	return f(ctx, recipient)
}

// Log records messages instead of sending them. It is the channel used when
// no bot token is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a log-only deliverer.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "delivery", "channel", "log")}
}

// Deliver logs the message length and recipient. The text itself is not
// logged because relayed messages are private.
func (l *Log) Deliver(ctx context.Context, recipient, text string) bool {
	l.logger.InfoContext(ctx, "message delivered", "recipient", recipient, "length", len(text))
	return true
}
