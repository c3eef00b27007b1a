package sink

import (
	"context"
	"log/slog"

	"signal-relay/internal/domain"
)

// ConsoleSink writes each event as a structured log line. It never fails.
type ConsoleSink struct {
	logger *slog.Logger
}

// NewConsoleSink creates a console sink writing to logger.
func NewConsoleSink(logger *slog.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger}
}

func (*ConsoleSink) sealed() {}

// Name returns "console".
func (*ConsoleSink) Name() string { return "console" }

// Deliver logs e under the "signal_event" message.
func (c *ConsoleSink) Deliver(ctx context.Context, e *domain.SignalEvent) error {
	c.logger.LogAttrs(ctx, slog.LevelInfo, "signal_event",
		slog.String("ts", e.Timestamp),
		slog.String("event", e.Event),
		slog.Any("message_id", e.MessageID),
		slog.Any("chat_id", e.ChatID),
		slog.Any("sender_id", e.SenderID),
		slog.Any("contract_address", e.ContractAddress),
	)
	return nil
}
