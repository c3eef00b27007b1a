// Package source receives inbound messages from the upstream channel.
package source

import (
	"context"
	"strings"

	"signal-relay/internal/domain"
)

// Source delivers messages from the configured sender. Delivery is
// at-least-once and may be out of order.
type Source interface {
	// Subscribe connects and starts delivering. The channel is closed when
	// ctx is done or Close is called. A connect failure is returned directly.
	Subscribe(ctx context.Context) (<-chan domain.InboundMessage, error)

	// Close stops delivery and releases the connection.
	Close() error
}

// normalizeText trims text and falls back to caption when text is empty.
func normalizeText(text, caption string) string {
	if t := strings.TrimSpace(text); t != "" {
		return t
	}
	return strings.TrimSpace(caption)
}
