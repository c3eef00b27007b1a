// Package sink delivers signal events to downstream destinations.
//
// The set of sink kinds is closed: ConsoleSink, WebhookSink and ArchiveSink.
// Fanout holds the active set and replaces it wholesale on reload.
package sink

import (
	"context"
	"time"

	"signal-relay/internal/domain"
)

// Sink delivers one event. Implementations live in this package only.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver sends e. A returned error has already exhausted any retries.
	Deliver(ctx context.Context, e *domain.SignalEvent) error

	sealed()
}

// Settings is the hot-reloadable part of the sink configuration.
type Settings struct {
	DryRun            bool // suppresses network delivery (no webhook sink)
	Console           bool
	WebhookURL        string
	WebhookSecret     string
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
}
