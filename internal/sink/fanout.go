package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"signal-relay/internal/domain"
	"signal-relay/internal/observability"
)

// FanoutOptions contains configuration for creating a Fanout.
type FanoutOptions struct {
	// Fixed sinks are built once by the caller and kept across reloads.
	Fixed []Sink
	// WebhookOptions are applied to every webhook sink the fanout builds.
	WebhookOptions []WebhookOption
	Logger         *slog.Logger
}

// sinkSet is an immutable snapshot of the active sinks.
type sinkSet struct {
	settings Settings
	sinks    []Sink
}

// Fanout emits each event to every active sink concurrently.
type Fanout struct {
	fixed       []Sink
	webhookOpts []WebhookOption
	logger      *slog.Logger

	current atomic.Pointer[sinkSet]
}

// NewFanout creates a Fanout with sinks built from settings.
func NewFanout(settings Settings, opts FanoutOptions) *Fanout {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{
		fixed:       opts.Fixed,
		webhookOpts: opts.WebhookOptions,
		logger:      logger,
	}
	f.current.Store(f.build(settings))
	return f
}

// build creates a fresh sink set. Webhook sinks from earlier sets are not reused.
func (f *Fanout) build(settings Settings) *sinkSet {
	set := &sinkSet{settings: settings}

	if settings.Console {
		set.sinks = append(set.sinks, NewConsoleSink(f.logger.With("component", "sink.console")))
	}
	switch {
	case settings.WebhookURL == "":
	case settings.DryRun:
		f.logger.Info("dry run: webhook sink disabled", "url", settings.WebhookURL)
	default:
		opts := append([]WebhookOption{WithLogger(f.logger.With("component", "sink.webhook"))}, f.webhookOpts...)
		set.sinks = append(set.sinks, NewWebhookSink(
			settings.WebhookURL,
			settings.WebhookSecret,
			settings.WebhookTimeout,
			settings.WebhookMaxRetries,
			opts...,
		))
	}
	set.sinks = append(set.sinks, f.fixed...)
	return set
}

// Reload rebuilds the sink set from settings and swaps it in atomically.
// Deliveries already running on the previous set finish on their own.
func (f *Fanout) Reload(settings Settings) {
	set := f.build(settings)
	f.current.Store(set)
	f.logger.Info("sinks rebuilt", "sinks", names(set.sinks))
}

// Emit delivers e to every active sink and waits for all of them.
// Sink failures are logged and counted, never returned.
func (f *Fanout) Emit(ctx context.Context, e *domain.SignalEvent) {
	set := f.current.Load()

	var g errgroup.Group
	for _, s := range set.sinks {
		g.Go(func() error {
			err := f.deliver(ctx, s, e)
			observability.RecordSinkDelivery(s.Name(), err)
			if err != nil {
				f.logger.Warn("sink delivery failed", "sink", s.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// deliver isolates a panicking sink from the others.
func (f *Fanout) deliver(ctx context.Context, s Sink, e *domain.SignalEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.Deliver(ctx, e)
}

// Sinks returns the names of the active sinks.
func (f *Fanout) Sinks() []string {
	return names(f.current.Load().sinks)
}

// Settings returns the settings the active set was built from.
func (f *Fanout) Settings() Settings {
	return f.current.Load().settings
}

func names(sinks []Sink) []string {
	out := make([]string, len(sinks))
	for i, s := range sinks {
		out[i] = s.Name()
	}
	return out
}
