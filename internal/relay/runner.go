package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"signal-relay/internal/dedupe"
	"signal-relay/internal/source"
)

// DefaultShutdownGrace bounds the wait for in-flight handlers on shutdown.
const DefaultShutdownGrace = 10 * time.Second

// ErrSubscribe wraps a failure to start the source.
var ErrSubscribe = errors.New("subscribe source")

// ErrSourceClosed is returned when the source stops delivering on its own.
var ErrSourceClosed = errors.New("source closed unexpectedly")

// Server is a long-running HTTP listener stopped by cancelling ctx.
type Server interface {
	Run(ctx context.Context) error
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	// Status is started alongside the relay when non-nil.
	Status        Server
	FlushInterval time.Duration
	ShutdownGrace time.Duration
	Logger        *slog.Logger
}

// Runner owns the relay lifecycle: subscribe, serve, flush, drain.
type Runner struct {
	source   source.Source
	pipeline *Pipeline
	store    *dedupe.Store
	opts     RunnerOptions
	logger   *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(src source.Source, pipeline *Pipeline, store *dedupe.Store, opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Runner{
		source:   src,
		pipeline: pipeline,
		store:    store,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Run subscribes to the source and handles messages until ctx is done.
// A subscribe failure is returned before anything else starts.
func (r *Runner) Run(ctx context.Context) error {
	msgs, err := r.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	g, gctx := errgroup.WithContext(serveCtx)
	if r.opts.Status != nil {
		// A failed status listener leaves ingestion running.
		g.Go(func() error {
			if err := r.opts.Status.Run(gctx); err != nil {
				r.logger.Error("status server stopped", "error", err)
			}
			return nil
		})
	}

	scheduler, err := r.startFlushScheduler()
	if err != nil {
		r.source.Close()
		return err
	}

	// Handlers outlive ctx so in-flight deliveries can finish within the grace period.
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

	var inflight sync.WaitGroup
	var runErr error

	r.logger.Info("listening")
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil {
					runErr = ErrSourceClosed
				}
				break loop
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				r.pipeline.Handle(handlerCtx, msg)
			}()
		}
	}

	r.source.Close()
	r.drain(&inflight, cancelHandlers)

	if err := r.store.Flush(context.Background()); err != nil {
		r.logger.Warn("final flush failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(r.opts.ShutdownGrace):
		r.logger.Warn("flush job still running at shutdown")
	}

	stopServing()
	_ = g.Wait()

	r.logger.Info("shutdown_complete")
	return runErr
}

// startFlushScheduler persists watermarks every FlushInterval.
func (r *Runner) startFlushScheduler() (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(r.logger.Handler(), slog.LevelWarn))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	schedule := "@every " + r.opts.FlushInterval.String()
	if _, err := c.AddFunc(schedule, func() {
		_ = r.store.Flush(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("schedule flush %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

// drain waits for in-flight handlers, cancelling them after the grace period.
func (r *Runner) drain(inflight *sync.WaitGroup, cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.opts.ShutdownGrace):
		r.logger.Warn("in-flight handlers still running after grace period; cancelling")
		cancel()
		<-done
	}
}
