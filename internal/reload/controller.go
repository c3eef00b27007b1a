// Package reload applies configuration changes to a running relay.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"signal-relay/internal/config"
	"signal-relay/internal/observability"
	"signal-relay/internal/sink"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 200 * time.Millisecond

// Options contains configuration for creating a Controller.
type Options struct {
	// Path is the config file. Empty disables file watching.
	Path string
	// Signals overrides SIGHUP delivery. When nil, Run subscribes to SIGHUP.
	Signals  <-chan os.Signal
	Debounce time.Duration
	Logger   *slog.Logger
	// Load defaults to config.Load.
	Load func(path string) (*config.Config, error)
}

// Controller re-reads configuration and rebuilds the sink set.
type Controller struct {
	live   *config.Live
	fanout *sink.Fanout
	opts   Options
	logger *slog.Logger
}

// NewController creates a reload controller.
func NewController(live *config.Live, fanout *sink.Fanout, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Load == nil {
		opts.Load = config.Load
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Controller{
		live:   live,
		fanout: fanout,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Reload re-reads the configuration, applies the hot-reloadable fields and
// swaps the sink set. On error the running configuration is untouched.
func (c *Controller) Reload() error {
	fresh, err := c.opts.Load(c.opts.Path)
	if err != nil {
		observability.RecordReload(err)
		c.logger.Error("reload_failed", "error", err)
		return fmt.Errorf("load config: %w", err)
	}

	changed, cfg := c.live.Apply(fresh)
	c.fanout.Reload(cfg.SinkSettings())
	observability.RecordReload(nil)

	c.logger.Info("reloaded_config", "changed", changed, "sinks", c.fanout.Sinks())
	if config.TouchesStatus(changed) {
		c.logger.Warn("status server settings changed; listener keeps running until restart")
	}
	return nil
}

// Run reloads on SIGHUP and on writes to the config file until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	sigCh := c.opts.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGHUP)
		defer signal.Stop(ch)
		sigCh = ch
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	target := ""
	if c.opts.Path != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer w.Close()

		target = filepath.Clean(c.opts.Path)
		// Watch the directory so rename-on-save editors are still seen.
		if err := w.Add(filepath.Dir(target)); err != nil {
			return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
		}
		events, errs = w.Events, w.Errors
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-sigCh:
			c.logger.Info("reload requested", "signal", fmt.Sprint(sig))
			_ = c.Reload()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(c.opts.Debounce)
			} else {
				debounce.Reset(c.opts.Debounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			c.logger.Info("reload requested", "file", target)
			_ = c.Reload()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn("config watcher error", "error", err)
		}
	}
}
