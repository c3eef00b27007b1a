// Command relay forwards parsed token signals from a Telegram source to
// configured sinks.
//
// Logging:
//   - Base JSON logger is created here from log_level
//   - Components receive it by injection and scope it with component=<name>
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"signal-relay/internal/config"
	"signal-relay/internal/dedupe"
	"signal-relay/internal/domain"
	"signal-relay/internal/parser"
	"signal-relay/internal/relay"
	"signal-relay/internal/reload"
	"signal-relay/internal/sink"
	"signal-relay/internal/source"
	"signal-relay/internal/status"
)

var version = "dev"

// forceExitAfter bounds graceful shutdown after the first signal.
const forceExitAfter = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Telegram token signal relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", config.GetConfigPath(), "path to YAML config file (optional)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			useMemory, _ := cmd.Flags().GetBool("use-memory")
			return runRelay(configPath, useMemory)
		},
	}
	runCmd.Flags().Bool("use-memory", false, "keep watermarks in memory only (no persistence)")

	parseCmd := &cobra.Command{
		Use:   "parse [text...]",
		Short: "Parse text (arguments or stdin) and print the signal event",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}
			return printParsed(cmd.OutOrStdout(), text)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres and ClickHouse migrations for the configured DSNs",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return migrate(ctx, cfg, logger)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(runCmd, parseCmd, migrateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

// printParsed writes the event for text as indented JSON.
func printParsed(w io.Writer, text string) error {
	sig := parser.Parse(strings.TrimSpace(text))
	event := sig.Event()

	out := struct {
		*domain.SignalEvent
		AddressKind parser.AddressKind `json:"address_kind"`
	}{SignalEvent: event, AddressKind: parser.AddressNone}
	if event.ContractAddress != nil {
		out.AddressKind = parser.Classify(*event.ContractAddress)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runRelay(configPath string, useMemory bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if useMemory {
		cfg.StateBackend = config.BackendMemory
	}
	logger := newLogger(cfg)
	logger.Info("config loaded", "path", configPath, "source_type", cfg.SourceType, "state_backend", cfg.StateBackend)

	if err := cfg.ValidateSource(); err != nil {
		return fmt.Errorf("%w (check SIGNAL_SOURCE_ID / TELEGRAM_TOKEN / WS_ENDPOINT)", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
		case <-done:
			return
		}
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-time.After(forceExitAfter):
			logger.Error("graceful shutdown timed out, forcing exit", "after", forceExitAfter)
			os.Exit(1)
		case <-done:
		}
	}()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	store := dedupe.Open(ctx, stores.watermarks, dedupe.Options{
		Window: cfg.DedupeWindow,
		Logger: logger.With("component", "dedupe"),
	})

	var fixed []sink.Sink
	if stores.archive != nil {
		fixed = append(fixed, sink.NewArchiveSink(stores.archive))
	}
	fanout := sink.NewFanout(cfg.SinkSettings(), sink.FanoutOptions{
		Fixed:  fixed,
		Logger: logger.With("component", "sink"),
	})
	logger.Info("sinks configured", "sinks", fanout.Sinks(), "dry_run", cfg.DryRun)

	agg := status.NewAggregator(cfg.StatusRecentCapacity)
	pipeline := relay.NewPipeline(store, fanout, agg, relay.PipelineOptions{
		StrictDedupe: cfg.StrictDedupe,
		Logger:       logger.With("component", "pipeline"),
	})

	src, err := newSource(cfg, logger.With("component", "source"))
	if err != nil {
		return fmt.Errorf("start source: %w (check TELEGRAM_TOKEN / WS_ENDPOINT)", err)
	}

	runnerOpts := relay.RunnerOptions{
		FlushInterval: cfg.FlushInterval,
		Logger:        logger.With("component", "runner", "source_id", cfg.SignalSourceID),
	}
	if cfg.StatusHTTPEnabled {
		runnerOpts.Status = status.NewServer(cfg.StatusHTTPHost, cfg.StatusHTTPPort, agg, logger.With("component", "status"))
	}
	runner := relay.NewRunner(src, pipeline, store, runnerOpts)

	reloadPath := ""
	if _, err := os.Stat(configPath); err == nil {
		reloadPath = configPath
	}
	reloader := reload.NewController(config.NewLive(cfg), fanout, reload.Options{
		Path:   reloadPath,
		Logger: logger.With("component", "reload"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := runner.Run(gctx)
		cancel()
		return err
	})
	g.Go(func() error {
		return reloader.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, relay.ErrSubscribe) {
			return fmt.Errorf("%w (check TELEGRAM_TOKEN / WS_ENDPOINT)", err)
		}
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// newSource builds the inbound source for cfg.SourceType.
func newSource(cfg *config.Config, logger *slog.Logger) (source.Source, error) {
	switch cfg.SourceType {
	case config.SourceWebSocket:
		return source.NewWSSource(cfg.WSEndpoint, cfg.SignalSourceID, cfg.SessionName, nil, logger), nil
	default:
		return source.NewTelegramSource(cfg.TelegramToken, cfg.SignalSourceID, source.TelegramOptions{
			Logger: logger,
		})
	}
}
