// Package config loads relay configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"signal-relay/internal/sink"
)

// Source types.
const (
	SourceTelegram  = "telegram"
	SourceWebSocket = "ws"
)

// State backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds all relay configuration.
type Config struct {
	// Inbound
	SignalSourceID int64  `yaml:"signal_source_id"`
	SourceType     string `yaml:"source_type"`
	TelegramToken  string `yaml:"telegram_token"`
	WSEndpoint     string `yaml:"ws_endpoint"`
	SessionName    string `yaml:"session_name"`

	// Behaviour
	DryRun       bool `yaml:"dry_run"`
	StrictDedupe bool `yaml:"strict_dedupe"`
	DedupeWindow int  `yaml:"dedupe_window"`

	// Sinks
	EventSinkStdout        bool   `yaml:"event_sink_stdout"`
	EventWebhookURL        string `yaml:"event_webhook_url"`
	EventWebhookSecret     string `yaml:"event_webhook_secret"`
	EventWebhookTimeoutMS  int    `yaml:"event_webhook_timeout_ms"`
	EventWebhookMaxRetries int    `yaml:"event_webhook_max_retries"`
	ClickhouseDSN          string `yaml:"clickhouse_dsn"`

	// Status server
	StatusHTTPEnabled    bool   `yaml:"status_http_enabled"`
	StatusHTTPHost       string `yaml:"status_http_host"`
	StatusHTTPPort       int    `yaml:"status_http_port"`
	StatusRecentCapacity int    `yaml:"status_recent_capacity"`

	// Persistence
	StateDir          string        `yaml:"state_dir"`
	StateLastSeenFile string        `yaml:"state_last_seen_file"`
	StateBackend      string        `yaml:"state_backend"`
	PostgresDSN       string        `yaml:"postgres_dsn"`
	SQLitePath        string        `yaml:"sqlite_path"`
	FlushInterval     time.Duration `yaml:"flush_interval"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		SourceType:             SourceTelegram,
		SessionName:            "signal_relay",
		DedupeWindow:           1024,
		EventSinkStdout:        true,
		EventWebhookTimeoutMS:  1500,
		EventWebhookMaxRetries: 2,
		StatusHTTPEnabled:      true,
		StatusHTTPHost:         "127.0.0.1",
		StatusHTTPPort:         8787,
		StatusRecentCapacity:   20,
		StateDir:               "./state",
		StateLastSeenFile:      "last_seen.json",
		StateBackend:           BackendFile,
		FlushInterval:          5 * time.Second,
		LogLevel:               "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (optional) and
// the environment, in that order, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config yaml: %w", err)
			}
		}
	}

	if err := applyEnvironmentOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// GetConfigPath returns the config file path from the environment or the default.
func GetConfigPath() string {
	if path := os.Getenv("SIGNAL_RELAY_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

// applyDefaults fills values an explicit empty setting would leave unusable.
func applyDefaults(cfg *Config) {
	if cfg.SessionName == "" {
		cfg.SessionName = "signal_relay"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "./state"
	}
	if cfg.StateLastSeenFile == "" {
		cfg.StateLastSeenFile = "last_seen.json"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.StateDir, "last_seen.db")
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 1024
	}
	if cfg.StatusRecentCapacity <= 0 {
		cfg.StatusRecentCapacity = 20
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.SourceType = strings.ToLower(cfg.SourceType)
	cfg.StateBackend = strings.ToLower(cfg.StateBackend)
}

func applyEnvironmentOverrides(cfg *Config) error {
	var errs []error

	setString := func(env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	setBool := func(env string, dst *bool) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = parseBool(v)
		}
	}
	setInt := func(env string, dst *int) {
		v, ok := os.LookupEnv(env)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", env, err))
			return
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("SIGNAL_SOURCE_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SIGNAL_SOURCE_ID: %w", err))
		} else {
			cfg.SignalSourceID = id
		}
	}
	setString("SOURCE_TYPE", &cfg.SourceType)
	setString("TELEGRAM_TOKEN", &cfg.TelegramToken)
	setString("WS_ENDPOINT", &cfg.WSEndpoint)
	setString("SESSION_NAME", &cfg.SessionName)

	setBool("DRY_RUN", &cfg.DryRun)
	setBool("STRICT_DEDUPE", &cfg.StrictDedupe)
	setInt("DEDUPE_WINDOW", &cfg.DedupeWindow)

	setBool("EVENT_SINK_STDOUT", &cfg.EventSinkStdout)
	setString("EVENT_WEBHOOK_URL", &cfg.EventWebhookURL)
	setString("EVENT_WEBHOOK_SECRET", &cfg.EventWebhookSecret)
	setInt("EVENT_WEBHOOK_TIMEOUT_MS", &cfg.EventWebhookTimeoutMS)
	setInt("EVENT_WEBHOOK_MAX_RETRIES", &cfg.EventWebhookMaxRetries)
	setString("CLICKHOUSE_DSN", &cfg.ClickhouseDSN)

	setBool("STATUS_HTTP_ENABLED", &cfg.StatusHTTPEnabled)
	setString("STATUS_HTTP_HOST", &cfg.StatusHTTPHost)
	setInt("STATUS_HTTP_PORT", &cfg.StatusHTTPPort)
	setInt("STATUS_RECENT_CAPACITY", &cfg.StatusRecentCapacity)

	setString("STATE_DIR", &cfg.StateDir)
	setString("STATE_LAST_SEEN_FILE", &cfg.StateLastSeenFile)
	setString("STATE_BACKEND", &cfg.StateBackend)
	setString("POSTGRES_DSN", &cfg.PostgresDSN)
	setString("SQLITE_PATH", &cfg.SQLitePath)
	if v, ok := os.LookupEnv("FLUSH_INTERVAL"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("FLUSH_INTERVAL: %w", err))
		} else {
			cfg.FlushInterval = d
		}
	}

	setString("LOG_LEVEL", &cfg.LogLevel)

	return errors.Join(errs...)
}

// parseBool treats 1, true, yes and on (any case) as true and anything else as false.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func validate(cfg *Config) error {
	switch cfg.SourceType {
	case SourceTelegram, SourceWebSocket:
	default:
		return fmt.Errorf("source_type must be %q or %q, got %q", SourceTelegram, SourceWebSocket, cfg.SourceType)
	}
	if cfg.EventWebhookMaxRetries < 0 {
		return fmt.Errorf("event_webhook_max_retries must be >= 0, got %d", cfg.EventWebhookMaxRetries)
	}
	if cfg.EventWebhookTimeoutMS <= 0 {
		return fmt.Errorf("event_webhook_timeout_ms must be > 0, got %d", cfg.EventWebhookTimeoutMS)
	}
	if cfg.StatusHTTPPort < 0 || cfg.StatusHTTPPort > 65535 {
		return fmt.Errorf("status_http_port out of range: %d", cfg.StatusHTTPPort)
	}
	switch cfg.StateBackend {
	case BackendFile, BackendMemory, BackendSQLite:
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for state_backend %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown state_backend %q", cfg.StateBackend)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// ValidateSource checks the settings needed to start the inbound source.
// It is separate from Load so offline commands work without credentials.
func (c *Config) ValidateSource() error {
	if c.SignalSourceID == 0 {
		return errors.New("signal_source_id is required")
	}
	switch c.SourceType {
	case SourceTelegram:
		if c.TelegramToken == "" {
			return errors.New("telegram_token is required for source_type telegram")
		}
	case SourceWebSocket:
		if c.WSEndpoint == "" {
			return errors.New("ws_endpoint is required for source_type ws")
		}
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return lvl, nil
}

// WebhookTimeout returns the per-attempt webhook timeout.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.EventWebhookTimeoutMS) * time.Millisecond
}

// SinkSettings derives the hot-reloadable sink settings.
func (c *Config) SinkSettings() sink.Settings {
	return sink.Settings{
		DryRun:            c.DryRun,
		Console:           c.EventSinkStdout,
		WebhookURL:        c.EventWebhookURL,
		WebhookSecret:     c.EventWebhookSecret,
		WebhookTimeout:    c.WebhookTimeout(),
		WebhookMaxRetries: c.EventWebhookMaxRetries,
	}
}

// ApplyReloadable copies the hot-reloadable fields of fresh into c and
// returns the names of the fields that changed. Nothing else is touched.
func (c *Config) ApplyReloadable(fresh *Config) []string {
	var changed []string
	apply := func(name string, dst *string, src string) {
		if *dst != src {
			*dst = src
			changed = append(changed, name)
		}
	}
	applyBool := func(name string, dst *bool, src bool) {
		if *dst != src {
			*dst = src
			changed = append(changed, name)
		}
	}
	applyInt := func(name string, dst *int, src int) {
		if *dst != src {
			*dst = src
			changed = append(changed, name)
		}
	}

	applyBool("dry_run", &c.DryRun, fresh.DryRun)
	applyBool("event_sink_stdout", &c.EventSinkStdout, fresh.EventSinkStdout)
	apply("event_webhook_url", &c.EventWebhookURL, fresh.EventWebhookURL)
	apply("event_webhook_secret", &c.EventWebhookSecret, fresh.EventWebhookSecret)
	applyInt("event_webhook_timeout_ms", &c.EventWebhookTimeoutMS, fresh.EventWebhookTimeoutMS)
	applyInt("event_webhook_max_retries", &c.EventWebhookMaxRetries, fresh.EventWebhookMaxRetries)
	applyBool("status_http_enabled", &c.StatusHTTPEnabled, fresh.StatusHTTPEnabled)
	apply("status_http_host", &c.StatusHTTPHost, fresh.StatusHTTPHost)
	applyInt("status_http_port", &c.StatusHTTPPort, fresh.StatusHTTPPort)

	return changed
}
