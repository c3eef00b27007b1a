package main

import (
	"context"
	"fmt"
	"log/slog"

	"signal-relay/internal/config"
	"signal-relay/internal/storage"
	chstore "signal-relay/internal/storage/clickhouse"
	"signal-relay/internal/storage/file"
	"signal-relay/internal/storage/memory"
	"signal-relay/internal/storage/migrations"
	pgstore "signal-relay/internal/storage/postgres"
	"signal-relay/internal/storage/sqlite"
)

// relayStores holds the opened persistence backends.
type relayStores struct {
	watermarks storage.WatermarkStore
	archive    storage.SignalArchive // nil without CLICKHOUSE_DSN
	closers    []func()
}

// Close releases every opened backend in reverse order.
func (s *relayStores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores opens the watermark backend and the optional ClickHouse archive.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*relayStores, error) {
	stores := &relayStores{}

	switch cfg.StateBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory watermarks; state is lost on restart")
		stores.watermarks = memory.NewWatermarkStore()

	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		stores.closers = append(stores.closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			stores.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.watermarks = pgstore.NewWatermarkStore(pool)

	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		stores.closers = append(stores.closers, func() { db.Close() })
		stores.watermarks = db

	default:
		fs, err := file.NewWatermarkStore(cfg.StateDir, cfg.StateLastSeenFile)
		if err != nil {
			return nil, fmt.Errorf("open state dir: %w", err)
		}
		stores.watermarks = fs
	}
	logger.Info("watermark store ready", "backend", cfg.StateBackend)

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		stores.closers = append(stores.closers, func() { conn.Close() })
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			stores.Close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.archive = chstore.NewSignalArchiveStore(conn)
		logger.Info("signal archive ready", "backend", "clickhouse")
	}

	return stores, nil
}

// migrate applies schema migrations for every configured DSN.
func migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	applied := 0

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
		applied++
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return fmt.Errorf("connect clickhouse: %w", err)
		}
		defer conn.Close()
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		logger.Info("clickhouse migrations applied")
		applied++
	}

	if applied == 0 {
		return fmt.Errorf("nothing to migrate: set POSTGRES_DSN and/or CLICKHOUSE_DSN")
	}
	return nil
}
