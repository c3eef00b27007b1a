// Package sqlite implements the watermark store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"signal-relay/internal/storage"
)

// WatermarkStore is a SQLite implementation of storage.WatermarkStore.
type WatermarkStore struct {
	conn *sql.DB
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string) (*WatermarkStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer keeps SQLite from returning SQLITE_BUSY on flush.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS source_watermarks (
			source_id  INTEGER PRIMARY KEY,
			last_seen  INTEGER NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &WatermarkStore{conn: conn}, nil
}

// Close closes the database connection.
func (s *WatermarkStore) Close() error {
	return s.conn.Close()
}

// Load returns all stored watermarks. Returns ErrNotFound if none exist.
func (s *WatermarkStore) Load(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT source_id, last_seen FROM source_watermarks`)
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var sourceID, lastSeen int64
		if err := rows.Scan(&sourceID, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		out[sourceID] = lastSeen
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return out, nil
}

// Save replaces the stored snapshot in one transaction.
func (s *WatermarkStore) Save(ctx context.Context, watermarks map[int64]int64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM source_watermarks`); err != nil {
		return fmt.Errorf("clear watermarks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO source_watermarks (source_id, last_seen, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for sourceID, lastSeen := range watermarks {
		if _, err := stmt.ExecContext(ctx, sourceID, lastSeen); err != nil {
			return fmt.Errorf("insert watermark %d: %w", sourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit watermarks: %w", err)
	}
	return nil
}
