package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"signal-relay/internal/storage"
)

// WatermarkStore is a PostgreSQL implementation of storage.WatermarkStore.
// Uses table source_watermarks: one row per source (source_id, last_seen).
type WatermarkStore struct {
	pool *Pool
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// NewWatermarkStore creates a new PostgreSQL watermark store.
func NewWatermarkStore(pool *Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Load returns all stored watermarks. Returns ErrNotFound if the table is empty.
func (s *WatermarkStore) Load(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, last_seen FROM source_watermarks
	`)
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

// Save replaces the stored snapshot inside a single transaction.
func (s *WatermarkStore) Save(ctx context.Context, watermarks map[int64]int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM source_watermarks`); err != nil {
		return fmt.Errorf("clear watermarks: %w", err)
	}

	batch := &pgx.Batch{}
	for sourceID, lastSeen := range watermarks {
		batch.Queue(`
			INSERT INTO source_watermarks (source_id, last_seen, updated_at)
			VALUES ($1, $2, NOW())
		`, sourceID, lastSeen)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert watermarks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit watermarks: %w", err)
	}
	return nil
}
