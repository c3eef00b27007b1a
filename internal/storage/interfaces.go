package storage

import (
	"context"

	"signal-relay/internal/domain"
)

// WatermarkStore persists the per-source watermark map.
// The map is always written wholesale; there is no partial update.
type WatermarkStore interface {
	// Load returns the last saved watermark map keyed by source ID.
	// Returns ErrNotFound if nothing has been saved yet and ErrCorrupt
	// if the stored snapshot cannot be decoded.
	Load(ctx context.Context) (map[int64]int64, error)

	// Save overwrites the stored snapshot with watermarks.
	Save(ctx context.Context, watermarks map[int64]int64) error
}

// SignalArchive provides append-only storage of delivered signal events.
type SignalArchive interface {
	// Insert appends an event.
	Insert(ctx context.Context, e *domain.SignalEvent) error

	// Count returns the number of archived events.
	Count(ctx context.Context) (int64, error)
}
