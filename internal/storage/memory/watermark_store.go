package memory

import (
	"context"
	"maps"
	"sync"

	"signal-relay/internal/storage"
)

// WatermarkStore is an in-memory implementation of storage.WatermarkStore.
type WatermarkStore struct {
	mu       sync.RWMutex
	snapshot map[int64]int64
	saves    int
	failWith error
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// NewWatermarkStore creates an empty in-memory watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{}
}

// Load returns a copy of the last saved snapshot.
func (s *WatermarkStore) Load(_ context.Context) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return nil, storage.ErrNotFound
	}
	return maps.Clone(s.snapshot), nil
}

// Save replaces the snapshot with a copy of watermarks.
func (s *WatermarkStore) Save(_ context.Context, watermarks map[int64]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	s.snapshot = maps.Clone(watermarks)
	if s.snapshot == nil {
		s.snapshot = make(map[int64]int64)
	}
	s.saves++
	return nil
}

// Saves returns how many successful saves happened.
func (s *WatermarkStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// FailSaves makes subsequent saves return err (nil restores normal behavior).
func (s *WatermarkStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}
