// Package dedupe suppresses duplicate inbound messages using a per-source
// watermark and a bounded recency window shared by all sources.
package dedupe

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strconv"
	"sync"

	"signal-relay/internal/observability"
	"signal-relay/internal/ring"
	"signal-relay/internal/storage"
)

// DefaultWindow is the default recency window capacity.
const DefaultWindow = 1024

// Options configures a Store.
type Options struct {
	Window int // recency window capacity (default DefaultWindow)
	Logger *slog.Logger
}

// Store tracks which messages were processed.
//
// The in-memory watermark map is authoritative until restart; the backend
// only receives snapshots on Flush. The recency window is never persisted.
type Store struct {
	backend storage.WatermarkStore
	logger  *slog.Logger

	mu         sync.RWMutex
	watermarks map[int64]int64
	window     *ring.Ring[int64]
	inWindow   map[int64]struct{} // ids currently held by window
}

// Open creates a Store and loads the persisted watermark map from backend.
// A missing or unreadable snapshot yields an empty map and a warning.
func Open(ctx context.Context, backend storage.WatermarkStore, opts Options) *Store {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		backend:    backend,
		logger:     logger,
		watermarks: make(map[int64]int64),
		window:     ring.New[int64](window),
		inWindow:   make(map[int64]struct{}, window),
	}
	s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) {
	if s.backend == nil {
		return
	}
	loaded, err := s.backend.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no persisted watermarks, starting empty")
		return
	case err != nil:
		s.logger.Warn("state_load_error", "error", err)
		return
	}

	s.watermarks = loaded
	for source, wm := range loaded {
		observability.UpdateWatermark(strconv.FormatInt(source, 10), wm)
	}
	s.logger.Info("watermarks loaded", "sources", len(loaded))
}

// ShouldProcess reports whether messageID from sourceID has not been seen:
// it is neither in the recency window nor at or below the source watermark.
func (s *Store) ShouldProcess(sourceID, messageID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, seen := s.inWindow[messageID]; seen {
		return false
	}
	if wm, ok := s.watermarks[sourceID]; ok && messageID <= wm {
		return false
	}
	return true
}

// MarkProcessed records messageID in the recency window and raises the
// source watermark to max(current, messageID). Repeated calls are no-ops.
func (s *Store) MarkProcessed(sourceID, messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.inWindow[messageID]; !seen {
		if old, evicted := s.window.Push(messageID); evicted {
			delete(s.inWindow, old)
		}
		s.inWindow[messageID] = struct{}{}
	}

	if wm, ok := s.watermarks[sourceID]; !ok || messageID > wm {
		s.watermarks[sourceID] = messageID
		observability.UpdateWatermark(strconv.FormatInt(sourceID, 10), messageID)
	}
}

// Flush writes a snapshot of the watermark map to the backend, replacing the
// previous one. Failures are logged and returned; in-memory state is kept.
func (s *Store) Flush(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	s.mu.RLock()
	snapshot := maps.Clone(s.watermarks)
	s.mu.RUnlock()

	err := s.backend.Save(ctx, snapshot)
	observability.RecordFlush(err)
	if err != nil {
		s.logger.Warn("state_flush_error", "error", err)
		return err
	}
	return nil
}

// Watermark returns the watermark for sourceID, if any.
func (s *Store) Watermark(sourceID int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.watermarks[sourceID]
	return wm, ok
}

// WindowLen returns the number of ids held in the recency window.
func (s *Store) WindowLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window.Len()
}
