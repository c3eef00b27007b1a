package memory

import (
	"context"
	"sync"

	"signal-relay/internal/domain"
	"signal-relay/internal/storage"
)

// SignalArchive is an in-memory implementation of storage.SignalArchive.
type SignalArchive struct {
	mu   sync.RWMutex
	data []*domain.SignalEvent
}

// Compile-time interface check.
var _ storage.SignalArchive = (*SignalArchive)(nil)

// NewSignalArchive creates an empty in-memory archive.
func NewSignalArchive() *SignalArchive {
	return &SignalArchive{}
}

// Insert appends a copy of e.
func (a *SignalArchive) Insert(_ context.Context, e *domain.SignalEvent) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.data = append(a.data, e.Clone())
	return nil
}

// Count returns the number of archived events.
func (a *SignalArchive) Count(_ context.Context) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(len(a.data)), nil
}

// All returns copies of archived events in insertion order.
func (a *SignalArchive) All() []domain.SignalEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]domain.SignalEvent, len(a.data))
	for i, e := range a.data {
		out[i] = *e.Clone()
	}
	return out
}
