// Package status tracks recent signal activity and serves it over HTTP.
package status

import (
	"sync"
	"time"

	"signal-relay/internal/domain"
	"signal-relay/internal/observability"
	"signal-relay/internal/ring"
)

// DefaultRecentCapacity is the number of recent events kept when none is configured.
const DefaultRecentCapacity = 20

// Snapshot is a point-in-time copy of the aggregator state.
type Snapshot struct {
	StartedAt     time.Time            `json:"started_at"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	TotalSignals  int64                `json:"total_signals"`
	LastEvent     *domain.SignalEvent  `json:"last_event"`
	Recent        []domain.SignalEvent `json:"recent"`
}

// Aggregator counts emitted signals and keeps the most recent ones.
type Aggregator struct {
	mu        sync.Mutex
	startedAt time.Time
	total     int64
	last      *domain.SignalEvent
	recent    *ring.Ring[domain.SignalEvent]

	now func() time.Time
}

// NewAggregator creates an aggregator keeping up to capacity recent events.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Aggregator{
		startedAt: time.Now().UTC(),
		recent:    ring.New[domain.SignalEvent](capacity),
		now:       time.Now,
	}
}

// Record counts e and makes it the newest recent event.
func (a *Aggregator) Record(e *domain.SignalEvent) {
	if e == nil {
		return
	}
	ev := e.Clone()

	a.mu.Lock()
	a.total++
	a.last = ev
	a.recent.Push(*ev)
	n := a.recent.Len()
	a.mu.Unlock()

	observability.UpdateRecentEvents(n)
}

// Snapshot returns a copy of the current state. Recent is newest first.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		StartedAt:     a.startedAt,
		UptimeSeconds: a.now().Sub(a.startedAt).Seconds(),
		TotalSignals:  a.total,
		LastEvent:     a.last.Clone(),
	}
	snap.Recent = a.recent.NewestFirst()
	for i := range snap.Recent {
		snap.Recent[i] = *snap.Recent[i].Clone()
	}
	return snap
}
