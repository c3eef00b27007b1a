package sink

import (
	"context"
	"fmt"

	"signal-relay/internal/domain"
	"signal-relay/internal/storage"
)

// ArchiveSink appends each event to a SignalArchive (ClickHouse in production).
// It is configured once at startup and survives reloads.
type ArchiveSink struct {
	archive storage.SignalArchive
}

// NewArchiveSink creates an archive sink.
func NewArchiveSink(archive storage.SignalArchive) *ArchiveSink {
	return &ArchiveSink{archive: archive}
}

func (*ArchiveSink) sealed() {}

// Name returns "archive".
func (*ArchiveSink) Name() string { return "archive" }

// Deliver inserts e into the archive.
func (a *ArchiveSink) Deliver(ctx context.Context, e *domain.SignalEvent) error {
	if err := a.archive.Insert(ctx, e); err != nil {
		return fmt.Errorf("archive signal: %w", err)
	}
	return nil
}
