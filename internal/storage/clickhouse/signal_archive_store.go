package clickhouse

import (
	"context"
	"fmt"
	"time"

	"signal-relay/internal/domain"
	"signal-relay/internal/storage"
)

// SignalArchiveStore implements storage.SignalArchive using ClickHouse.
type SignalArchiveStore struct {
	conn *Conn
}

// NewSignalArchiveStore creates a new SignalArchiveStore.
func NewSignalArchiveStore(conn *Conn) *SignalArchiveStore {
	return &SignalArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SignalArchive = (*SignalArchiveStore)(nil)

// Insert appends one event to signal_events.
func (s *SignalArchiveStore) Insert(ctx context.Context, e *domain.SignalEvent) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	ts, err := time.Parse(domain.TimestampLayout, e.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", storage.ErrInvalidInput, e.Timestamp)
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO signal_events (
			ts, event, message_id, chat_id, sender_id, contract_address
		) VALUES (?, ?, ?, ?, ?, ?)
	`, ts, e.Event, e.MessageID, e.ChatID, e.SenderID, e.ContractAddress)
	if err != nil {
		return fmt.Errorf("insert signal event: %w", err)
	}
	return nil
}

// Count returns the number of archived events.
func (s *SignalArchiveStore) Count(ctx context.Context) (int64, error) {
	var n uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM signal_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count signal events: %w", err)
	}
	return int64(n), nil
}
