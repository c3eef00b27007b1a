package memory

import (
	"context"
	"errors"
	"testing"

	"signal-relay/internal/domain"
	"signal-relay/internal/storage"
)

func TestSignalArchive_InsertCopiesEvent(t *testing.T) {
	archive := NewSignalArchive()
	ctx := context.Background()

	id := int64(7)
	addr := "So11111111111111111111111111111111111111112"
	e := &domain.SignalEvent{Event: domain.EventSignalParsed, MessageID: &id, ContractAddress: &addr}
	if err := archive.Insert(ctx, e); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	id = 8
	addr = "changed"

	all := archive.All()
	if len(all) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(all))
	}
	if *all[0].MessageID != 7 {
		t.Errorf("Expected message_id 7, got %d", *all[0].MessageID)
	}
	if *all[0].ContractAddress != "So11111111111111111111111111111111111111112" {
		t.Errorf("Unexpected contract address %q", *all[0].ContractAddress)
	}

	*all[0].MessageID = 99
	if got := *archive.All()[0].MessageID; got != 7 {
		t.Errorf("All leaked archive storage: got %d", got)
	}

	n, err := archive.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v; want 1, nil", n, err)
	}
}

func TestSignalArchive_InsertNil(t *testing.T) {
	err := NewSignalArchive().Insert(context.Background(), nil)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
