package fieldsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := mustUpsert(t, store, queuedRecord("APP-1", "agent-1", base))
	mustUpsert(t, store, queuedRecord("APP-2", "agent-1", base.Add(time.Minute)))

	reopened, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	record, err := reopened.FindByApplicationID(context.Background(), "APP-1")
	if err != nil {
		t.Fatalf("find after reopen: %v", err)
	}
	if record.RecordID != id {
		t.Fatalf("expected record id %d preserved, got %d", id, record.RecordID)
	}
	if record.Status != StatusQueued {
		t.Fatalf("expected queued after reopen, got %s", record.Status)
	}

	// New inserts must not reuse ids from before the restart.
	next := mustUpsert(t, reopened, queuedRecord("APP-3", "agent-1", base))
	if next <= 2 {
		t.Fatalf("expected fresh record id above 2, got %d", next)
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	store, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rows, err := store.ListByAgent(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty store, got %d rows", len(rows))
	}
}

func TestFileStoreResetInFlightIsDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	inFlight := queuedRecord("APP-1", "agent-1", base)
	inFlight.Status = StatusSyncing
	mustUpsert(t, store, inFlight)

	if _, err := store.ResetInFlight(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}

	reopened, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	record, err := reopened.FindByApplicationID(context.Background(), "APP-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.Status != StatusQueued {
		t.Fatalf("expected reset to persist, got %s", record.Status)
	}
}

func TestFileStoreDeleteIsDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustUpsert(t, store, queuedRecord("APP-1", "agent-1", base))
	if err := store.DeleteByApplicationID(context.Background(), "APP-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	reopened, err := NewFileRecordStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := reopened.FindByApplicationID(context.Background(), "APP-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after reopen, got %v", err)
	}
}

func TestFileStoreRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := NewFileRecordStore(path); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage for corrupt snapshot, got %v", err)
	}
}
