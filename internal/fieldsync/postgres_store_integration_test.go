package fieldsync

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationRecordRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	store := postgresIntegrationStore(t, dsn)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	id, err := store.UpsertByApplicationID(ctx, queuedRecord("APP-1", "agent-1", base))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive record id, got %d", id)
	}

	updated := queuedRecord("APP-1", "agent-1", base.Add(time.Minute))
	updated.Status = StatusSynced
	attempt := base.Add(2 * time.Minute)
	updated.LastSyncAttempt = &attempt
	again, err := store.UpsertByApplicationID(ctx, updated)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if again != id {
		t.Fatalf("upsert must reuse the row, got %d then %d", id, again)
	}

	record, err := store.FindByApplicationID(ctx, "APP-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.Status != StatusSynced {
		t.Fatalf("expected synced, got %s", record.Status)
	}
	if record.LastSyncAttempt == nil || !record.LastSyncAttempt.Equal(attempt) {
		t.Fatalf("expected lastSyncAttempt preserved, got %v", record.LastSyncAttempt)
	}
}

func TestPostgresIntegrationResetInFlight(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	store := postgresIntegrationStore(t, dsn)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	inFlight := queuedRecord("APP-1", "agent-1", base)
	inFlight.Status = StatusSyncing
	mustUpsert(t, store, inFlight)
	mustUpsert(t, store, queuedRecord("APP-2", "agent-1", base))

	reset, err := store.ResetInFlight(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected one record reset, got %d", reset)
	}
	record, err := store.FindByApplicationID(ctx, "APP-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record.Status != StatusQueued {
		t.Fatalf("expected queued after reset, got %s", record.Status)
	}
}

func TestPostgresIntegrationListOrdering(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	store := postgresIntegrationStore(t, dsn)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mustUpsert(t, store, queuedRecord("APP-1", "agent-1", base))
	mustUpsert(t, store, queuedRecord("APP-2", "agent-1", base.Add(time.Minute)))

	rows, err := store.ListByAgentAndStatus(ctx, "agent-1", StatusQueued)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].ApplicationID != "APP-2" {
		t.Fatalf("expected lastModified-descending order, got %+v", rows)
	}
}

func postgresIntegrationStore(t *testing.T, dsn string) *PostgresRecordStore {
	t.Helper()
	store, err := NewPostgresRecordStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	store.tableName = postgresIntegrationTableName("fieldsync_records_it")
	t.Cleanup(func() {
		_ = store.Close()
		postgresIntegrationDropTable(t, dsn, store.tableName)
	})
	return store
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("FIELDSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set FIELDSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, os.Getpid(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Logf("cleanup open failed: %v", err)
		return
	}
	defer db.Close()
	if _, err := db.Exec("DROP TABLE IF EXISTS " + postgresQuoteIdentifier(tableName)); err != nil {
		t.Logf("cleanup drop failed: %v", err)
	}
}
