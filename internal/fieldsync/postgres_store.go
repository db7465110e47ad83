package fieldsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresRecordTableName  = "fieldsync_records"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresRecordStore keeps submission records in a Postgres table. The
// application_id column carries a unique constraint, so upserts are
// atomic (ON CONFLICT DO UPDATE) and the dedup pass is a no-op safety
// net for this backend.
type PostgresRecordStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresRecordStore(dsn string) (*PostgresRecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresRecordStore{
		dsn:       dsn,
		tableName: postgresRecordTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresRecordStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = &StorageError{Op: "open", Cause: err}
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				record_id BIGSERIAL PRIMARY KEY,
				application_id TEXT NOT NULL UNIQUE,
				agent_id TEXT NOT NULL,
				status TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				last_modified TIMESTAMPTZ NOT NULL,
				last_sync_attempt TIMESTAMPTZ,
				sync_error TEXT NOT NULL DEFAULT ''
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = &StorageError{Op: "migrate", Cause: err}
			return
		}
		indexName := s.tableName + "_agent_status_idx"
		indexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (agent_id, status)",
			postgresQuoteIdentifier(indexName),
			postgresQuoteIdentifier(s.tableName),
		)
		if _, err := db.ExecContext(ctx, indexQuery); err != nil {
			_ = db.Close()
			s.initErr = &StorageError{Op: "migrate", Cause: err}
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresRecordStore) UpsertByApplicationID(ctx context.Context, record SubmissionRecord) (int64, error) {
	if record.ApplicationID == "" || record.AgentID == "" {
		return 0, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (application_id, agent_id, status, payload, created_at, last_modified, last_sync_attempt, sync_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (application_id)
		DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			last_modified = EXCLUDED.last_modified,
			last_sync_attempt = EXCLUDED.last_sync_attempt,
			sync_error = EXCLUDED.sync_error
		RETURNING record_id`, postgresQuoteIdentifier(s.tableName))
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		record.ApplicationID,
		record.AgentID,
		string(record.Status),
		string(record.Payload),
		record.CreatedAt,
		record.LastModified,
		record.LastSyncAttempt,
		record.SyncError,
	).Scan(&id)
	if err != nil {
		return 0, &StorageError{Op: "upsert", Cause: err}
	}
	return id, nil
}

const postgresRecordColumns = "record_id, application_id, agent_id, status, payload, created_at, last_modified, last_sync_attempt, sync_error"

func (s *PostgresRecordStore) FindByApplicationID(ctx context.Context, applicationID string) (SubmissionRecord, error) {
	rows, err := s.ListByApplicationID(ctx, applicationID)
	if err != nil {
		return SubmissionRecord{}, err
	}
	if len(rows) == 0 {
		return SubmissionRecord{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *PostgresRecordStore) ListByApplicationID(ctx context.Context, applicationID string) ([]SubmissionRecord, error) {
	if applicationID == "" {
		return nil, ErrInvalidInput
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE application_id = $1 ORDER BY last_modified DESC, record_id DESC",
		postgresRecordColumns, postgresQuoteIdentifier(s.tableName))
	return s.queryRecords(ctx, query, applicationID)
}

func (s *PostgresRecordStore) ListByAgentAndStatus(ctx context.Context, agentID string, status Status) ([]SubmissionRecord, error) {
	if agentID == "" || !status.IsValid() {
		return nil, ErrInvalidInput
	}
	order := "last_modified DESC, record_id DESC"
	if status == StatusFailed || status == StatusSynced {
		order = "last_sync_attempt DESC NULLS LAST, record_id DESC"
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE agent_id = $1 AND status = $2 ORDER BY %s",
		postgresRecordColumns, postgresQuoteIdentifier(s.tableName), order)
	return s.queryRecords(ctx, query, agentID, string(status))
}

func (s *PostgresRecordStore) ListByAgent(ctx context.Context, agentID string) ([]SubmissionRecord, error) {
	if agentID == "" {
		return nil, ErrInvalidInput
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE agent_id = $1 ORDER BY last_modified DESC, record_id DESC",
		postgresRecordColumns, postgresQuoteIdentifier(s.tableName))
	return s.queryRecords(ctx, query, agentID)
}

func (s *PostgresRecordStore) queryRecords(ctx context.Context, query string, args ...any) ([]SubmissionRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "query", Cause: err}
	}
	defer rows.Close()

	out := make([]SubmissionRecord, 0)
	for rows.Next() {
		var record SubmissionRecord
		var status, payload string
		var lastSyncAttempt sql.NullTime
		if err := rows.Scan(
			&record.RecordID,
			&record.ApplicationID,
			&record.AgentID,
			&status,
			&payload,
			&record.CreatedAt,
			&record.LastModified,
			&lastSyncAttempt,
			&record.SyncError,
		); err != nil {
			return nil, &StorageError{Op: "scan", Cause: err}
		}
		record.Status = Status(status)
		record.Payload = []byte(payload)
		if lastSyncAttempt.Valid {
			t := lastSyncAttempt.Time
			record.LastSyncAttempt = &t
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query", Cause: err}
	}
	return out, nil
}

func (s *PostgresRecordStore) DeleteByApplicationID(ctx context.Context, applicationID string) error {
	if applicationID == "" {
		return ErrInvalidInput
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE application_id = $1", postgresQuoteIdentifier(s.tableName))
	return s.exec(ctx, query, applicationID)
}

func (s *PostgresRecordStore) DeleteByRecordID(ctx context.Context, recordID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE record_id = $1", postgresQuoteIdentifier(s.tableName))
	return s.exec(ctx, query, recordID)
}

func (s *PostgresRecordStore) ResetInFlight(ctx context.Context) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"UPDATE %s SET status = $1 WHERE status = $2",
		postgresQuoteIdentifier(s.tableName))
	result, err := s.db.ExecContext(ctx, query, string(StatusQueued), string(StatusSyncing))
	if err != nil {
		return 0, &StorageError{Op: "reset", Cause: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (s *PostgresRecordStore) ClearAll(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s", postgresQuoteIdentifier(s.tableName))
	return s.exec(ctx, query)
}

func (s *PostgresRecordStore) exec(ctx context.Context, query string, args ...any) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &StorageError{Op: "exec", Cause: err}
	}
	return nil
}

func (s *PostgresRecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
