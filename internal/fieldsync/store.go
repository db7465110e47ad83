package fieldsync

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// RecordStore is the durable home of submission records. Lookups by
// application ID are logically unique; the dedup pass restores that
// invariant when an insert races an update. Implementations must be safe
// for concurrent callers and must never expose a partially written
// record.
type RecordStore interface {
	// UpsertByApplicationID updates the row for record.ApplicationID or
	// inserts a new one, returning the stored record ID.
	UpsertByApplicationID(ctx context.Context, record SubmissionRecord) (int64, error)

	// FindByApplicationID returns the newest row for the application, or
	// ErrNotFound.
	FindByApplicationID(ctx context.Context, applicationID string) (SubmissionRecord, error)

	// ListByApplicationID returns every row sharing the application ID,
	// newest first. More than one row means the dedup pass has work.
	ListByApplicationID(ctx context.Context, applicationID string) ([]SubmissionRecord, error)

	// ListByAgentAndStatus returns the agent's records in the given
	// status: lastModified descending for draft/queued, lastSyncAttempt
	// descending for failed/synced.
	ListByAgentAndStatus(ctx context.Context, agentID string, status Status) ([]SubmissionRecord, error)

	// ListByAgent returns all of the agent's records, lastModified
	// descending.
	ListByAgent(ctx context.Context, agentID string) ([]SubmissionRecord, error)

	// DeleteByApplicationID removes every row for the application.
	DeleteByApplicationID(ctx context.Context, applicationID string) error

	// DeleteByRecordID removes a single row; used by the dedup pass.
	DeleteByRecordID(ctx context.Context, recordID int64) error

	// ResetInFlight rewrites every syncing row as queued. Called once
	// when the engine opens a store so a crashed attempt is retried.
	ResetInFlight(ctx context.Context) (int, error)

	// ClearAll removes every record.
	ClearAll(ctx context.Context) error

	Close() error
}

// MemoryRecordStore keeps records in process memory. It backs tests and
// ephemeral runs, and is the in-memory half of the file store.
type MemoryRecordStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]SubmissionRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: map[int64]SubmissionRecord{}}
}

func (s *MemoryRecordStore) UpsertByApplicationID(ctx context.Context, record SubmissionRecord) (int64, error) {
	if record.ApplicationID == "" || record.AgentID == "" {
		return 0, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(record), nil
}

func (s *MemoryRecordStore) upsertLocked(record SubmissionRecord) int64 {
	record = record.Clone()
	for id, existing := range s.records {
		if existing.ApplicationID == record.ApplicationID {
			record.RecordID = id
			s.records[id] = record
			return id
		}
	}
	s.nextID++
	record.RecordID = s.nextID
	s.records[record.RecordID] = record
	return record.RecordID
}

func (s *MemoryRecordStore) FindByApplicationID(ctx context.Context, applicationID string) (SubmissionRecord, error) {
	rows, err := s.ListByApplicationID(ctx, applicationID)
	if err != nil {
		return SubmissionRecord{}, err
	}
	if len(rows) == 0 {
		return SubmissionRecord{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *MemoryRecordStore) ListByApplicationID(ctx context.Context, applicationID string) ([]SubmissionRecord, error) {
	if applicationID == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]SubmissionRecord, 0, 1)
	for _, record := range s.records {
		if record.ApplicationID == applicationID {
			rows = append(rows, record.Clone())
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].newerThan(rows[j]) })
	return rows, nil
}

func (s *MemoryRecordStore) ListByAgentAndStatus(ctx context.Context, agentID string, status Status) ([]SubmissionRecord, error) {
	if agentID == "" || !status.IsValid() {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]SubmissionRecord, 0)
	for _, record := range s.records {
		if record.AgentID == agentID && record.Status == status {
			rows = append(rows, record.Clone())
		}
	}
	sortForStatus(rows, status)
	return rows, nil
}

func (s *MemoryRecordStore) ListByAgent(ctx context.Context, agentID string) ([]SubmissionRecord, error) {
	if agentID == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]SubmissionRecord, 0, len(s.records))
	for _, record := range s.records {
		if record.AgentID == agentID {
			rows = append(rows, record.Clone())
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].newerThan(rows[j]) })
	return rows, nil
}

func (s *MemoryRecordStore) DeleteByApplicationID(ctx context.Context, applicationID string) error {
	if applicationID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, record := range s.records {
		if record.ApplicationID == applicationID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *MemoryRecordStore) DeleteByRecordID(ctx context.Context, recordID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordID)
	return nil
}

func (s *MemoryRecordStore) ResetInFlight(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset := 0
	for id, record := range s.records {
		if record.Status == StatusSyncing {
			record.Status = StatusQueued
			s.records[id] = record
			reset++
		}
	}
	return reset, nil
}

func (s *MemoryRecordStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[int64]SubmissionRecord{}
	return nil
}

func (s *MemoryRecordStore) Close() error { return nil }

// snapshotLocked and restoreLocked let the file store reuse the memory
// implementation for everything but durability.
func (s *MemoryRecordStore) snapshotLocked() storeSnapshot {
	rows := make([]SubmissionRecord, 0, len(s.records))
	for _, record := range s.records {
		rows = append(rows, record.Clone())
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RecordID < rows[j].RecordID })
	return storeSnapshot{NextID: s.nextID, Records: rows}
}

func (s *MemoryRecordStore) restoreLocked(snapshot storeSnapshot) {
	s.nextID = snapshot.NextID
	s.records = make(map[int64]SubmissionRecord, len(snapshot.Records))
	for _, record := range snapshot.Records {
		if record.RecordID > s.nextID {
			s.nextID = record.RecordID
		}
		s.records[record.RecordID] = record.Clone()
	}
}

type storeSnapshot struct {
	NextID  int64              `json:"nextId"`
	Records []SubmissionRecord `json:"records"`
}

func (snapshot storeSnapshot) marshal() ([]byte, error) {
	return json.Marshal(snapshot)
}

func sortForStatus(rows []SubmissionRecord, status Status) {
	switch status {
	case StatusFailed, StatusSynced:
		sort.Slice(rows, func(i, j int) bool {
			a, b := rows[i], rows[j]
			at := timeOrZero(a.LastSyncAttempt)
			bt := timeOrZero(b.LastSyncAttempt)
			if !at.Equal(bt) {
				return at.After(bt)
			}
			return a.RecordID > b.RecordID
		})
	default:
		sort.Slice(rows, func(i, j int) bool { return rows[i].newerThan(rows[j]) })
	}
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
