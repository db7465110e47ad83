package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// FileRecordStore persists the full record set as a JSON snapshot,
// rewritten atomically after every mutation. Suited to a single-device
// agent installation; heavier deployments use the Postgres store.
type FileRecordStore struct {
	path string
	mem  *MemoryRecordStore
}

func NewFileRecordStore(path string) (*FileRecordStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &FileRecordStore{path: path, mem: NewMemoryRecordStore()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileRecordStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &StorageError{Op: "load", Cause: err}
	}
	var snapshot storeSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return &StorageError{Op: "load", Cause: err}
	}
	s.mem.mu.Lock()
	s.mem.restoreLocked(snapshot)
	s.mem.mu.Unlock()
	return nil
}

func (s *FileRecordStore) saveLocked() error {
	data, err := s.mem.snapshotLocked().marshal()
	if err != nil {
		return &StorageError{Op: "save", Cause: err}
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &StorageError{Op: "save", Cause: err}
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &StorageError{Op: "save", Cause: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &StorageError{Op: "save", Cause: err}
	}
	return nil
}

func (s *FileRecordStore) UpsertByApplicationID(ctx context.Context, record SubmissionRecord) (int64, error) {
	if record.ApplicationID == "" || record.AgentID == "" {
		return 0, ErrInvalidInput
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	before := s.mem.snapshotLocked()
	id := s.mem.upsertLocked(record)
	if err := s.saveLocked(); err != nil {
		s.mem.restoreLocked(before)
		return 0, err
	}
	return id, nil
}

func (s *FileRecordStore) FindByApplicationID(ctx context.Context, applicationID string) (SubmissionRecord, error) {
	return s.mem.FindByApplicationID(ctx, applicationID)
}

func (s *FileRecordStore) ListByApplicationID(ctx context.Context, applicationID string) ([]SubmissionRecord, error) {
	return s.mem.ListByApplicationID(ctx, applicationID)
}

func (s *FileRecordStore) ListByAgentAndStatus(ctx context.Context, agentID string, status Status) ([]SubmissionRecord, error) {
	return s.mem.ListByAgentAndStatus(ctx, agentID, status)
}

func (s *FileRecordStore) ListByAgent(ctx context.Context, agentID string) ([]SubmissionRecord, error) {
	return s.mem.ListByAgent(ctx, agentID)
}

func (s *FileRecordStore) DeleteByApplicationID(ctx context.Context, applicationID string) error {
	if applicationID == "" {
		return ErrInvalidInput
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	before := s.mem.snapshotLocked()
	for id, record := range s.mem.records {
		if record.ApplicationID == applicationID {
			delete(s.mem.records, id)
		}
	}
	if err := s.saveLocked(); err != nil {
		s.mem.restoreLocked(before)
		return err
	}
	return nil
}

func (s *FileRecordStore) DeleteByRecordID(ctx context.Context, recordID int64) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if _, ok := s.mem.records[recordID]; !ok {
		return nil
	}
	before := s.mem.snapshotLocked()
	delete(s.mem.records, recordID)
	if err := s.saveLocked(); err != nil {
		s.mem.restoreLocked(before)
		return err
	}
	return nil
}

func (s *FileRecordStore) ResetInFlight(ctx context.Context) (int, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	before := s.mem.snapshotLocked()
	reset := 0
	for id, record := range s.mem.records {
		if record.Status == StatusSyncing {
			record.Status = StatusQueued
			s.mem.records[id] = record
			reset++
		}
	}
	if reset == 0 {
		return 0, nil
	}
	if err := s.saveLocked(); err != nil {
		s.mem.restoreLocked(before)
		return 0, err
	}
	return reset, nil
}

func (s *FileRecordStore) ClearAll(ctx context.Context) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	before := s.mem.snapshotLocked()
	s.mem.records = map[int64]SubmissionRecord{}
	if err := s.saveLocked(); err != nil {
		s.mem.restoreLocked(before)
		return err
	}
	return nil
}

func (s *FileRecordStore) Close() error { return nil }
