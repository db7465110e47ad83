package fieldsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSyncBusy          = errors.New("sync pass already running")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrValidation        = errors.New("validation failed")
	ErrStorage           = errors.New("storage failure")
)

// Status is the lifecycle state of a submission record. synced is
// terminal; failed re-enters the queue only through queued.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusQueued  Status = "queued"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusQueued, StatusSyncing, StatusSynced, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the orchestrator or facade may move a
// record from s to next. Deletion is handled separately.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusQueued
	case StatusQueued:
		return next == StatusSyncing
	case StatusSyncing:
		return next == StatusSynced || next == StatusFailed
	case StatusFailed:
		return next == StatusQueued
	case StatusSynced:
		return false
	default:
		return false
	}
}

// Deletable reports whether a user-facing delete is allowed from s.
func (s Status) Deletable() bool {
	switch s {
	case StatusDraft, StatusQueued, StatusFailed:
		return true
	default:
		return false
	}
}

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StorageError wraps a backend failure so callers can match on
// ErrStorage regardless of the underlying driver.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ValidationError carries the ordered detail list from the validator.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	return "validation failed: " + e.Details[0]
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SubmissionRecord is the unit of durable state. RecordID is assigned by
// the store on insert and never reused; ApplicationID identifies the
// logical submission across edits and storage rows.
type SubmissionRecord struct {
	RecordID        int64           `json:"recordId"`
	ApplicationID   string          `json:"applicationId"`
	AgentID         string          `json:"agentId"`
	Status          Status          `json:"status"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastModified    time.Time       `json:"lastModified"`
	LastSyncAttempt *time.Time      `json:"lastSyncAttempt,omitempty"`
	SyncError       string          `json:"syncError,omitempty"`
}

// Clone returns a deep copy; Payload bytes are duplicated so callers can
// never alias store-owned memory.
func (r SubmissionRecord) Clone() SubmissionRecord {
	out := r
	if r.Payload != nil {
		out.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	if r.LastSyncAttempt != nil {
		t := *r.LastSyncAttempt
		out.LastSyncAttempt = &t
	}
	return out
}

// newerThan orders records for the dedup pass: lastModified descending,
// falling back to createdAt, tie-breaking on the larger RecordID so the
// most recently inserted row wins deterministically.
func (r SubmissionRecord) newerThan(other SubmissionRecord) bool {
	a := r.LastModified
	if a.IsZero() {
		a = r.CreatedAt
	}
	b := other.LastModified
	if b.IsZero() {
		b = other.CreatedAt
	}
	if !a.Equal(b) {
		return a.After(b)
	}
	return r.RecordID > other.RecordID
}

// SyncRecordError is one per-record failure inside a sync pass.
type SyncRecordError struct {
	ApplicationID string `json:"applicationId"`
	Error         string `json:"error"`
}

// SyncResult aggregates one ProcessQueue pass.
type SyncResult struct {
	Processed  int               `json:"processed"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     []SyncRecordError `json:"errors"`
}

// Stats summarizes an agent's records for the overview screen.
type Stats struct {
	Total  int `json:"total"`
	Drafts int `json:"drafts"`
	Queued int `json:"queued"`
	Failed int `json:"failed"`
	Synced int `json:"synced"`
}
