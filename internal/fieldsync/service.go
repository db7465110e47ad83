package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ServiceOptions wires the application facade. Store is required;
// Validator defaults to the embedded schema validator; Orchestrator is
// optional for read-only deployments.
type ServiceOptions struct {
	Store        RecordStore
	Validator    Validator
	Orchestrator *Orchestrator
	Logger       Logger
	Now          func() time.Time
}

// Service is the facade the UI talks to: drafts, queueing, lists, stats,
// retry and delete. Every mutation re-runs the dedup pass for the
// touched application so lookups by application ID stay unique.
type Service struct {
	store        RecordStore
	validator    Validator
	orchestrator *Orchestrator
	logger       Logger
	now          func() time.Time
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, ErrInvalidInput
	}
	if opts.Validator == nil {
		v, err := NewSchemaValidator()
		if err != nil {
			return nil, err
		}
		opts.Validator = v
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	svc := &Service{
		store:        opts.Store,
		validator:    opts.Validator,
		orchestrator: opts.Orchestrator,
		logger:       opts.Logger,
		now:          opts.Now,
	}

	// A record stuck in syncing means the previous run died mid-pass.
	reset, err := svc.store.ResetInFlight(context.Background())
	if err != nil {
		return nil, err
	}
	if reset > 0 {
		svc.logger.Printf("recovered %d in-flight record(s) back to queued", reset)
	}
	return svc, nil
}

// SaveDraft stores or refreshes a draft. An existing record keeps its
// status and creation time; only the payload and lastModified change, so
// editing a failed application does not silently re-queue it.
func (s *Service) SaveDraft(ctx context.Context, agentID string, payload json.RawMessage) (SubmissionRecord, error) {
	applicationID, err := applicationIDFromPayload(payload)
	if err != nil {
		return SubmissionRecord{}, err
	}
	if strings.TrimSpace(agentID) == "" {
		return SubmissionRecord{}, ErrInvalidInput
	}
	if err := s.DedupeApplication(ctx, applicationID); err != nil {
		return SubmissionRecord{}, err
	}

	now := s.now().UTC()
	record, err := s.store.FindByApplicationID(ctx, applicationID)
	switch {
	case err == nil:
		record.Payload = payload
		record.LastModified = now
	case errors.Is(err, ErrNotFound):
		record = SubmissionRecord{
			ApplicationID: applicationID,
			AgentID:       agentID,
			Status:        StatusDraft,
			Payload:       payload,
			CreatedAt:     now,
			LastModified:  now,
		}
	default:
		return SubmissionRecord{}, err
	}

	id, err := s.store.UpsertByApplicationID(ctx, record)
	if err != nil {
		return SubmissionRecord{}, err
	}
	record.RecordID = id
	return record, nil
}

// QueueForSubmission validates the payload and moves the application to
// queued. Validation failure returns a *ValidationError with the ordered
// detail list and leaves the store untouched.
func (s *Service) QueueForSubmission(ctx context.Context, agentID string, payload json.RawMessage) (SubmissionRecord, error) {
	applicationID, err := applicationIDFromPayload(payload)
	if err != nil {
		return SubmissionRecord{}, err
	}
	if strings.TrimSpace(agentID) == "" {
		return SubmissionRecord{}, ErrInvalidInput
	}
	if ok, details := s.validator.Validate(payload); !ok {
		return SubmissionRecord{}, &ValidationError{Details: details}
	}
	if err := s.DedupeApplication(ctx, applicationID); err != nil {
		return SubmissionRecord{}, err
	}

	now := s.now().UTC()
	record := SubmissionRecord{
		ApplicationID: applicationID,
		AgentID:       agentID,
		Status:        StatusQueued,
		Payload:       payload,
		CreatedAt:     now,
		LastModified:  now,
	}
	if existing, err := s.store.FindByApplicationID(ctx, applicationID); err == nil {
		if existing.Status == StatusSyncing {
			return SubmissionRecord{}, &TransitionError{From: existing.Status, To: StatusQueued}
		}
		record.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return SubmissionRecord{}, err
	}

	id, err := s.store.UpsertByApplicationID(ctx, record)
	if err != nil {
		return SubmissionRecord{}, err
	}
	record.RecordID = id
	return record, nil
}

func (s *Service) ListDrafts(ctx context.Context, agentID string) ([]SubmissionRecord, error) {
	return s.store.ListByAgentAndStatus(ctx, agentID, StatusDraft)
}

func (s *Service) ListQueued(ctx context.Context, agentID string) ([]SubmissionRecord, error) {
	return s.store.ListByAgentAndStatus(ctx, agentID, StatusQueued)
}

func (s *Service) ListFailed(ctx context.Context, agentID string) ([]SubmissionRecord, error) {
	return s.store.ListByAgentAndStatus(ctx, agentID, StatusFailed)
}

func (s *Service) ListSynced(ctx context.Context, agentID string) ([]SubmissionRecord, error) {
	return s.store.ListByAgentAndStatus(ctx, agentID, StatusSynced)
}

func (s *Service) ListAll(ctx context.Context, agentID string) ([]SubmissionRecord, error) {
	return s.store.ListByAgent(ctx, agentID)
}

func (s *Service) GetApplication(ctx context.Context, applicationID string) (SubmissionRecord, error) {
	return s.store.FindByApplicationID(ctx, applicationID)
}

func (s *Service) GetStats(ctx context.Context, agentID string) (Stats, error) {
	records, err := s.store.ListByAgent(ctx, agentID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(records)}
	for _, record := range records {
		switch record.Status {
		case StatusDraft:
			stats.Drafts++
		case StatusQueued:
			stats.Queued++
		case StatusFailed:
			stats.Failed++
		case StatusSynced:
			stats.Synced++
		}
	}
	return stats, nil
}

// RetryApplication re-queues one record and attempts delivery right
// away. Requires an orchestrator.
func (s *Service) RetryApplication(ctx context.Context, applicationID string) (bool, error) {
	if s.orchestrator == nil {
		return false, ErrInvalidInput
	}
	return s.orchestrator.RetryApplication(ctx, applicationID)
}

// ProcessQueue triggers a manual sync pass.
func (s *Service) ProcessQueue(ctx context.Context) (SyncResult, error) {
	if s.orchestrator == nil {
		return SyncResult{}, ErrInvalidInput
	}
	return s.orchestrator.ProcessQueue(ctx)
}

// DeleteApplication removes a record the user may still discard. Records
// in syncing or synced are refused.
func (s *Service) DeleteApplication(ctx context.Context, applicationID string) error {
	record, err := s.store.FindByApplicationID(ctx, applicationID)
	if err != nil {
		return err
	}
	if !record.Status.Deletable() {
		return &TransitionError{From: record.Status, To: "deleted"}
	}
	return s.store.DeleteByApplicationID(ctx, applicationID)
}

// ClearAll wipes every record. Exposed for test resets and explicit
// device deprovisioning.
func (s *Service) ClearAll(ctx context.Context) error {
	return s.store.ClearAll(ctx)
}

// DedupeApplication collapses duplicate rows for one application down to
// the newest record. Running it twice in a row is a no-op the second
// time.
func (s *Service) DedupeApplication(ctx context.Context, applicationID string) error {
	rows, err := s.store.ListByApplicationID(ctx, applicationID)
	if err != nil {
		return err
	}
	if len(rows) <= 1 {
		return nil
	}
	keep := rows[0]
	for _, row := range rows[1:] {
		if row.newerThan(keep) {
			keep = row
		}
	}
	removed := 0
	for _, row := range rows {
		if row.RecordID == keep.RecordID {
			continue
		}
		if err := s.store.DeleteByRecordID(ctx, row.RecordID); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Printf("deduped %s: removed %d stale record(s)", applicationID, removed)
	}
	return nil
}

// Subscribe exposes the orchestrator's sync-completed notifications for
// UI refresh. Callers must invoke the returned unsubscribe func when
// done listening.
func (s *Service) Subscribe() (<-chan SyncResult, func()) {
	if s.orchestrator == nil {
		ch := make(chan SyncResult)
		close(ch)
		return ch, func() {}
	}
	return s.orchestrator.Subscribe()
}

func applicationIDFromPayload(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", ErrInvalidInput
	}
	var envelope struct {
		ApplicationID string `json:"applicationId"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", ErrInvalidInput
	}
	id := strings.TrimSpace(envelope.ApplicationID)
	if id == "" {
		return "", ErrInvalidInput
	}
	return id, nil
}
