package fieldsync

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultStartupSyncDelay = 2 * time.Second

// OrchestratorOptions wires the sync orchestrator's collaborators. Store,
// API and Auth are required; Observer is optional (Run and AutoSync then
// assume the process is online).
type OrchestratorOptions struct {
	Store    RecordStore
	API      SubmissionAPI
	Auth     AuthProvider
	Observer *NetworkObserver
	Logger   Logger
	// StartupSyncDelay postpones the initial auto-sync after Run starts
	// so the surrounding application can finish initializing.
	StartupSyncDelay time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Orchestrator drives queued records to synced or failed, one pass at a
// time. A pass is strictly sequential over its records; per-record
// failures are recorded and never retried within the same pass.
type Orchestrator struct {
	store    RecordStore
	api      SubmissionAPI
	auth     AuthProvider
	observer *NetworkObserver
	logger   Logger
	delay    time.Duration
	now      func() time.Time

	// passMu is the sole concurrency guard for the subsystem; TryLock
	// failing means another pass owns every queued record right now.
	passMu sync.Mutex

	subMu sync.Mutex
	subs  []chan SyncResult
}

func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Store == nil || opts.API == nil || opts.Auth == nil {
		return nil, ErrInvalidInput
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger{}
	}
	if opts.StartupSyncDelay <= 0 {
		opts.StartupSyncDelay = defaultStartupSyncDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:    opts.Store,
		api:      opts.API,
		auth:     opts.Auth,
		observer: opts.Observer,
		logger:   opts.Logger,
		delay:    opts.StartupSyncDelay,
		now:      opts.Now,
	}, nil
}

// ProcessQueue runs one sync pass over the authenticated agent's queued
// records. It returns ErrSyncBusy when a pass is already active and
// ErrNotAuthenticated when no identity or token is available; in both
// cases no record is touched.
func (o *Orchestrator) ProcessQueue(ctx context.Context) (SyncResult, error) {
	if !o.passMu.TryLock() {
		return SyncResult{}, ErrSyncBusy
	}
	defer o.passMu.Unlock()
	return o.runPass(ctx)
}

func (o *Orchestrator) runPass(ctx context.Context) (SyncResult, error) {
	identity, err := o.auth.CurrentIdentity()
	if err != nil {
		return SyncResult{}, err
	}
	if _, err := o.auth.AccessToken(); err != nil {
		return SyncResult{}, err
	}

	queued, err := o.store.ListByAgentAndStatus(ctx, identity.ID, StatusQueued)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{Errors: []SyncRecordError{}}
	for _, record := range queued {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++
		if err := o.syncRecord(ctx, record); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, SyncRecordError{
				ApplicationID: record.ApplicationID,
				Error:         err.Error(),
			})
			o.logger.Printf("sync: %s failed: %v", record.ApplicationID, err)
			continue
		}
		result.Successful++
	}
	return result, nil
}

// syncRecord performs one delivery attempt: queued → syncing → synced or
// failed. The bearer token is fetched immediately before the submit and
// never cached across records.
func (o *Orchestrator) syncRecord(ctx context.Context, record SubmissionRecord) error {
	record.Status = StatusSyncing
	record.SyncError = ""
	if _, err := o.store.UpsertByApplicationID(ctx, record); err != nil {
		return err
	}

	var submitErr error
	token, err := o.auth.AccessToken()
	if err != nil {
		submitErr = err
	} else {
		submitErr = o.api.Submit(ctx, record.Payload, record.ApplicationID, token)
	}

	attempt := o.now().UTC()
	record.LastSyncAttempt = &attempt
	if submitErr != nil {
		record.Status = StatusFailed
		record.SyncError = submitErr.Error()
	} else {
		record.Status = StatusSynced
		record.SyncError = ""
	}
	if _, err := o.store.UpsertByApplicationID(ctx, record); err != nil {
		if submitErr != nil {
			return submitErr
		}
		return err
	}
	return submitErr
}

// RetryApplication forces one record back to queued and synchronously
// attempts its delivery. It reports whether the record ended up synced.
func (o *Orchestrator) RetryApplication(ctx context.Context, applicationID string) (bool, error) {
	if !o.passMu.TryLock() {
		return false, ErrSyncBusy
	}
	defer o.passMu.Unlock()

	record, err := o.store.FindByApplicationID(ctx, applicationID)
	if err != nil {
		return false, err
	}
	if record.Status == StatusSynced {
		return false, &TransitionError{From: record.Status, To: StatusQueued}
	}
	record.Status = StatusQueued
	if _, err := o.store.UpsertByApplicationID(ctx, record); err != nil {
		return false, err
	}
	if err := o.syncRecord(ctx, record); err != nil {
		return false, nil
	}
	return true, nil
}

// AutoSync runs a pass when the process is online and another pass is
// not already active, then notifies subscribers if anything was
// processed. Records in failed are left alone; only an explicit retry
// re-queues them.
func (o *Orchestrator) AutoSync(ctx context.Context) {
	if o.observer != nil && !o.observer.IsOnline() {
		return
	}
	result, err := o.ProcessQueue(ctx)
	if err != nil {
		if !errors.Is(err, ErrSyncBusy) {
			o.logger.Printf("auto sync skipped: %v", err)
		}
		return
	}
	if result.Processed > 0 {
		o.publish(result)
	}
}

// Run consumes the network observer's transitions, auto-syncing on every
// offline→online edge, plus once shortly after start when already
// online. It blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	var events <-chan bool
	if o.observer != nil {
		events = o.observer.Subscribe()
	}

	startup := time.NewTimer(o.delay)
	defer startup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-startup.C:
			if o.observer == nil || o.observer.IsOnline() {
				o.AutoSync(ctx)
			}
		case online, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if online {
				o.AutoSync(ctx)
			}
		}
	}
}

// Subscribe returns a channel carrying the result of every auto-sync
// pass that processed at least one record, plus an unsubscribe func that
// removes and closes the channel. Slow consumers drop results rather
// than stalling the orchestrator.
func (o *Orchestrator) Subscribe() (<-chan SyncResult, func()) {
	ch := make(chan SyncResult, 4)
	o.subMu.Lock()
	o.subs = append(o.subs, ch)
	o.subMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			o.subMu.Lock()
			for i, sub := range o.subs {
				if sub == ch {
					o.subs = append(o.subs[:i], o.subs[i+1:]...)
					break
				}
			}
			o.subMu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

func (o *Orchestrator) publish(result SyncResult) {
	o.subMu.Lock()
	subs := make([]chan SyncResult, len(o.subs))
	copy(subs, o.subs)
	o.subMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- result:
		default:
		}
	}
}
