package fieldsync

import (
	"errors"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusDraft, StatusQueued},
		{StatusQueued, StatusSyncing},
		{StatusSyncing, StatusSynced},
		{StatusSyncing, StatusFailed},
		{StatusFailed, StatusQueued},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to Status
	}{
		{StatusDraft, StatusSyncing},
		{StatusDraft, StatusSynced},
		{StatusQueued, StatusSynced},
		{StatusSynced, StatusQueued},
		{StatusSynced, StatusFailed},
		{StatusFailed, StatusSyncing},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestStatusDeletable(t *testing.T) {
	if !StatusDraft.Deletable() || !StatusQueued.Deletable() || !StatusFailed.Deletable() {
		t.Fatalf("draft, queued and failed should be deletable")
	}
	if StatusSyncing.Deletable() || StatusSynced.Deletable() {
		t.Fatalf("syncing and synced should not be deletable")
	}
}

func TestTransitionErrorMatchesSentinel(t *testing.T) {
	err := &TransitionError{From: StatusSynced, To: StatusQueued}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected TransitionError to match ErrInvalidTransition")
	}
}

func TestNewerThanPrefersLastModified(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := SubmissionRecord{RecordID: 1, LastModified: base}
	newer := SubmissionRecord{RecordID: 2, LastModified: base.Add(time.Minute)}
	if !newer.newerThan(older) {
		t.Fatalf("record with later lastModified should win")
	}
	if older.newerThan(newer) {
		t.Fatalf("older record should not win")
	}
}

func TestNewerThanFallsBackToCreatedAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := SubmissionRecord{RecordID: 1, CreatedAt: base}
	b := SubmissionRecord{RecordID: 2, CreatedAt: base.Add(time.Second)}
	if !b.newerThan(a) {
		t.Fatalf("record with later createdAt should win when lastModified is zero")
	}
}

func TestNewerThanTieBreaksOnRecordID(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := SubmissionRecord{RecordID: 3, LastModified: ts}
	b := SubmissionRecord{RecordID: 7, LastModified: ts}
	if !b.newerThan(a) {
		t.Fatalf("larger record id should win on identical timestamps")
	}
}

func TestCloneIsDeep(t *testing.T) {
	attempt := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	original := SubmissionRecord{
		RecordID:        1,
		ApplicationID:   "APP-1",
		Payload:         []byte(`{"applicationId":"APP-1"}`),
		LastSyncAttempt: &attempt,
	}
	clone := original.Clone()
	clone.Payload[2] = 'X'
	*clone.LastSyncAttempt = attempt.Add(time.Hour)

	if string(original.Payload) != `{"applicationId":"APP-1"}` {
		t.Fatalf("payload was aliased: %s", original.Payload)
	}
	if !original.LastSyncAttempt.Equal(attempt) {
		t.Fatalf("lastSyncAttempt was aliased")
	}
}
