package fieldsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNetworkObserverPublishesTransitions(t *testing.T) {
	observer := NewNetworkObserver(NetworkObserverOptions{Logger: quietLogger{}})
	defer observer.Close()

	if observer.IsOnline() {
		t.Fatalf("expected offline by default")
	}
	events := observer.Subscribe()

	observer.SetOnline(true)
	select {
	case online := <-events:
		if !online {
			t.Fatalf("expected online event")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for online event")
	}
	if !observer.IsOnline() {
		t.Fatalf("expected online after SetOnline(true)")
	}

	// No event on a non-transition.
	observer.SetOnline(true)
	select {
	case online := <-events:
		t.Fatalf("unexpected duplicate event: %v", online)
	default:
	}

	observer.SetOnline(false)
	select {
	case online := <-events:
		if online {
			t.Fatalf("expected offline event")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for offline event")
	}
}

func TestNetworkObserverCloseEndsSubscriptions(t *testing.T) {
	observer := NewNetworkObserver(NetworkObserverOptions{Logger: quietLogger{}})
	events := observer.Subscribe()

	if err := observer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, open := <-events; open {
		t.Fatalf("expected subscription channel closed")
	}
	// Close is idempotent.
	if err := observer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNetworkObserverReadsStateFileOnStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network")
	if err := os.WriteFile(path, []byte("offline\n"), 0o644); err != nil {
		t.Fatalf("seed state file: %v", err)
	}

	observer := NewNetworkObserver(NetworkObserverOptions{
		StateFile:     path,
		InitialOnline: true,
		Logger:        quietLogger{},
	})
	if err := observer.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer observer.Close()

	if observer.IsOnline() {
		t.Fatalf("expected state file to force offline at start")
	}
}

func TestNetworkObserverFollowsStateFileEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network")
	if err := os.WriteFile(path, []byte("offline\n"), 0o644); err != nil {
		t.Fatalf("seed state file: %v", err)
	}

	observer := NewNetworkObserver(NetworkObserverOptions{
		StateFile: path,
		Logger:    quietLogger{},
	})
	if err := observer.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer observer.Close()

	events := observer.Subscribe()
	if err := os.WriteFile(path, []byte("online\n"), 0o644); err != nil {
		t.Fatalf("edit state file: %v", err)
	}

	select {
	case online := <-events:
		if !online {
			t.Fatalf("expected online event from state file edit")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state file event")
	}
}

func TestNetworkObserverSurvivesStateFileReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network")
	if err := os.WriteFile(path, []byte("offline\n"), 0o644); err != nil {
		t.Fatalf("seed state file: %v", err)
	}

	observer := NewNetworkObserver(NetworkObserverOptions{
		StateFile: path,
		Logger:    quietLogger{},
	})
	if err := observer.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer observer.Close()

	events := observer.Subscribe()

	// Editors and config managers replace the file via rename rather
	// than writing in place.
	replacement := filepath.Join(dir, "network.tmp")
	if err := os.WriteFile(replacement, []byte("online\n"), 0o644); err != nil {
		t.Fatalf("write replacement: %v", err)
	}
	if err := os.Rename(replacement, path); err != nil {
		t.Fatalf("rename replacement: %v", err)
	}

	select {
	case online := <-events:
		if !online {
			t.Fatalf("expected online event after rename replacement")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for rename replacement event")
	}
}
