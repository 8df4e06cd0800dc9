package lockfile

import (
	"path/filepath"
	"testing"
)

func TestTryLockThenSecondLockFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syftbox.lock")

	first := New(path)
	if err := first.TryLock(); err != nil {
		t.Fatalf("expected first lock to succeed, got %v", err)
	}

	second := New(path)
	if err := second.TryLock(); err != ErrLocked {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("expected unlock to succeed, got %v", err)
	}

	third := New(path)
	if err := third.TryLock(); err != nil {
		t.Fatalf("expected lock to succeed again after unlock, got %v", err)
	}
	_ = third.Unlock()
}
