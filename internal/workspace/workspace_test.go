package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetupCreatesTreeAndLocksWorkspace(t *testing.T) {
	dir := t.TempDir()
	ws, err := New(dir, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Setup(); err != nil {
		t.Fatal(err)
	}
	defer ws.Unlock()

	for _, want := range []string{ws.DatasitesDir, ws.UserPublicDir, ws.LogsDir, ws.MetadataDir} {
		if info, err := os.Stat(want); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to exist as a directory", want)
		}
	}

	if _, err := os.Stat(filepath.Join(ws.MetadataDir, lockFileName)); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}
}

func TestSetupTwiceFromDifferentWorkspacesFails(t *testing.T) {
	dir := t.TempDir()
	first, _ := New(dir, "alice@example.com")
	if err := first.Setup(); err != nil {
		t.Fatal(err)
	}
	defer first.Unlock()

	second, _ := New(dir, "alice@example.com")
	if err := second.Setup(); err == nil {
		t.Fatalf("expected second Setup on the same root to fail while the first holds the lock")
	}
}

func TestAbsPathAndRelKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ws, _ := New(dir, "alice@example.com")

	key := "alice@example.com/notes/a.txt"
	abs := ws.AbsPath(key)
	if got := ws.RelKey(abs); got != key {
		t.Fatalf("round trip mismatch: got %q, want %q", got, key)
	}
}
