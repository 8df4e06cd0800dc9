package syncengine

import (
	"os"
	"testing"
	"time"

	"github.com/opensync/syftboxd/internal/aclstaging"
	"github.com/opensync/syftboxd/internal/filters"
	"github.com/opensync/syftboxd/internal/wire"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	return &Engine{
		dataDir:  dir,
		ignore:   filters.NewIgnore(dir),
		priority: filters.NewPriority(),
		acl:      aclstaging.New(nil),
		inflight: newInflight(),
	}
}

func TestReconcileUnchangedWhenAllMatch(t *testing.T) {
	e := newTestEngine(t)
	local := map[string]*FileMetadata{"a@x.com/f.txt": {Key: "a@x.com/f.txt", ETag: "e1", Size: 10}}
	remote := map[string]*FileMetadata{"a@x.com/f.txt": {Key: "a@x.com/f.txt", ETag: "e1", Size: 10}}
	journal := map[string]*FileMetadata{"a@x.com/f.txt": {Key: "a@x.com/f.txt", ETag: "e1", Size: 10}}

	result := e.reconcile(local, remote, journal)
	if len(result.UnchangedPaths) != 1 {
		t.Fatalf("expected 1 unchanged path, got %+v", result)
	}
	if result.HasChanges() {
		t.Fatalf("expected no changes reported")
	}
}

func TestReconcileLocalModifiedUploads(t *testing.T) {
	e := newTestEngine(t)
	key := "a@x.com/f.txt"
	local := map[string]*FileMetadata{key: {Key: key, ETag: "e2", Size: 11}}
	remote := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}
	journal := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}

	result := e.reconcile(local, remote, journal)
	if _, ok := result.Uploads[key]; !ok {
		t.Fatalf("expected %s to be an upload, got %+v", key, result)
	}
}

func TestReconcileRemoteModifiedDownloads(t *testing.T) {
	e := newTestEngine(t)
	key := "a@x.com/f.txt"
	local := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}
	remote := map[string]*FileMetadata{key: {Key: key, ETag: "e2", Size: 11}}
	journal := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}

	result := e.reconcile(local, remote, journal)
	if _, ok := result.Downloads[key]; !ok {
		t.Fatalf("expected %s to be a download, got %+v", key, result)
	}
}

func TestReconcileBothModifiedDifferentlyIsConflict(t *testing.T) {
	e := newTestEngine(t)
	key := "a@x.com/notes.md"
	local := map[string]*FileMetadata{key: {Key: key, ETag: "local-etag", Size: 11}}
	remote := map[string]*FileMetadata{key: {Key: key, ETag: "remote-etag", Size: 12}}
	journal := map[string]*FileMetadata{key: {Key: key, ETag: "original-etag", Size: 10}}

	result := e.reconcile(local, remote, journal)
	if _, ok := result.Conflicts[key]; !ok {
		t.Fatalf("expected %s to be a conflict, got %+v", key, result)
	}
}

func TestReconcileLocalDeletedWithRemotePresentRedownloads(t *testing.T) {
	e := newTestEngine(t)
	key := "a@x.com/f.txt"
	remote := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}
	journal := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}

	result := e.reconcile(nil, remote, journal)
	if _, ok := result.Downloads[key]; !ok {
		t.Fatalf("expected local deletion to be treated as a download (remote authoritative), got %+v", result)
	}
}

func TestReconcileRemoteDeletedWithLocalPresentDeletesLocally(t *testing.T) {
	e := newTestEngine(t)
	key := "a@x.com/f.txt"
	local := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}
	journal := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}

	result := e.reconcile(local, nil, journal)
	if _, ok := result.LocalDeletes[key]; !ok {
		t.Fatalf("expected %s to be a local delete, got %+v", key, result)
	}
}

func TestReconcileSkipsPendingACLPaths(t *testing.T) {
	e := newTestEngine(t)
	key := "a@x.com/shared/f.txt"
	e.acl.SetManifest(wire.ACLManifest{
		Datasite: "a@x.com",
		ACLOrder: []wire.ACLManifestEntry{{Path: "a@x.com/shared/f.txt", Hash: "h"}},
	})

	local := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}
	journal := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}

	result := e.reconcile(local, nil, journal)
	if _, ok := result.Ignored[key]; ok == false {
		t.Fatalf("expected pending ACL path to be ignored this tick, got %+v", result)
	}
}

func TestReconcileNewEmptyLocalFileUploads(t *testing.T) {
	e := newTestEngine(t)
	key := "a@x.com/placeholder.txt"
	local := map[string]*FileMetadata{key: {Key: key, ETag: "e3b0c4", Size: 0}}

	result := e.reconcile(local, nil, nil)
	if _, ok := result.Uploads[key]; !ok {
		t.Fatalf("expected empty local file to upload like any other new file, got %+v", result)
	}
}

func TestReconcileDroppedFromBothSidesCleansJournal(t *testing.T) {
	e := newTestEngine(t)
	key := "a@x.com/gone.txt"
	journal := map[string]*FileMetadata{key: {Key: key, ETag: "e1", Size: 10}}

	result := e.reconcile(nil, nil, journal)
	if _, ok := result.Cleanups[key]; !ok {
		t.Fatalf("expected %s to be a journal cleanup, got %+v", key, result)
	}
}

func TestConflictRenameIfDiffersOnlyRenamesWhenContentDiffers(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/f.txt"
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	etag, err := fileETag(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := conflictRenameIfDiffers(path, etag); err != nil {
		t.Fatal(err)
	}
	if !fileExists(path) {
		t.Fatalf("matching content should not be renamed away")
	}

	if err := conflictRenameIfDiffers(path, "different-etag"); err != nil {
		t.Fatal(err)
	}
	if fileExists(path) {
		t.Fatalf("differing content should have been renamed to .conflict")
	}
	if !fileExists(path + ".conflict") {
		t.Fatalf("expected .conflict sibling to exist")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestFullSyncIntervalIsFiveSeconds(t *testing.T) {
	if fullSyncInterval != 5*time.Second {
		t.Fatalf("expected 5s interval, got %v", fullSyncInterval)
	}
}
