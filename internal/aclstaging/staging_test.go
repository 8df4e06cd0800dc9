package aclstaging

import (
	"testing"
	"time"

	"github.com/opensync/syftboxd/internal/wire"
)

func manifest(datasite string, paths ...string) wire.ACLManifest {
	order := make([]wire.ACLManifestEntry, len(paths))
	for i, p := range paths {
		order[i] = wire.ACLManifestEntry{Path: p, Hash: "h"}
	}
	return wire.ACLManifest{Datasite: datasite, ACLOrder: order}
}

func TestStagingCompleteFiresCallbackExactlyOnceInOrder(t *testing.T) {
	var calls int
	var gotDatasite string
	var gotOrder []string

	m := New(func(datasite string, files []StagedACL) {
		calls++
		gotDatasite = datasite
		for _, f := range files {
			gotOrder = append(gotOrder, f.Path)
		}
	})

	m.SetManifest(manifest("alice@x.com", "alice@x.com", "alice@x.com/public"))
	if !m.HasPendingManifest("alice@x.com") {
		t.Fatalf("expected manifest to be pending")
	}

	if !m.StageACL("alice@x.com", "alice@x.com/public", []byte("b"), "etag2") {
		t.Fatalf("expected public entry to stage")
	}
	if calls != 0 {
		t.Fatalf("callback should not fire before every path arrives")
	}

	if !m.StageACL("alice@x.com", "alice@x.com", []byte("a"), "etag1") {
		t.Fatalf("expected root entry to stage")
	}
	if calls != 1 {
		t.Fatalf("expected callback exactly once, got %d", calls)
	}
	if gotDatasite != "alice@x.com" {
		t.Fatalf("expected datasite alice@x.com, got %s", gotDatasite)
	}
	if len(gotOrder) != 2 || gotOrder[0] != "alice@x.com" || gotOrder[1] != "alice@x.com/public" {
		t.Fatalf("expected files in acl_order, got %v", gotOrder)
	}
	if m.HasPendingManifest("alice@x.com") {
		t.Fatalf("expected manifest to no longer be pending once applied")
	}

	// A further arrival against the now-applied set is a no-op.
	if m.StageACL("alice@x.com", "alice@x.com", []byte("a2"), "etag3") {
		t.Fatalf("expected staging against an applied manifest to be rejected")
	}
	if calls != 1 {
		t.Fatalf("callback must not refire once applied, got %d calls", calls)
	}
}

func TestStageACLRejectsUnexpectedPath(t *testing.T) {
	m := New(nil)
	m.SetManifest(manifest("test@example.com", "test@example.com"))

	if m.StageACL("test@example.com", "test@example.com/unexpected", nil, "etag") {
		t.Fatalf("expected unexpected path to be rejected")
	}
}

func TestGraceWindowProtectsACLFilesAfterApply(t *testing.T) {
	m := New(nil)
	fake := time.Now()
	m.now = func() time.Time { return fake }

	if m.IsPendingACLPath("bob@example.com/public/syft.pub.yaml") {
		t.Fatalf("expected no protection before any manifest")
	}

	m.SetManifest(manifest("bob@example.com", "bob@example.com", "bob@example.com/public"))
	if !m.IsPendingACLPath("bob@example.com/public/syft.pub.yaml") {
		t.Fatalf("expected pending manifest to protect its declared paths")
	}

	m.StageACL("bob@example.com", "bob@example.com", nil, "etag1")
	if !m.IsPendingACLPath("bob@example.com/public/syft.pub.yaml") {
		t.Fatalf("expected still-incomplete manifest to keep protecting")
	}

	m.StageACL("bob@example.com", "bob@example.com/public", nil, "etag2")
	if m.HasPendingManifest("bob@example.com") {
		t.Fatalf("expected manifest to be applied")
	}
	if !m.IsPendingACLPath("bob@example.com/public/syft.pub.yaml") {
		t.Fatalf("expected grace window to protect the ACL file right after apply")
	}

	fake = fake.Add(GracePeriod + time.Second)
	if m.IsPendingACLPath("bob@example.com/public/syft.pub.yaml") {
		t.Fatalf("expected grace window to expire")
	}
}

func TestPendingManifestMatchesEntryAndItsACLFile(t *testing.T) {
	m := New(nil)
	m.SetManifest(manifest("alice@example.com", "alice@example.com", "alice@example.com/public"))

	if !m.IsPendingACLPath("alice@example.com/syft.pub.yaml") {
		t.Fatalf("expected root entry's ACL file to be protected")
	}
	if !m.IsPendingACLPath("alice@example.com/public/syft.pub.yaml") {
		t.Fatalf("expected public entry's ACL file to be protected")
	}
	if !m.IsPendingACLPath("alice@example.com") {
		t.Fatalf("expected the entry path itself to be protected")
	}
	if m.IsPendingACLPath("alice@example.com/private/syft.pub.yaml") {
		t.Fatalf("expected unrelated path not to be protected")
	}
	if m.IsPendingACLPath("bob@example.com/public/syft.pub.yaml") {
		t.Fatalf("expected a different datasite not to be protected")
	}
}

func TestNoteACLActivityRefreshesGraceWindowWithoutAManifest(t *testing.T) {
	m := New(nil)
	fake := time.Now()
	m.now = func() time.Time { return fake }

	if m.IsPendingACLPath("carol@example.com/syft.pub.yaml") {
		t.Fatalf("expected no protection before any activity")
	}

	m.NoteACLActivity("carol@example.com")
	if !m.IsPendingACLPath("carol@example.com/syft.pub.yaml") {
		t.Fatalf("expected activity alone to open a grace window")
	}

	fake = fake.Add(GracePeriod - time.Second)
	if !m.IsPendingACLPath("carol@example.com/syft.pub.yaml") {
		t.Fatalf("expected grace window to still hold")
	}

	fake = fake.Add(2 * time.Second)
	if m.IsPendingACLPath("carol@example.com/syft.pub.yaml") {
		t.Fatalf("expected grace window to have expired")
	}
}

func TestSetManifestReplacesIncompletePending(t *testing.T) {
	m := New(nil)
	m.SetManifest(manifest("dan@example.com", "dan@example.com/a"))
	m.StageACL("dan@example.com", "dan@example.com/a", nil, "e1")

	m.SetManifest(manifest("dan@example.com", "dan@example.com/b"))
	if m.StageACL("dan@example.com", "dan@example.com/a", nil, "e2") {
		t.Fatalf("expected the replaced manifest's old path to no longer be expected")
	}
	if !m.StageACL("dan@example.com", "dan@example.com/b", nil, "e3") {
		t.Fatalf("expected the new manifest's path to stage")
	}
}
