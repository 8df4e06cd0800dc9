package hotlink

import "testing"

func TestDedupeSeenMarksRepeat(t *testing.T) {
	d := newDedupe(4)

	if d.Seen("a/b.request", "etag1") {
		t.Fatal("first observation should not be seen")
	}
	if !d.Seen("a/b.request", "etag1") {
		t.Fatal("repeat of same path/etag should be seen")
	}
}

func TestDedupeDistinguishesEtag(t *testing.T) {
	d := newDedupe(4)

	d.Seen("a/b.request", "etag1")
	if d.Seen("a/b.request", "etag2") {
		t.Fatal("different etag on same path must not dedupe")
	}
}

func TestDedupeEmptyEtagNeverDedupes(t *testing.T) {
	d := newDedupe(4)

	if d.Seen("a/b.request", "") {
		t.Fatal("empty etag must never report seen")
	}
	if d.Seen("a/b.request", "") {
		t.Fatal("empty etag must never report seen, even repeated")
	}
}

func TestDedupeEvictsOldestOverCapacity(t *testing.T) {
	d := newDedupe(2)

	d.Seen("k1", "e")
	d.Seen("k2", "e")
	d.Seen("k3", "e") // evicts k1

	if d.Seen("k1", "e") {
		t.Fatal("k1 should have been evicted and treated as unseen again")
	}
}
