package hotlink

import (
	"bufio"
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	want := encodeFrame("alice@example.com/app_data/foo/req.request", "abc123", 42, []byte("hello hotlink"))

	got, err := decodeFrame(bufio.NewReader(bytes.NewReader(want)))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if got.path != "alice@example.com/app_data/foo/req.request" {
		t.Errorf("path = %q", got.path)
	}
	if got.etag != "abc123" {
		t.Errorf("etag = %q", got.etag)
	}
	if got.seq != 42 {
		t.Errorf("seq = %d", got.seq)
	}
	if string(got.payload) != "hello hotlink" {
		t.Errorf("payload = %q", got.payload)
	}
}

func TestDecodeFrameResyncsPastGarbage(t *testing.T) {
	good := encodeFrame("p", "e", 1, []byte("x"))
	noisy := append([]byte("garbage-before-magic"), good...)

	got, err := decodeFrame(bufio.NewReader(bytes.NewReader(noisy)))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if got.path != "p" || got.seq != 1 || string(got.payload) != "x" {
		t.Errorf("unexpected frame: %+v", got)
	}
}

func TestDecodeFrameTwoInSequence(t *testing.T) {
	buf := append(encodeFrame("a", "e1", 1, []byte("one")), encodeFrame("b", "e2", 2, []byte("two"))...)
	r := bufio.NewReader(bytes.NewReader(buf))

	first, err := decodeFrame(r)
	if err != nil {
		t.Fatalf("first decodeFrame: %v", err)
	}
	if first.path != "a" || string(first.payload) != "one" {
		t.Errorf("first = %+v", first)
	}

	second, err := decodeFrame(r)
	if err != nil {
		t.Fatalf("second decodeFrame: %v", err)
	}
	if second.path != "b" || string(second.payload) != "two" {
		t.Errorf("second = %+v", second)
	}
}

func TestTooLongRejectsOversizedField(t *testing.T) {
	huge := make([]byte, 1<<17)
	if err := tooLong(string(huge)); err == nil {
		t.Fatal("expected error for oversized field")
	}
	if err := tooLong("short"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
