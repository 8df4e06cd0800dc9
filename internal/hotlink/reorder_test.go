package hotlink

import (
	"reflect"
	"testing"
)

func TestReorderBufferDeliversInOrder(t *testing.T) {
	rb := newReorderBuffer()

	if out := rb.ready(2, []byte("two")); out != nil {
		t.Fatalf("seq 2 arriving before seq 1 must not flush, got %v", out)
	}
	if out := rb.ready(3, []byte("three")); out != nil {
		t.Fatalf("seq 3 arriving before seq 1 must not flush, got %v", out)
	}

	out := rb.ready(1, []byte("one"))
	want := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("ready(1) = %v, want %v", out, want)
	}
}

func TestReorderBufferDropsStaleSeq(t *testing.T) {
	rb := newReorderBuffer()

	rb.ready(1, []byte("one"))
	if out := rb.ready(1, []byte("dup")); out != nil {
		t.Fatalf("replay of already-delivered seq must not re-flush, got %v", out)
	}
	if out := rb.ready(0, []byte("stale")); out != nil {
		t.Fatalf("seq below nextSeq must not flush, got %v", out)
	}
}

func TestReorderBufferAlreadyInOrderFlushesImmediately(t *testing.T) {
	rb := newReorderBuffer()

	out := rb.ready(1, []byte("one"))
	if !reflect.DeepEqual(out, [][]byte{[]byte("one")}) {
		t.Fatalf("ready(1) = %v", out)
	}
	out = rb.ready(2, []byte("two"))
	if !reflect.DeepEqual(out, [][]byte{[]byte("two")}) {
		t.Fatalf("ready(2) = %v", out)
	}
}

func TestManagerWriteTCPProxyOrdersAcrossOutOfOrderFrames(t *testing.T) {
	m := &Manager{
		reorder:  make(map[string]*reorderBuffer),
		tcpConns: make(map[string]func([]byte) error),
	}

	var got []string
	m.registerTCPProxyWriter("ch1", func(b []byte) error {
		got = append(got, string(b))
		return nil
	})

	m.writeTCPProxy(tcpProxyPrefix+"ch1", 2, []byte("b"))
	m.writeTCPProxy(tcpProxyPrefix+"ch1", 3, []byte("c"))
	if len(got) != 0 {
		t.Fatalf("out-of-order frames must not be written yet, got %v", got)
	}

	m.writeTCPProxy(tcpProxyPrefix+"ch1", 1, []byte("a"))
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
