package hotlink

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensync/syftboxd/internal/wire"
)

type fakeDisk struct{ root string }

func (d *fakeDisk) AbsPath(key string) string { return filepath.Join(d.root, filepath.FromSlash(key)) }

type fakeSender struct {
	mu   sync.Mutex
	sent []*wire.Message
}

func (f *fakeSender) Send(msg *wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) last() *wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func newTestManager(t *testing.T) (*Manager, *fakeSender) {
	t.Helper()
	t.Setenv(enabledEnv, "1")
	t.Setenv(quicEnv, "0")
	sender := &fakeSender{}
	m := New(&fakeDisk{root: t.TempDir()}, sender, t.TempDir())
	return m, sender
}

func TestIsEligibleOnlyMatchesRequestResponseSuffix(t *testing.T) {
	cases := map[string]bool{
		"a/b/foo.request":  true,
		"a/b/foo.response": true,
		"a/b/foo.txt":      false,
		"a/b/syft.pub.yaml": false,
	}
	for path, want := range cases {
		if got := isEligible(path); got != want {
			t.Errorf("isEligible(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestSendBestEffortSkipsIneligiblePaths(t *testing.T) {
	m, sender := newTestManager(t)
	m.SendBestEffort("a/b/foo.txt", "", []byte("data"))
	time.Sleep(20 * time.Millisecond)
	if sender.last() != nil {
		t.Fatal("ineligible path must never open a hotlink session")
	}
}

func TestOutboundAcceptUnblocksWaitAccepted(t *testing.T) {
	m, sender := newTestManager(t)

	out := m.openOutbound("a/b", "a/b/foo.request")
	if out == nil {
		t.Fatal("openOutbound returned nil")
	}
	opened := sender.last()
	if opened == nil || opened.Type != wire.TypeHotlinkOpen {
		t.Fatalf("expected an Open message, got %+v", opened)
	}

	done := make(chan bool, 1)
	go func() { done <- m.waitAccepted(out, time.Second) }()

	m.handleAccept(context.Background(), wire.NewHotlinkAccept(out.id))

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("waitAccepted returned false after Accept")
		}
	case <-time.After(time.Second):
		t.Fatal("waitAccepted never unblocked")
	}
}

func TestOutboundRejectUnblocksWaitAccepted(t *testing.T) {
	m, _ := newTestManager(t)

	out := m.openOutbound("a/b", "a/b/foo.request")
	done := make(chan bool, 1)
	go func() { done <- m.waitAccepted(out, time.Second) }()

	m.handleReject(context.Background(), wire.NewHotlinkReject(out.id, "busy"))

	select {
	case ok := <-done:
		if ok {
			t.Fatal("waitAccepted should return false after Reject")
		}
	case <-time.After(time.Second):
		t.Fatal("waitAccepted never unblocked")
	}
}

func TestSendFallsBackToEventBusWithoutQuic(t *testing.T) {
	m, sender := newTestManager(t)

	go func() {
		for i := 0; i < 20; i++ {
			time.Sleep(5 * time.Millisecond)
			m.outMu.RLock()
			out := m.outboundByPath["a/b"]
			m.outMu.RUnlock()
			if out != nil {
				m.handleAccept(context.Background(), wire.NewHotlinkAccept(out.id))
				return
			}
		}
	}()

	if err := m.send("a/b/foo.request", "etag1", []byte("payload")); err != nil {
		t.Fatalf("send: %v", err)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	var sawData bool
	for _, msg := range sender.sent {
		if msg.Type == wire.TypeHotlinkData {
			sawData = true
		}
	}
	if !sawData {
		t.Fatal("expected a HotlinkData message sent over the event-bus fallback")
	}
}
