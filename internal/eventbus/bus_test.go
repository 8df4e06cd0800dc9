package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/opensync/syftboxd/internal/wire"
)

func TestPendingMapResolvesAck(t *testing.T) {
	p := newPendingMap()
	ch := p.register("abc")
	defer p.forget("abc")

	p.resolveAck("abc")

	select {
	case err := <-ch:
		if err != nil {
			t.Fatalf("expected nil error on ack, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack resolution")
	}
}

func TestPendingMapResolvesNack(t *testing.T) {
	p := newPendingMap()
	ch := p.register("abc")
	defer p.forget("abc")

	p.resolveNack("abc", ErrNacked)

	select {
	case err := <-ch:
		if err == nil {
			t.Fatal("expected non-nil error on nack")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for nack resolution")
	}
}

func TestPendingMapDisconnectResolvesAllWaiters(t *testing.T) {
	p := newPendingMap()
	a := p.register("a")
	b := p.register("b")

	p.resolveAllDisconnected()

	for _, ch := range []chan error{a, b} {
		select {
		case err := <-ch:
			if err != ErrDisconnected {
				t.Fatalf("expected ErrDisconnected, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for disconnect resolution")
		}
	}
}

func TestBusDispatchRoutesAckWithoutHandler(t *testing.T) {
	bus := New("http://example.com", nil)
	ch := bus.pending.register("msg-1")
	defer bus.pending.forget("msg-1")

	ackMsg := &wire.Message{ID: "ack-1", Type: wire.TypeAck, Data: wire.Ack{OriginalID: "msg-1"}}
	bus.dispatch(context.Background(), ackMsg)

	select {
	case err := <-ch:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ack dispatch did not resolve pending waiter")
	}
}

func TestBusDispatchInvokesRegisteredHandler(t *testing.T) {
	bus := New("http://example.com", nil)

	got := make(chan *wire.Message, 1)
	bus.Handle(wire.TypeFileWrite, func(ctx context.Context, msg *wire.Message) {
		got <- msg
	})

	fw := wire.NewFileWrite("a@x.com/f.txt", "etag", 3, []byte("abc"))
	bus.dispatch(context.Background(), fw)

	select {
	case msg := <-got:
		if msg.ID != fw.ID {
			t.Fatalf("expected dispatched message id %s, got %s", fw.ID, msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestBusSendWithoutConnectionFails(t *testing.T) {
	bus := New("http://example.com", nil)
	err := bus.Send(wire.NewAck("x"))
	if err != ErrDisconnected {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	b := initialBackoff
	for i := 0; i < 20; i++ {
		b = nextBackoff(b)
	}
	if b != maxBackoff {
		t.Fatalf("expected backoff to cap at %v, got %v", maxBackoff, b)
	}
}

func TestToWebsocketURLRewritesScheme(t *testing.T) {
	got, err := toWebsocketURL("https://sync.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got != "wss://sync.example.com/v1/events" {
		t.Fatalf("unexpected ws url: %s", got)
	}

	got, err = toWebsocketURL("http://localhost:8080")
	if err != nil {
		t.Fatal(err)
	}
	if got != "ws://localhost:8080/v1/events" {
		t.Fatalf("unexpected ws url: %s", got)
	}
}
