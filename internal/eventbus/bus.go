// Package eventbus maintains the daemon's persistent WebSocket connection
// to the remote event bus: a low-latency push path for priority files
// (requests, responses, ACL manifests) that runs alongside the slower
// poll-based sync engine.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/opensync/syftboxd/internal/wire"
)

const (
	maxBackoff     = 5 * time.Second
	initialBackoff = 250 * time.Millisecond
	acceptedEncodingsHeader = "X-Syft-Encodings"
	chosenEncodingHeader    = "X-Syft-Encoding"
)

// TokenSource supplies the bearer credential used to authenticate the
// socket, and is asked to drop a stale token after the server returns 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Dispatcher handles a decoded inbound message. Registered per wire.Type.
type Dispatcher func(ctx context.Context, msg *wire.Message)

// Bus owns the lifecycle of one logical connection to the event bus: it
// reconnects with backoff on drop, re-authenticates on 401, and fans
// inbound messages out to registered dispatchers.
type Bus struct {
	serverURL string
	tokens    TokenSource

	mu       sync.Mutex
	sock     *socket
	pending  *pendingMap
	handlers map[wire.Type]Dispatcher

	connected chan struct{} // closed and replaced each time a connection is (re)established
}

// New builds a Bus pointed at serverURL (http(s)://host[:port]).
func New(serverURL string, tokens TokenSource) *Bus {
	return &Bus{
		serverURL: serverURL,
		tokens:    tokens,
		pending:   newPendingMap(),
		handlers:  make(map[wire.Type]Dispatcher),
	}
}

// Handle registers fn to receive every inbound message of type typ.
// Handle must be called before Run. The parameter is the bare function
// type (not the named Dispatcher) so *Bus structurally satisfies
// consumers, like hotlink.Handle, that declare their own matching
// interface without importing this package.
func (b *Bus) Handle(typ wire.Type, fn func(ctx context.Context, msg *wire.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typ] = fn
}

// Run connects and reconnects until ctx is canceled, dispatching inbound
// messages to registered handlers as they arrive.
func (b *Bus) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		sock, err := b.connectOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("eventbus: connect failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		b.runConnection(ctx, sock)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d/2+1)))
}

func (b *Bus) connectOnce(ctx context.Context) (*socket, error) {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventbus: resolve token: %w", err)
	}

	wsURL, err := toWebsocketURL(b.serverURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set(acceptedEncodingsHeader, "packed,json")

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			b.tokens.Invalidate()
		}
		return nil, err
	}

	enc := wire.NegotiateEncoding(resp.Header.Get(chosenEncodingHeader))
	return newSocket(conn, enc), nil
}

func toWebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("eventbus: invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/events"
	return u.String(), nil
}

func (b *Bus) runConnection(ctx context.Context, sock *socket) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.sock = sock
	b.mu.Unlock()

	sock.Start(connCtx)

	defer func() {
		sock.Close()
		b.pending.resolveAllDisconnected()
		b.mu.Lock()
		if b.sock == sock {
			b.sock = nil
		}
		b.mu.Unlock()
	}()

	for {
		select {
		case <-connCtx.Done():
			return
		case <-sock.closed:
			return
		case msg, ok := <-sock.msgRx:
			if !ok {
				return
			}
			b.dispatch(connCtx, msg)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, msg *wire.Message) {
	switch msg.Type {
	case wire.TypeAck:
		ack, ok := msg.Data.(wire.Ack)
		if ok {
			b.pending.resolveAck(ack.OriginalID)
		}
		return
	case wire.TypeNack:
		nack, ok := msg.Data.(wire.Nack)
		if ok {
			b.pending.resolveNack(nack.OriginalID, fmt.Errorf("%w: %s", ErrNacked, nack.Error))
		}
		return
	}

	b.mu.Lock()
	fn, ok := b.handlers[msg.Type]
	b.mu.Unlock()
	if !ok {
		slog.Debug("eventbus: no handler for message type", "type", msg.Type)
		return
	}
	fn(ctx, msg)
}

// Send enqueues msg for transmission without waiting for an ack.
func (b *Bus) Send(msg *wire.Message) error {
	b.mu.Lock()
	sock := b.sock
	b.mu.Unlock()
	if sock == nil {
		return ErrDisconnected
	}
	select {
	case sock.msgTx <- msg:
		return nil
	default:
		return fmt.Errorf("eventbus: send buffer full")
	}
}

// SendAndWait enqueues msg and blocks until it is acked, nacked, the
// connection drops, or ctx/AckTimeout elapses.
func (b *Bus) SendAndWait(ctx context.Context, msg *wire.Message) error {
	if err := b.Send(msg); err != nil {
		return err
	}

	ch := b.pending.register(msg.ID)
	defer b.pending.forget(msg.ID)

	timer := time.NewTimer(AckTimeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
