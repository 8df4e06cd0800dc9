package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/opensync/syftboxd/internal/wire"
)

const (
	socketChannelSize  = 8
	socketPingPeriod   = 15 * time.Second
	socketPingTimeout  = 5 * time.Second
	socketWriteTimeout = 5 * time.Second
)

// socket wraps one connected WebSocket and speaks the wire envelope format
// rather than plain JSON, so it can negotiate packed encoding with the
// server instead of being JSON-only.
type socket struct {
	conn *websocket.Conn
	enc  wire.Encoding

	msgRx chan *wire.Message
	msgTx chan *wire.Message

	closed    chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSocket(conn *websocket.Conn, enc wire.Encoding) *socket {
	return &socket{
		conn:    conn,
		enc:     enc,
		msgRx:   make(chan *wire.Message, socketChannelSize),
		msgTx:   make(chan *wire.Message, socketChannelSize),
		closed:  make(chan struct{}),
		closing: make(chan struct{}),
	}
}

func (s *socket) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.writeLoop(ctx)
	go s.readLoop(ctx)
}

func (s *socket) Close() {
	s.closeConnection(websocket.StatusNormalClosure, "shutdown")
}

func (s *socket) closeConnection(status websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.conn.Close(status, reason)
		s.wg.Wait()
		close(s.closed)
		close(s.msgRx)
		close(s.msgTx)
	})
}

func (s *socket) readLoop(ctx context.Context) {
	defer func() {
		s.wg.Done()
		s.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if !isExpectedCloseError(err) {
				slog.Warn("eventbus socket recv", "error", err)
			}
			return
		}

		msg, _, err := wire.Decode(data)
		if err != nil {
			slog.Warn("eventbus socket decode", "error", err)
			continue
		}

		select {
		case <-s.closing:
			return
		case s.msgRx <- msg:
		default:
			slog.Warn("eventbus socket recv buffer full", "id", msg.ID, "dropped", true)
		}
	}
}

func (s *socket) writeLoop(ctx context.Context) {
	pingTicker := time.NewTicker(socketPingPeriod)
	defer func() {
		pingTicker.Stop()
		s.wg.Done()
		s.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.closing:
			return

		case msg, ok := <-s.msgTx:
			if !ok {
				return
			}

			data, err := wire.Encode(msg, s.enc)
			if err != nil {
				slog.Error("eventbus socket encode", "error", err)
				continue
			}

			typ := websocket.MessageText
			if s.enc == wire.EncodingPacked {
				typ = websocket.MessageBinary
			}

			ctxWrite, cancel := context.WithTimeout(ctx, socketWriteTimeout)
			err = s.conn.Write(ctxWrite, typ, data)
			cancel()

			if err != nil {
				slog.Error("eventbus socket send", "error", err)
				return
			}

		case <-pingTicker.C:
			ctxPing, cancel := context.WithTimeout(ctx, socketPingTimeout)
			err := s.conn.Ping(ctxPing)
			cancel()

			if err != nil {
				slog.Error("eventbus socket ping", "error", err)
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
