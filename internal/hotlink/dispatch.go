package hotlink

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensync/syftboxd/internal/wire"
)

// Payload constructors in internal/wire are not uniformly pointer or
// value types, and a hotlink message decoded off the wire is always a value while
// one built locally via a New* constructor may be a pointer. Each
// extractor here accepts both shapes.

func asOpen(msg *wire.Message) (wire.HotlinkOpen, bool) {
	switch v := msg.Data.(type) {
	case wire.HotlinkOpen:
		return v, true
	case *wire.HotlinkOpen:
		return *v, true
	default:
		return wire.HotlinkOpen{}, false
	}
}

func asAccept(msg *wire.Message) (wire.HotlinkAccept, bool) {
	switch v := msg.Data.(type) {
	case wire.HotlinkAccept:
		return v, true
	case *wire.HotlinkAccept:
		return *v, true
	default:
		return wire.HotlinkAccept{}, false
	}
}

func asReject(msg *wire.Message) (wire.HotlinkReject, bool) {
	switch v := msg.Data.(type) {
	case wire.HotlinkReject:
		return v, true
	case *wire.HotlinkReject:
		return *v, true
	default:
		return wire.HotlinkReject{}, false
	}
}

func asData(msg *wire.Message) (wire.HotlinkData, bool) {
	switch v := msg.Data.(type) {
	case wire.HotlinkData:
		return v, true
	case *wire.HotlinkData:
		return *v, true
	default:
		return wire.HotlinkData{}, false
	}
}

func asClose(msg *wire.Message) (wire.HotlinkClose, bool) {
	switch v := msg.Data.(type) {
	case wire.HotlinkClose:
		return v, true
	case *wire.HotlinkClose:
		return *v, true
	default:
		return wire.HotlinkClose{}, false
	}
}

func asSignal(msg *wire.Message) (wire.HotlinkSignal, bool) {
	switch v := msg.Data.(type) {
	case wire.HotlinkSignal:
		return v, true
	case *wire.HotlinkSignal:
		return *v, true
	default:
		return wire.HotlinkSignal{}, false
	}
}

func (m *Manager) handleOpen(ctx context.Context, msg *wire.Message) {
	if !m.enabled {
		return
	}
	open, ok := asOpen(msg)
	if !ok {
		slog.Error("hotlink: invalid Open payload", "id", msg.ID)
		return
	}

	dirRel := open.Path
	if isEligible(open.Path) {
		dirRel = filepath.Dir(open.Path)
	}
	dirAbs := m.disk.AbsPath(dirRel)
	if err := os.MkdirAll(dirAbs, 0o755); err != nil {
		slog.Error("hotlink: open ensure dir failed", "path", dirAbs, "error", err)
		return
	}

	session := &inboundSession{
		id:         open.SessionID,
		path:       open.Path,
		dirAbs:     dirAbs,
		markerPath: filepath.Join(dirAbs, markerName()),
		acceptPath: filepath.Join(dirAbs, "stream.accept"),
		done:       make(chan struct{}),
	}

	writer := m.getIPCWriter(session.markerPath)
	if err := writer.EnsureListener(); err != nil {
		slog.Warn("hotlink: ipc listen failed, rejecting session", "path", session.markerPath, "error", err)
		_ = m.sender.Send(wire.NewHotlinkReject(open.SessionID, "ipc unavailable"))
		return
	}

	m.mu.Lock()
	m.sessions[session.id] = session
	m.mu.Unlock()

	if _, err := os.Stat(session.acceptPath); err == nil {
		m.acceptInbound(session)
		return
	}
	go m.waitForAccept(session)
}

func (m *Manager) waitForAccept(session *inboundSession) {
	ticker := time.NewTicker(acceptPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-session.done:
			return
		case <-ticker.C:
			if _, err := os.Stat(session.acceptPath); err != nil {
				continue
			}
			m.acceptInbound(session)
			return
		}
	}
}

func (m *Manager) acceptInbound(session *inboundSession) {
	if err := m.sender.Send(wire.NewHotlinkAccept(session.id)); err != nil {
		slog.Warn("hotlink: accept send failed", "session", session.id, "error", err)
	}
	if m.quicEnabled {
		m.telemetry.RecordQuicOffer()
		endpoint, addrs, err := offerQUIC(session.id)
		if err != nil {
			slog.Debug("hotlink: quic offer setup failed", "session", session.id, "error", err)
			return
		}
		session.quic = endpoint
		if err := m.sender.Send(wire.NewHotlinkSignal(session.id, "quic_offer", addrs, "", "")); err != nil {
			slog.Warn("hotlink: quic offer send failed", "session", session.id, "error", err)
		}
		go m.awaitQuicReader(session)
	}
}

func (m *Manager) awaitQuicReader(session *inboundSession) {
	<-session.quic.ready
	stream, err := session.quic.snapshot()
	if err != nil || stream == nil {
		slog.Info("hotlink: quic accept failed, relying on event-bus fallback", "session", session.id, "error", err)
		return
	}
	slog.Info("hotlink: quic connected", "session", session.id)
	reader := bufio.NewReader(stream)
	for {
		f, err := decodeFrame(reader)
		if err != nil {
			return
		}
		start := time.Now()
		m.deliver(session, f.path, f.etag, f.seq, f.payload)
		m.telemetry.RecordRx(len(f.payload), time.Since(start))
	}
}

func (m *Manager) handleAccept(ctx context.Context, msg *wire.Message) {
	if !m.enabled {
		return
	}
	accept, ok := asAccept(msg)
	if !ok {
		slog.Error("hotlink: invalid Accept payload", "id", msg.ID)
		return
	}
	m.outMu.RLock()
	out := m.outbound[accept.SessionID]
	m.outMu.RUnlock()
	if out == nil {
		return
	}
	out.mu.Lock()
	if !out.accepted {
		out.accepted = true
		close(out.accept)
	}
	out.mu.Unlock()
}

func (m *Manager) handleReject(ctx context.Context, msg *wire.Message) {
	if !m.enabled {
		return
	}
	reject, ok := asReject(msg)
	if !ok {
		slog.Error("hotlink: invalid Reject payload", "id", msg.ID)
		return
	}
	if out := m.removeOutbound(reject.SessionID); out != nil {
		select {
		case out.reject <- reject.Reason:
		default:
		}
		return
	}
	m.closeSession(reject.SessionID)
}

func (m *Manager) handleData(ctx context.Context, msg *wire.Message) {
	if !m.enabled || m.quicOnly {
		return
	}
	data, ok := asData(msg)
	if !ok {
		slog.Error("hotlink: invalid Data payload", "id", msg.ID)
		return
	}
	m.mu.RLock()
	session := m.sessions[data.SessionID]
	m.mu.RUnlock()
	if session == nil || len(data.Payload) == 0 {
		return
	}

	start := time.Now()
	framePath := session.path
	if strings.TrimSpace(data.Path) != "" {
		framePath = data.Path
	}
	m.deliver(session, framePath, data.ETag, data.Seq, data.Payload)
	m.telemetry.RecordRx(len(data.Payload), time.Since(start))
}

// deliver writes one received frame to the session's local IPC listener
// (or, for a TCP-proxy channel, through the reorder buffer), skipping
// anything the dedupe cache has already applied.
func (m *Manager) deliver(session *inboundSession, framePath, etag string, seq uint64, payload []byte) {
	if session == nil || len(payload) == 0 {
		return
	}
	if m.dedupe.Seen(session.path, etag) {
		return
	}

	if isTCPProxyPath(framePath) {
		m.writeTCPProxy(framePath, seq, payload)
		return
	}

	writer := m.getIPCWriter(session.markerPath)
	frame := encodeFrame(framePath, etag, seq, payload)
	if err := writer.Write(frame); err != nil {
		slog.Warn("hotlink: ipc write failed", "session", session.id, "error", err)
	}
}

func (m *Manager) handleClose(ctx context.Context, msg *wire.Message) {
	if !m.enabled {
		return
	}
	c, ok := asClose(msg)
	if !ok {
		slog.Error("hotlink: invalid Close payload", "id", msg.ID)
		return
	}
	if out := m.removeOutbound(c.SessionID); out != nil {
		select {
		case out.reject <- c.Reason:
		default:
		}
		return
	}
	m.closeSession(c.SessionID)
}

func (m *Manager) handleSignal(ctx context.Context, msg *wire.Message) {
	if !m.enabled || !m.quicEnabled {
		return
	}
	signal, ok := asSignal(msg)
	if !ok {
		slog.Error("hotlink: invalid Signal payload", "id", msg.ID)
		return
	}

	switch signal.Kind {
	case "quic_offer":
		m.outMu.RLock()
		out := m.outbound[signal.SessionID]
		m.outMu.RUnlock()
		if out == nil {
			return
		}
		go m.answerOffer(out, signal)

	case "quic_answer":
		if signal.Error != "" {
			m.telemetry.RecordQuicAnswerErr()
			slog.Info("hotlink: quic answer error, using event-bus fallback", "session", signal.SessionID, "error", signal.Error)
			if m.quicOnly {
				_ = m.sender.Send(wire.NewHotlinkClose(signal.SessionID, "quic-only"))
			}
			return
		}
		m.telemetry.RecordQuicAnswerOK()
		slog.Info("hotlink: quic answer ok", "session", signal.SessionID, "addr", strings.Join(signal.Addrs, ","))

	case "quic_error":
		slog.Warn("hotlink: peer reported quic error", "session", signal.SessionID, "error", signal.Error)

	default:
		slog.Debug("hotlink: signal ignored", "session", signal.SessionID, "kind", signal.Kind)
	}
}

func (m *Manager) answerOffer(out *outboundSession, signal wire.HotlinkSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), quicAcceptTimeout)
	defer cancel()

	endpoint, addr, err := answerQUIC(ctx, out.id, signal.Addrs)
	if err != nil {
		out.quic.resolve(nil, nil, err)
		_ = m.sender.Send(wire.NewHotlinkSignal(out.id, "quic_answer", nil, "", err.Error()))
		slog.Info("hotlink: quic dial failed, using event-bus fallback", "session", out.id, "error", err)
		return
	}

	out.mu.Lock()
	out.quic = endpoint
	out.mu.Unlock()
	_ = m.sender.Send(wire.NewHotlinkSignal(out.id, "quic_answer", []string{addr}, "ok", ""))
	slog.Info("hotlink: quic dialed", "session", out.id, "addr", addr)
}
