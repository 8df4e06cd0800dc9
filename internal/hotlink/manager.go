package hotlink

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensync/syftboxd/internal/wire"
)

const (
	enabledEnv    = "SYFTBOX_HOTLINK"
	socketOnlyEnv = "SYFTBOX_HOTLINK_SOCKET_ONLY"
	tcpProxyEnv   = "SYFTBOX_HOTLINK_TCP_PROXY"
	quicEnv       = "SYFTBOX_HOTLINK_QUIC"
	quicOnlyEnv   = "SYFTBOX_HOTLINK_QUIC_ONLY"

	acceptPollInterval = 200 * time.Millisecond
	acceptTimeout       = 5 * time.Second
)

// Sender is the outbound half of the event bus a Manager pushes hotlink
// signalling and fallback data frames over.
type Sender interface {
	Send(msg *wire.Message) error
}

// Handle registers a Sender-bound bus's dispatch table; satisfied by
// *eventbus.Bus.
type Handle interface {
	Handle(typ wire.Type, fn func(ctx context.Context, msg *wire.Message))
}

// Disk resolves datasite keys to absolute paths, the same role
// workspace.Workspace plays for the sync engine and event bus.
type Disk interface {
	AbsPath(key string) string
}

// inboundSession is a session this daemon is the receiving side of: it
// owns the IPC marker/listener a local peer SDK reads frames from.
type inboundSession struct {
	id         string
	path       string
	dirAbs     string
	markerPath string
	acceptPath string
	done       chan struct{}
	quic       *quicEndpoint
}

// outboundSession is a session this daemon opened: it is keyed by both its
// locally generated id and the parent directory of the path that triggered
// it, so concurrent requests for sibling files reuse one session.
type outboundSession struct {
	id      string
	pathKey string
	accept  chan struct{}
	reject  chan string

	mu               sync.Mutex
	seq              uint64
	accepted         bool
	wsFallbackLogged bool
	quic             *quicEndpoint
}

// Manager establishes and serves hotlink sessions: signalling rides the
// event bus, data rides QUIC when reachable and the event bus otherwise.
type Manager struct {
	disk   Disk
	sender Sender

	enabled     bool
	socketOnly  bool
	tcpProxy    bool
	quicEnabled bool
	quicOnly    bool

	telemetry *Telemetry
	dedupe    *dedupe

	mu       sync.RWMutex
	sessions map[string]*inboundSession

	outMu          sync.RWMutex
	outbound       map[string]*outboundSession
	outboundByPath map[string]*outboundSession

	ipcMu   sync.Mutex
	writers map[string]*ipcWriter

	reorderMu sync.Mutex
	reorder   map[string]*reorderBuffer
	tcpMu     sync.Mutex
	tcpConns  map[string]func([]byte) error
}

// New builds a Manager bound to disk (for resolving hotlink-eligible
// paths) and sender (for signalling/fallback frames), reading its mode
// from environment variables.
func New(disk Disk, sender Sender, datasiteDir string) *Manager {
	m := &Manager{
		disk:           disk,
		sender:         sender,
		enabled:        os.Getenv(enabledEnv) == "1",
		socketOnly:     os.Getenv(socketOnlyEnv) == "1",
		tcpProxy:       os.Getenv(tcpProxyEnv) == "1",
		quicEnabled:    strings.TrimSpace(os.Getenv(quicEnv)) != "0",
		quicOnly:       os.Getenv(quicOnlyEnv) == "1",
		telemetry:      NewTelemetry(datasiteDir),
		dedupe:         newDedupe(dedupeCacheSize),
		sessions:       make(map[string]*inboundSession),
		outbound:       make(map[string]*outboundSession),
		outboundByPath: make(map[string]*outboundSession),
		writers:        make(map[string]*ipcWriter),
		reorder:        make(map[string]*reorderBuffer),
		tcpConns:       make(map[string]func([]byte) error),
	}
	if m.enabled {
		slog.Info("hotlink enabled", "socket_only", m.socketOnly, "tcp_proxy", m.tcpProxy, "quic", m.quicEnabled, "quic_only", m.quicOnly)
	}
	return m
}

func (m *Manager) Enabled() bool { return m.enabled }

// Register attaches this Manager's handlers to a bus.
func (m *Manager) Register(bus Handle) {
	bus.Handle(wire.TypeHotlinkOpen, m.handleOpen)
	bus.Handle(wire.TypeHotlinkAccept, m.handleAccept)
	bus.Handle(wire.TypeHotlinkReject, m.handleReject)
	bus.Handle(wire.TypeHotlinkData, m.handleData)
	bus.Handle(wire.TypeHotlinkClose, m.handleClose)
	bus.Handle(wire.TypeHotlinkSignal, m.handleSignal)
}

// isEligible reports whether relPath is a candidate for the hotlink fast
// path: a request or response payload.
func isEligible(relPath string) bool {
	return strings.HasSuffix(relPath, ".request") || strings.HasSuffix(relPath, ".response")
}

// SendBestEffort pushes payload for relPath over hotlink if enabled and
// eligible; callers that don't get a fast-path session still deliver the
// file through the ordinary sync/event-bus path, so failures here are
// logged, not surfaced.
func (m *Manager) SendBestEffort(relPath, etag string, payload []byte) {
	if !m.enabled || !isEligible(relPath) || len(payload) == 0 {
		return
	}
	if strings.TrimSpace(etag) == "" {
		etag = fmt.Sprintf("%x", md5.Sum(payload))
	}
	go func() {
		if err := m.send(relPath, etag, payload); err != nil {
			slog.Warn("hotlink send failed", "path", relPath, "error", err)
		}
	}()
}

func (m *Manager) send(relPath, etag string, payload []byte) error {
	pathKey := filepath.Dir(relPath)
	out := m.getOrOpenOutbound(pathKey, relPath)
	if out == nil {
		return fmt.Errorf("hotlink: outbound session unavailable")
	}

	if !m.waitAccepted(out, acceptTimeout) {
		_ = m.sender.Send(wire.NewHotlinkClose(out.id, "fallback"))
		m.removeOutbound(out.id)
		return fmt.Errorf("hotlink: accept timeout")
	}

	out.mu.Lock()
	out.seq++
	seq := out.seq
	out.mu.Unlock()

	if m.quicEnabled && out.quic != nil {
		start := time.Now()
		if ok, err := m.trySendQUIC(out, relPath, etag, seq, payload); ok {
			m.telemetry.RecordTxQuic(len(payload), time.Since(start))
			return nil
		} else if err != nil && m.quicOnly {
			return err
		} else if m.quicOnly {
			return fmt.Errorf("hotlink: quic unavailable and quic-only is set")
		}

		out.mu.Lock()
		if !out.wsFallbackLogged {
			out.wsFallbackLogged = true
			slog.Info("hotlink quic not ready, falling back to event bus", "session", out.id, "path", relPath)
		}
		out.mu.Unlock()
	}

	start := time.Now()
	if err := m.sender.Send(wire.NewHotlinkData(out.id, seq, relPath, etag, payload)); err != nil {
		_ = m.sender.Send(wire.NewHotlinkClose(out.id, "fallback"))
		m.removeOutbound(out.id)
		return err
	}
	m.telemetry.RecordTxWS(len(payload), time.Since(start))
	return nil
}

func (m *Manager) trySendQUIC(out *outboundSession, relPath, etag string, seq uint64, payload []byte) (bool, error) {
	select {
	case <-out.quic.ready:
	default:
		return false, nil
	}
	stream, err := out.quic.snapshot()
	if err != nil {
		return false, err
	}
	if stream == nil {
		return false, fmt.Errorf("hotlink: quic stream unavailable")
	}
	if _, err := stream.Write(encodeFrame(relPath, etag, seq, payload)); err != nil {
		out.quic.resolve(nil, nil, err)
		return false, err
	}
	return true, nil
}

func (m *Manager) getOrOpenOutbound(pathKey, relPath string) *outboundSession {
	m.outMu.RLock()
	existing := m.outboundByPath[pathKey]
	m.outMu.RUnlock()
	if existing != nil {
		return existing
	}
	return m.openOutbound(pathKey, relPath)
}

func (m *Manager) openOutbound(pathKey, relPath string) *outboundSession {
	out := &outboundSession{
		id:      uuid.NewString(),
		pathKey: pathKey,
		accept:  make(chan struct{}),
		reject:  make(chan string, 1),
	}
	if m.quicEnabled {
		out.quic = newQuicEndpoint()
	}

	m.outMu.Lock()
	m.outbound[out.id] = out
	m.outboundByPath[pathKey] = out
	m.outMu.Unlock()

	if err := m.sender.Send(wire.NewHotlinkOpen(out.id, relPath)); err != nil {
		m.removeOutbound(out.id)
		return nil
	}
	return out
}

func (m *Manager) waitAccepted(out *outboundSession, timeout time.Duration) bool {
	out.mu.Lock()
	if out.accepted {
		out.mu.Unlock()
		return true
	}
	out.mu.Unlock()

	select {
	case <-out.accept:
		return true
	case <-out.reject:
		return false
	case <-time.After(timeout):
		return false
	}
}

func (m *Manager) removeOutbound(id string) *outboundSession {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	out := m.outbound[id]
	if out == nil {
		return nil
	}
	delete(m.outbound, id)
	if cur := m.outboundByPath[out.pathKey]; cur == out {
		delete(m.outboundByPath, out.pathKey)
	}
	return out
}

func (m *Manager) getIPCWriter(path string) *ipcWriter {
	m.ipcMu.Lock()
	defer m.ipcMu.Unlock()
	w := m.writers[path]
	if w == nil {
		w = newIPCWriter(path)
		m.writers[path] = w
	}
	return w
}

func (m *Manager) closeSession(id string) *inboundSession {
	m.mu.Lock()
	session := m.sessions[id]
	if session != nil {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if session != nil {
		close(session.done)
	}
	return session
}
