package remoteapi

import (
	"sync"
	"sync/atomic"
	"time"
)

// Telemetry holds the remote client's HTTP byte/error counters. GET
// /v1/status does not report them: its runtime.http block comes from the
// control plane's own request counters (internal/controlplane/stats.go).
type Telemetry struct {
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	lastSentNano atomic.Int64
	lastRecvNano atomic.Int64

	mu        sync.RWMutex
	lastError string
}

func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

func (t *Telemetry) recordSend(n int64) {
	if n <= 0 {
		return
	}
	t.bytesSent.Add(n)
	t.lastSentNano.Store(time.Now().UnixNano())
}

func (t *Telemetry) recordRecv(n int64) {
	if n <= 0 {
		return
	}
	t.bytesRecv.Add(n)
	t.lastRecvNano.Store(time.Now().UnixNano())
}

func (t *Telemetry) recordError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.lastError = err.Error()
	t.mu.Unlock()
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	BytesSentTotal int64  `json:"bytes_sent_total"`
	BytesRecvTotal int64  `json:"bytes_recv_total"`
	LastSentAtNs   int64  `json:"last_sent_at_ns"`
	LastRecvAtNs   int64  `json:"last_recv_at_ns"`
	LastError      string `json:"last_error,omitempty"`
}

func (t *Telemetry) Snapshot() Snapshot {
	t.mu.RLock()
	lastErr := t.lastError
	t.mu.RUnlock()

	return Snapshot{
		BytesSentTotal: t.bytesSent.Load(),
		BytesRecvTotal: t.bytesRecv.Load(),
		LastSentAtNs:   t.lastSentNano.Load(),
		LastRecvAtNs:   t.lastRecvNano.Load(),
		LastError:      lastErr,
	}
}

// countingReader wraps a reader to feed bytes through a telemetry callback
// as they're read off the wire.
type countingReader struct {
	onRead func(int64)
	r      interface {
		Read(p []byte) (int, error)
	}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.onRead != nil {
		c.onRead(int64(n))
	}
	return n, err
}
