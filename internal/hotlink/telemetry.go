package hotlink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const telemetryThrottle = time.Second

// Snapshot is the JSON shape written to <datasite>/.syftbox/hotlink_telemetry.json.
type Snapshot struct {
	TxPackets       int64 `json:"tx_packets"`
	TxBytes         int64 `json:"tx_bytes"`
	TxQuicPackets   int64 `json:"tx_quic_packets"`
	TxWsPackets     int64 `json:"tx_ws_packets"`
	TxLatencyNsTot  int64 `json:"tx_latency_ns_total"`
	TxLatencyNsMax  int64 `json:"tx_latency_ns_max"`
	RxPackets       int64 `json:"rx_packets"`
	RxBytes         int64 `json:"rx_bytes"`
	RxLatencyNsTot  int64 `json:"rx_latency_ns_total"`
	QuicOffers      int64 `json:"quic_offers"`
	QuicAnswersOK   int64 `json:"quic_answers_ok"`
	QuicAnswersErr  int64 `json:"quic_answers_err"`
	WsFallbacks     int64 `json:"ws_fallbacks"`
}

// Telemetry accumulates hotlink counters and throttles its disk snapshot
// to once per telemetryThrottle interval.
type Telemetry struct {
	path string

	txPackets, txBytes               atomic.Int64
	txQuicPackets, txWsPackets        atomic.Int64
	txLatencyNsTot, txLatencyNsMax    atomic.Int64
	rxPackets, rxBytes, rxLatencyNsTot atomic.Int64
	quicOffers, quicAnswersOK, quicAnswersErr atomic.Int64
	wsFallbacks atomic.Int64

	mu       sync.Mutex
	lastFlush time.Time
}

// NewTelemetry writes its snapshot to datasiteDir/.syftbox/hotlink_telemetry.json.
func NewTelemetry(datasiteDir string) *Telemetry {
	return &Telemetry{path: filepath.Join(datasiteDir, ".syftbox", "hotlink_telemetry.json")}
}

func (t *Telemetry) RecordTxQuic(bytes int, latency time.Duration) {
	t.txPackets.Add(1)
	t.txBytes.Add(int64(bytes))
	t.txQuicPackets.Add(1)
	t.recordLatency(&t.txLatencyNsTot, &t.txLatencyNsMax, latency)
	t.maybeFlush()
}

func (t *Telemetry) RecordTxWS(bytes int, latency time.Duration) {
	t.txPackets.Add(1)
	t.txBytes.Add(int64(bytes))
	t.txWsPackets.Add(1)
	t.wsFallbacks.Add(1)
	t.recordLatency(&t.txLatencyNsTot, &t.txLatencyNsMax, latency)
	t.maybeFlush()
}

func (t *Telemetry) RecordRx(bytes int, latency time.Duration) {
	t.rxPackets.Add(1)
	t.rxBytes.Add(int64(bytes))
	t.rxLatencyNsTot.Add(int64(latency))
	t.maybeFlush()
}

func (t *Telemetry) RecordQuicOffer()     { t.quicOffers.Add(1); t.maybeFlush() }
func (t *Telemetry) RecordQuicAnswerOK()  { t.quicAnswersOK.Add(1); t.maybeFlush() }
func (t *Telemetry) RecordQuicAnswerErr() { t.quicAnswersErr.Add(1); t.maybeFlush() }

func (t *Telemetry) recordLatency(totAddr, maxAddr *atomic.Int64, latency time.Duration) {
	ns := int64(latency)
	totAddr.Add(ns)
	for {
		cur := maxAddr.Load()
		if ns <= cur || maxAddr.CompareAndSwap(cur, ns) {
			return
		}
	}
}

// maybeFlush writes a snapshot at most once per telemetryThrottle, so a
// burst of small frames doesn't turn into one fsync per frame.
func (t *Telemetry) maybeFlush() {
	t.mu.Lock()
	due := time.Since(t.lastFlush) >= telemetryThrottle
	if due {
		t.lastFlush = time.Now()
	}
	t.mu.Unlock()
	if due {
		_ = t.flush()
	}
}

func (t *Telemetry) Snapshot() Snapshot {
	return Snapshot{
		TxPackets:      t.txPackets.Load(),
		TxBytes:        t.txBytes.Load(),
		TxQuicPackets:  t.txQuicPackets.Load(),
		TxWsPackets:    t.txWsPackets.Load(),
		TxLatencyNsTot: t.txLatencyNsTot.Load(),
		TxLatencyNsMax: t.txLatencyNsMax.Load(),
		RxPackets:      t.rxPackets.Load(),
		RxBytes:        t.rxBytes.Load(),
		RxLatencyNsTot: t.rxLatencyNsTot.Load(),
		QuicOffers:     t.quicOffers.Load(),
		QuicAnswersOK:  t.quicAnswersOK.Load(),
		QuicAnswersErr: t.quicAnswersErr.Load(),
		WsFallbacks:    t.wsFallbacks.Load(),
	}
}

func (t *Telemetry) flush() error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}
