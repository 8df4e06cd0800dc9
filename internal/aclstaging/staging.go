// Package aclstaging tracks, per datasite, an in-flight ACL manifest and
// the files received toward it, so the sync engine can hold off deleting
// a local ACL file the remote snapshot hasn't caught up to yet, and the
// daemon can learn the instant a manifest's files have all arrived.
//
// Keys are slash-separated datasite keys (the same key-space the sync
// engine and scanner use), not OS paths.
package aclstaging

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensync/syftboxd/internal/wire"
)

// GracePeriod is fixed: once a manifest completes, its datasite's ACL
// files are protected from deletion for this long, covering the window
// where the remote snapshot hasn't yet replicated the new grants.
const GracePeriod = 30 * time.Second

const aclFileName = "syft.pub.yaml"

// StagedACL is one ACL file collected toward a pending manifest.
type StagedACL struct {
	Path    string
	Content []byte
	ETag    string
}

// OnReady is invoked at most once per manifest, when every path in its
// acl_order has arrived, with the files ordered to match acl_order.
type OnReady func(datasite string, files []StagedACL)

type pendingSet struct {
	manifest wire.ACLManifest
	received map[string]StagedACL
	applied  bool
}

func (p *pendingSet) expectsPath(key string) bool {
	for _, e := range p.manifest.ACLOrder {
		if e.Path == key {
			return true
		}
	}
	return false
}

func (p *pendingSet) isComplete() bool {
	for _, e := range p.manifest.ACLOrder {
		if _, ok := p.received[e.Path]; !ok {
			return false
		}
	}
	return true
}

// Manager is safe for concurrent use by the event bus dispatcher and the
// sync engine's reconcile loop.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*pendingSet // datasite -> in-flight or applied manifest
	recent  map[string]time.Time   // datasite -> last ACL activity, for the grace window
	onReady OnReady
	now     func() time.Time
}

// New builds a Manager that calls onReady exactly once per manifest that
// completes, with its files in acl_order. onReady may be nil.
func New(onReady OnReady) *Manager {
	if onReady == nil {
		onReady = func(string, []StagedACL) {}
	}
	return &Manager{
		pending: make(map[string]*pendingSet),
		recent:  make(map[string]time.Time),
		onReady: onReady,
		now:     time.Now,
	}
}

// SetManifest stages a fresh pending set for manifest.Datasite. A prior
// set still incomplete is replaced (and the churn logged); an already
// applied one is also replaced, starting a new cycle.
func (m *Manager) SetManifest(manifest wire.ACLManifest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pending[manifest.Datasite]; ok && !existing.applied {
		slog.Info("aclstaging: replacing pending manifest",
			"datasite", manifest.Datasite,
			"old_count", len(existing.manifest.ACLOrder),
			"new_count", len(manifest.ACLOrder))
	}

	m.pending[manifest.Datasite] = &pendingSet{
		manifest: manifest,
		received: make(map[string]StagedACL),
	}
	slog.Info("aclstaging: manifest set", "datasite", manifest.Datasite, "expected", len(manifest.ACLOrder))
}

// StageACL records one arrived ACL file toward datasite's pending
// manifest. It reports false if there is no incomplete pending manifest
// for datasite, or key isn't one of its declared entries. The arrival
// that completes the set fires onReady exactly once, with the files in
// acl_order, and opens datasite's post-apply grace window.
func (m *Manager) StageACL(datasite, key string, content []byte, etag string) bool {
	m.mu.Lock()

	set, ok := m.pending[datasite]
	if !ok || set.applied {
		m.mu.Unlock()
		return false
	}
	if !set.expectsPath(key) {
		m.mu.Unlock()
		slog.Info("aclstaging: unexpected path", "datasite", datasite, "path", key)
		return false
	}

	set.received[key] = StagedACL{Path: key, Content: content, ETag: etag}
	slog.Info("aclstaging: received", "datasite", datasite, "path", key,
		"received", len(set.received), "expected", len(set.manifest.ACLOrder))

	if !set.isComplete() {
		m.mu.Unlock()
		return true
	}

	set.applied = true
	m.recent[datasite] = m.now()

	ordered := make([]StagedACL, 0, len(set.manifest.ACLOrder))
	for _, e := range set.manifest.ACLOrder {
		ordered = append(ordered, set.received[e.Path])
	}
	onReady := m.onReady
	m.mu.Unlock()

	slog.Info("aclstaging: manifest complete", "datasite", datasite, "count", len(ordered))
	onReady(datasite, ordered)
	return true
}

// NoteACLActivity refreshes datasite's grace window whenever any ACL file
// is exchanged, independent of pending state. This protects ACLs against
// revocation races where the remote snapshot transiently omits them even
// though no new manifest was sent.
func (m *Manager) NoteACLActivity(datasite string) {
	if datasite == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent[datasite] = m.now()
}

// HasPendingManifest reports whether datasite has a manifest that has not
// yet been fully received.
func (m *Manager) HasPendingManifest(datasite string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.pending[datasite]
	return ok && !set.applied
}

// IsPendingACLPath reports whether key should be protected from deletion:
// either it's an ACL file under a datasite still inside its post-apply
// grace window, or it names a path (or that path's ACL file) declared by
// a manifest not yet fully received.
func (m *Manager) IsPendingACLPath(key string) bool {
	norm := strings.TrimPrefix(key, "/")
	datasite, _, _ := strings.Cut(norm, "/")
	if datasite == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.HasSuffix(norm, "/"+aclFileName) || norm == aclFileName {
		if at, ok := m.recent[datasite]; ok && m.now().Sub(at) <= GracePeriod {
			return true
		}
	}

	set, ok := m.pending[datasite]
	if !ok || set.applied {
		return false
	}
	for _, e := range set.manifest.ACLOrder {
		if norm == e.Path || norm == e.Path+"/"+aclFileName {
			return true
		}
	}
	return false
}
