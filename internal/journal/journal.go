// Package journal implements the daemon's durable key -> (etag, size, mtime)
// map: the source of truth for what the daemon believes the remote holds.
// Persistence is a single JSON snapshot written atomically (tempfile then
// rename) on every checkpoint, per the spec's "opaque key->record with
// atomic snapshot semantics" note.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Entry is one reconciled file record.
type Entry struct {
	Key        string `json:"key"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modified_epoch_s"`
}

// Journal is a crash-safe snapshot of Entry records keyed by datasite key.
// Every file the daemon has reconciled appears exactly once; deletion is
// represented by absence, never a tombstone.
type Journal struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	dirty   bool
}

// Load opens the journal snapshot at dir/journal.json, creating dir if
// needed; a missing file yields an empty journal, and the file itself is
// first written when the journal is persisted.
// Load is idempotent: calling it again just re-reads the file.
func Load(dir string) (*Journal, error) {
	path := filepath.Join(dir, "journal.json")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: ensure dir: %w", err)
	}

	j := &Journal{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, fmt.Errorf("journal: read: %w", err)
	}

	if len(data) == 0 {
		return j, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("journal: decode: %w", err)
	}
	for _, e := range entries {
		j.entries[e.Key] = e
	}
	return j, nil
}

// Get returns the entry for key, or false if absent.
func (j *Journal) Get(key string) (Entry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.entries[key]
	return e, ok
}

// Upsert records or replaces the entry for key and checkpoints to disk.
func (j *Journal) Upsert(e Entry) error {
	j.mu.Lock()
	j.entries[e.Key] = e
	j.mu.Unlock()
	return j.checkpoint()
}

// Remove deletes key from the journal (file absence represents deletion)
// and checkpoints to disk.
func (j *Journal) Remove(key string) error {
	j.mu.Lock()
	_, existed := j.entries[key]
	delete(j.entries, key)
	j.mu.Unlock()
	if !existed {
		return nil
	}
	return j.checkpoint()
}

// Snapshot returns a copy of the full key -> Entry map.
func (j *Journal) Snapshot() map[string]Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]Entry, len(j.entries))
	for k, v := range j.entries {
		out[k] = v
	}
	return out
}

// Count returns the number of entries currently tracked.
func (j *Journal) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Checkpoint forces a snapshot write, used on clean shutdown.
func (j *Journal) Checkpoint() error {
	return j.checkpoint()
}

func (j *Journal) checkpoint() error {
	j.mu.RLock()
	entries := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		entries = append(entries, e)
	}
	j.mu.RUnlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}

	dir := filepath.Dir(j.path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".journal-%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("journal: write temp: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("journal: rename: %w", err)
	}
	return nil
}
