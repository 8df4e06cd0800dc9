// Package workspace owns the daemon's on-disk directory layout under a
// configured data directory: datasites, internal metadata, logs, and the
// exclusive workspace lock.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensync/syftboxd/internal/lockfile"
)

const (
	datasitesDir = "datasites"
	metadataDir  = ".data"
	logsDir      = "logs"
	publicDir    = "public"
	lockFileName = "syftbox.lock"
)

// Workspace resolves every path the daemon reads or writes under Root.
type Workspace struct {
	Owner         string
	Root          string
	DatasitesDir  string
	MetadataDir   string
	LogsDir       string
	UserDir       string
	UserPublicDir string

	lock *lockfile.Lock
}

// New resolves rootDir to an absolute path and lays out a Workspace for
// owner without touching disk.
func New(rootDir, owner string) (*Workspace, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %s: %w", rootDir, err)
	}

	return &Workspace{
		Owner:         owner,
		Root:          root,
		DatasitesDir:  filepath.Join(root, datasitesDir),
		MetadataDir:   filepath.Join(root, metadataDir),
		LogsDir:       filepath.Join(root, logsDir),
		UserDir:       filepath.Join(root, datasitesDir, owner),
		UserPublicDir: filepath.Join(root, datasitesDir, owner, publicDir),
		lock:          lockfile.New(filepath.Join(root, metadataDir, lockFileName)),
	}, nil
}

// Setup creates the required directory tree and acquires the exclusive
// workspace lock. Call Unlock on shutdown.
func (w *Workspace) Setup() error {
	if err := os.MkdirAll(w.MetadataDir, 0o755); err != nil {
		return fmt.Errorf("workspace: ensure metadata dir: %w", err)
	}
	if err := w.lock.TryLock(); err != nil {
		return err
	}

	for _, dir := range []string{w.DatasitesDir, w.UserPublicDir, w.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workspace: ensure dir %s: %w", dir, err)
		}
	}

	return nil
}

// Unlock releases the workspace lock acquired by Setup.
func (w *Workspace) Unlock() error {
	return w.lock.Unlock()
}

// AbsPath maps a slash-separated datasite key to its absolute path.
func (w *Workspace) AbsPath(key string) string {
	return filepath.Join(w.DatasitesDir, filepath.FromSlash(key))
}

// RelKey maps an absolute path back to a slash-separated datasite key, or
// "" if abs is not under DatasitesDir.
func (w *Workspace) RelKey(abs string) string {
	rel, err := filepath.Rel(w.DatasitesDir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}
