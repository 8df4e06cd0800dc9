// Package datasite holds the datasite-key naming rules and the local
// filesystem scanner that produces a content-hashed snapshot of a
// datasites tree.
package datasite

import (
	"path/filepath"
	"strings"
)

// Key is a slash-separated datasite-scoped name: "<email>/<path...>".
type Key string

// Owner returns the email identity that owns the key (the first segment).
func (k Key) Owner() string {
	parts := strings.SplitN(string(k), "/", 2)
	return parts[0]
}

// IsValid reports whether k has a non-empty first segment containing "@".
// An empty owner segment (e.g. a bare "/path" key) is never valid.
func (k Key) IsValid() bool {
	owner := k.Owner()
	return owner != "" && strings.Contains(owner, "@")
}

// LocalPath maps a key to its absolute path under dataDir/datasites.
func LocalPath(dataDir string, key Key) string {
	return filepath.Join(dataDir, "datasites", filepath.FromSlash(string(key)))
}

// KeyFromLocalPath maps an absolute path under dataDir/datasites back to a
// Key, or "" if abs is not under that tree.
func KeyFromLocalPath(dataDir, abs string) Key {
	root := filepath.Join(dataDir, "datasites")
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return Key(filepath.ToSlash(rel))
}
