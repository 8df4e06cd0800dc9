package datasite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opensync/syftboxd/internal/filters"
	"github.com/stretchr/testify/require"
)

func TestScanIsRestartableAndStable(t *testing.T) {
	dir := t.TempDir()
	dsDir := filepath.Join(dir, "datasites", "alice@x.com")
	require.NoError(t, os.MkdirAll(dsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dsDir, "notes.md"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dsDir, "notes.md.conflict.20240101000000"), []byte("old"), 0o644))

	scanner := NewScanner(dir, filters.NewIgnore(filepath.Join(dir, "datasites")))

	snap1, err := scanner.Scan()
	require.NoError(t, err)
	snap2, err := scanner.Scan()
	require.NoError(t, err)

	require.Len(t, snap1, 1)
	require.Equal(t, snap1, snap2)

	rec, ok := snap1["alice@x.com/notes.md"]
	require.True(t, ok)
	require.Equal(t, int64(5), rec.Size)
}

func TestKeyOwnerAndValidity(t *testing.T) {
	k := Key("alice@x.com/app/a.txt")
	require.Equal(t, "alice@x.com", k.Owner())
	require.True(t, k.IsValid())

	bad := Key("/app/a.txt")
	require.False(t, bad.IsValid())
}
