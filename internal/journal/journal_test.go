package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertGetRemove(t *testing.T) {
	dir := t.TempDir()
	j, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, j.Upsert(Entry{Key: "alice@x.com/a.txt", ETag: "e1", Size: 10, ModifiedAt: 100}))

	e, ok := j.Get("alice@x.com/a.txt")
	require.True(t, ok)
	require.Equal(t, "e1", e.ETag)

	require.NoError(t, j.Remove("alice@x.com/a.txt"))
	_, ok = j.Get("alice@x.com/a.txt")
	require.False(t, ok)
}

func TestLoadIsIdempotentAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	j1, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, j1.Upsert(Entry{Key: "bob@x.com/b.txt", ETag: "e2", Size: 5}))

	j2, err := Load(dir)
	require.NoError(t, err)
	e, ok := j2.Get("bob@x.com/b.txt")
	require.True(t, ok)
	require.Equal(t, "e2", e.ETag)

	require.FileExists(t, filepath.Join(dir, "journal.json"))
}

func TestCheckpointIsAtomic(t *testing.T) {
	dir := t.TempDir()
	j, err := Load(dir)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, j.Upsert(Entry{Key: "x@y.com/" + string(rune('a'+i%26)), ETag: "e"}))
	}
	matches, _ := filepath.Glob(filepath.Join(dir, ".journal-*.tmp"))
	require.Empty(t, matches, "no leftover temp files after checkpoint")
}
