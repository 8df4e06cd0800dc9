package datasite

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opensync/syftboxd/internal/filters"
)

// Record is one scanned file: its key and reconcilable metadata.
type Record struct {
	Key        Key
	Size       int64
	ModifiedAt int64
	ETag       string // hex md5 of content
}

// Scanner walks dataDir/datasites and produces content-hashed records,
// honoring the ignore filter and skipping marked (conflict/rejected) paths.
// Repeated scans of a quiescent tree yield an identical snapshot.
type Scanner struct {
	dataDir string
	ignore  *filters.Ignore
}

func NewScanner(dataDir string, ignore *filters.Ignore) *Scanner {
	return &Scanner{dataDir: dataDir, ignore: ignore}
}

// Scan returns a key -> Record snapshot of every regular, non-ignored,
// unmarked file under dataDir/datasites.
func (s *Scanner) Scan() (map[Key]*Record, error) {
	root := filepath.Join(s.dataDir, "datasites")
	out := make(map[Key]*Record)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		relSlash := filepath.ToSlash(rel)

		if filters.IsMarkedPath(relSlash) || s.ignore.ShouldIgnore(relSlash) {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}

		etag, hashErr := fileMD5(path)
		if hashErr != nil {
			return nil
		}

		out[Key(relSlash)] = &Record{
			Key:        Key(relSlash),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().Unix(),
			ETag:       etag,
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("scan datasites: %w", err)
	}

	return out, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return FileMD5(f)
}

// FileMD5 hashes r's remaining content as a hex md5 digest. Exported for
// callers outside this package that need to compare an on-disk file's
// content hash against a remote ETag (e.g. conflict detection).
func FileMD5(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EmptyContentETag is the md5 of zero bytes: what a FileWrite with
// length==0 must produce once written to disk.
const EmptyContentETag = "d41d8cd98f00b204e9800998ecf8427e"
