// Package uploader implements the smart single-vs-resumable-multipart
// upload decision, session persistence, and pause/resume/restart control.
package uploader

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Session is the durable record of an in-progress multipart upload.
// Fingerprint invalidates the session when the underlying file changes.
type Session struct {
	UploadID    string         `json:"upload_id"`
	Key         string         `json:"key"`
	FilePath    string         `json:"file_path"`
	Fingerprint string         `json:"fingerprint"`
	Size        int64          `json:"size"`
	PartSize    int64          `json:"part_size"`
	PartCount   int            `json:"part_count"`
	Completed   map[int]string `json:"completed"`
}

// sessionPath returns <dataDir>/.data/upload-sessions/<sha1(key|path)>.json.
func sessionPath(dataDir, key, filePath string) string {
	sum := sha1.Sum([]byte(key + "|" + filePath))
	name := hex.EncodeToString(sum[:]) + ".json"
	return filepath.Join(dataDir, ".data", "upload-sessions", name)
}

// loadSession reads a session from disk, discarding (and returning nil,
// nil) it if it no longer matches key/filePath/fingerprint/size.
func loadSession(path, key, filePath, fingerprint string, size int64) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("uploader: read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("uploader: decode session: %w", err)
	}

	if s.Key != key || s.FilePath != filePath || s.Fingerprint != fingerprint || s.Size != size {
		_ = os.Remove(path)
		return nil, nil
	}
	if s.Completed == nil {
		s.Completed = make(map[int]string)
	}
	return &s, nil
}

func saveSession(path string, s *Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("uploader: ensure session dir: %w", err)
	}
	if s.Completed == nil {
		s.Completed = make(map[int]string)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("uploader: encode session: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func deleteSession(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fingerprint(size int64, mtimeNs int64) string {
	return fmt.Sprintf("%d:%d", size, mtimeNs)
}
