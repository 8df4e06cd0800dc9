package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opensync/syftboxd/internal/remoteapi"
)

// Control lets the uploader report progress and honor pause/restart
// signals originating from the control plane while a multipart upload is
// in flight. Between parts the uploader busy-waits at 100ms granularity
// while Paused() is true.
type Control interface {
	Paused() bool
	ConsumeRestart() bool
	Progress(uploadedBytes, totalBytes, partSize int64, partCount int, completedParts []int)
}

// noopControl is used when the caller has no control-plane entry to drive.
type noopControl struct{}

func (noopControl) Paused() bool                                                         { return false }
func (noopControl) ConsumeRestart() bool                                                 { return false }
func (noopControl) Progress(uploadedBytes, totalBytes, partSize int64, partCount int, completedParts []int) {
}

// Result is what a successful upload produced.
type Result struct {
	Key      string
	ETag     string
	Size     int64
	Resumed  bool // true if this call continued a prior session
}

// Uploader decides between single-shot PUT and resumable multipart and
// drives whichever path the file size requires.
type Uploader struct {
	remote  *remoteapi.Client
	dataDir string
}

func New(remote *remoteapi.Client, dataDir string) *Uploader {
	return &Uploader{remote: remote, dataDir: dataDir}
}

// Upload uploads the file at filePath under key, choosing single-shot PUT
// for files at or below remoteapi.SingleUploadThreshold and resumable
// multipart otherwise. ctrl may be nil for single-shot, unsupervised
// callers (e.g. the priority fast path).
func (u *Uploader) Upload(ctx context.Context, key, filePath string, ctrl Control) (*Result, error) {
	if ctrl == nil {
		ctrl = noopControl{}
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("uploader: stat %s: %w", filePath, err)
	}

	if info.Size() <= remoteapi.SingleUploadThreshold {
		etag, err := u.remote.UploadSingle(ctx, key, filePath)
		if err != nil {
			return nil, err
		}
		ctrl.Progress(info.Size(), info.Size(), 0, 1, []int{1})
		return &Result{Key: key, ETag: etag, Size: info.Size()}, nil
	}

	return u.uploadMultipart(ctx, key, filePath, info, ctrl)
}

func (u *Uploader) uploadMultipart(ctx context.Context, key, filePath string, info os.FileInfo, ctrl Control) (*Result, error) {
	fp := fingerprint(info.Size(), info.ModTime().UnixNano())
	sp := sessionPath(u.dataDir, key, filePath)

	session, err := loadSession(sp, key, filePath, fp, info.Size())
	if err != nil {
		return nil, err
	}

	resumed := session != nil
	if session == nil {
		partSize, partCount := selectPartSize(info.Size(), partSizeOverride())
		session = &Session{
			Key: key, FilePath: filePath, Fingerprint: fp, Size: info.Size(),
			PartSize: partSize, PartCount: partCount, Completed: make(map[int]string),
		}
		if err := saveSession(sp, session); err != nil {
			return nil, err
		}
		slog.Info("multipart upload starting", "key", key, "size", humanize.Bytes(uint64(info.Size())), "parts", partCount)
	} else {
		slog.Info("multipart upload resuming", "key", key, "size", humanize.Bytes(uint64(info.Size())), "completed_parts", len(session.Completed))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("uploader: open %s: %w", filePath, err)
	}
	defer file.Close()

	timeout := partUploadTimeout()
	uploaded := completedBytes(session)
	ctrl.Progress(uploaded, session.Size, session.PartSize, session.PartCount, completedPartNumbers(session))

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if ctrl.ConsumeRestart() {
			session.UploadID = ""
			session.Completed = make(map[int]string)
			uploaded = 0
			ctrl.Progress(0, session.Size, session.PartSize, session.PartCount, nil)
			if err := saveSession(sp, session); err != nil {
				return nil, err
			}
		}

		for ctrl.Paused() {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}

		remaining := remainingParts(session)
		if len(remaining) == 0 {
			break
		}

		resp, err := u.remote.MultipartInitOrURLs(ctx, key, session.Size, session.PartSize, session.UploadID, remaining)
		if err != nil {
			return nil, err
		}
		if session.UploadID == "" {
			session.UploadID = resp.UploadID
			session.PartCount = resp.PartCount
			session.PartSize = resp.PartSize
			if err := saveSession(sp, session); err != nil {
				return nil, err
			}
		}

		for _, part := range sortedKeys(resp.URLs) {
			url := resp.URLs[part]
			offset := int64(part-1) * session.PartSize
			chunkSize := partSizeFor(session, part)

			sr := io.NewSectionReader(file, offset, chunkSize)
			etag, err := u.remote.PutPart(ctx, url, part, sr, chunkSize, timeout)
			if err != nil {
				return nil, err
			}

			session.Completed[part] = etag
			if err := saveSession(sp, session); err != nil {
				return nil, err
			}

			interPartSleep()
			uploaded += chunkSize
			ctrl.Progress(uploaded, session.Size, session.PartSize, session.PartCount, completedPartNumbers(session))
		}
	}

	parts := make([]remoteapi.CompletedPart, 0, len(session.Completed))
	for n, etag := range session.Completed {
		parts = append(parts, remoteapi.CompletedPart{PartNumber: n, ETag: etag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if err := u.remote.MultipartComplete(ctx, key, session.UploadID, parts); err != nil {
		return nil, err
	}
	_ = deleteSession(sp)

	return &Result{Key: key, Size: session.Size, Resumed: resumed}, nil
}

func completedBytes(s *Session) int64 {
	var total int64
	for part := range s.Completed {
		total += partSizeFor(s, part)
	}
	return total
}

func partSizeFor(s *Session, part int) int64 {
	offset := int64(part-1) * s.PartSize
	if offset >= s.Size {
		return 0
	}
	remaining := s.Size - offset
	if remaining < s.PartSize {
		return remaining
	}
	return s.PartSize
}

func remainingParts(s *Session) []int {
	out := make([]int, 0, s.PartCount)
	for i := 1; i <= s.PartCount; i++ {
		if _, ok := s.Completed[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func completedPartNumbers(s *Session) []int {
	out := make([]int, 0, len(s.Completed))
	for p := range s.Completed {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func sortedKeys(m map[int]string) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
