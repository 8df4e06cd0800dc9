package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensync/syftboxd/internal/aclstaging"
	"github.com/opensync/syftboxd/internal/datasite"
	"github.com/opensync/syftboxd/internal/journal"
	"github.com/opensync/syftboxd/internal/wire"
)

const selfHealEnv = "SYFTBOX_EVENTBUS_SELF_HEAL"

// selfHealEnabled gates whether an inbound FileWrite with content also
// upserts the journal directly, letting the event bus short-circuit the
// next poll cycle's reconcile instead of only writing bytes to disk.
func selfHealEnabled() bool {
	return os.Getenv(selfHealEnv) == "1"
}

// Fetcher resolves a presigned download URL for a key and streams it to a
// local path, the same primitive the sync engine's poll path uses.
type Fetcher interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Disk is the subset of workspace operations the inbound dispatcher needs.
type Disk interface {
	AbsPath(key string) string
	IgnoreOnce(absPath string)
}

// FileSync wires inbound FileWrite/HTTP/ACLManifest events to the local
// filesystem and the ACL staging manager, and registers itself on a Bus.
type FileSync struct {
	disk    Disk
	journal *journal.Journal
	fetcher Fetcher
	acl     *aclstaging.Manager // may be nil; ACL forwarding is then skipped
	httpDir string              // root for syft:// HTTP bodies, defaults to disk root when empty
}

// NewFileSync builds a FileSync bound to disk, j, fetcher, and acl.
func NewFileSync(disk Disk, j *journal.Journal, fetcher Fetcher, acl *aclstaging.Manager) *FileSync {
	return &FileSync{disk: disk, journal: j, fetcher: fetcher, acl: acl}
}

// Register attaches this FileSync's handlers to bus.
func (fs *FileSync) Register(bus *Bus) {
	bus.Handle(wire.TypeFileWrite, fs.handleFileWrite)
	bus.Handle(wire.TypeFileNotify, fs.handleFileWrite)
	bus.Handle(wire.TypeHTTP, fs.handleHTTP)
	bus.Handle(wire.TypeACLManifest, fs.handleACLManifest)
}

// handleACLManifest forwards an inbound manifest to the ACL staging
// manager, which tracks which of its declared paths have arrived.
func (fs *FileSync) handleACLManifest(ctx context.Context, msg *wire.Message) {
	m, ok := msg.Data.(*wire.ACLManifest)
	if !ok {
		slog.Warn("eventbus: ACLManifest payload of unexpected type")
		return
	}
	if fs.acl != nil {
		fs.acl.SetManifest(*m)
	}
}

// isACLFile reports whether key names a syft.pub.yaml ACL file.
func isACLFile(key string) bool {
	return key == "syft.pub.yaml" || strings.HasSuffix(key, "/syft.pub.yaml")
}

// stageIfACL forwards an ACL file write into aclstaging: every ACL
// exchange refreshes its datasite's grace window, and one belonging to a
// pending manifest also counts toward completing it.
func (fs *FileSync) stageIfACL(key string, content []byte, etag string) {
	if fs.acl == nil || !isACLFile(key) {
		return
	}
	owner := datasite.Key(key).Owner()
	fs.acl.NoteACLActivity(owner)
	fs.acl.StageACL(owner, key, content, etag)
}

func (fs *FileSync) handleFileWrite(ctx context.Context, msg *wire.Message) {
	fw, ok := msg.Data.(wire.FileWrite)
	if !ok {
		slog.Warn("eventbus: FileWrite payload of unexpected type")
		return
	}

	switch {
	case fw.Length == 0:
		fs.writeBytes(fw.Path, nil, fw.ETag)

	case len(fw.Content) > 0:
		fs.writeBytes(fw.Path, fw.Content, fw.ETag)
		if selfHealEnabled() && fs.journal != nil {
			if err := fs.journal.Upsert(journal.Entry{
				Key:        fw.Path,
				ETag:       fw.ETag,
				Size:       int64(len(fw.Content)),
				ModifiedAt: time.Now().Unix(),
			}); err != nil {
				slog.Error("eventbus: journal self-heal upsert failed", "key", fw.Path, "error", err)
			}
		}

	default:
		// notify-only push: length > 0 but no inline content, fetch out of band
		fs.fetchAndWrite(ctx, fw.Path, fw.ETag)
	}
}

func (fs *FileSync) writeBytes(key string, content []byte, etag string) {
	if !datasite.Key(key).IsValid() {
		slog.Warn("eventbus: refusing to write invalid key", "key", key)
		return
	}

	abs := fs.disk.AbsPath(key)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		slog.Error("eventbus: ensure dir failed", "path", abs, "error", err)
		return
	}

	fs.disk.IgnoreOnce(abs)
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		slog.Error("eventbus: write failed", "path", abs, "error", err)
		return
	}

	if fs.journal != nil && selfHealEnabled() {
		if err := fs.journal.Upsert(journal.Entry{Key: key, ETag: etag, Size: int64(len(content)), ModifiedAt: time.Now().Unix()}); err != nil {
			slog.Error("eventbus: journal self-heal upsert failed", "key", key, "error", err)
		}
	}

	fs.stageIfACL(key, content, etag)
}

func (fs *FileSync) fetchAndWrite(ctx context.Context, key, etag string) {
	if fs.fetcher == nil {
		slog.Warn("eventbus: no fetcher configured, dropping notify-only push", "key", key)
		return
	}

	url, err := fs.fetcher.PresignDownload(ctx, key)
	if err != nil {
		slog.Error("eventbus: presign download failed", "key", key, "error", err)
		return
	}

	abs := fs.disk.AbsPath(key)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		slog.Error("eventbus: ensure dir failed", "path", abs, "error", err)
		return
	}

	tmp := abs + ".tmp-eventbus"
	if err := fetchToFile(ctx, url, tmp); err != nil {
		_ = os.Remove(tmp)
		slog.Error("eventbus: fetch failed", "key", key, "error", err)
		return
	}

	fs.disk.IgnoreOnce(abs)
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		slog.Error("eventbus: rename into place failed", "key", key, "error", err)
		return
	}

	if fs.journal != nil && selfHealEnabled() {
		if info, err := os.Stat(abs); err == nil {
			_ = fs.journal.Upsert(journal.Entry{Key: key, ETag: etag, Size: info.Size(), ModifiedAt: time.Now().Unix()})
		}
	}

	if isACLFile(key) {
		if content, err := os.ReadFile(abs); err != nil {
			slog.Error("eventbus: re-read fetched ACL file failed", "key", key, "error", err)
		} else {
			fs.stageIfACL(key, content, etag)
		}
	}
}

func (fs *FileSync) handleHTTP(ctx context.Context, msg *wire.Message) {
	h, ok := msg.Data.(wire.HTTP)
	if !ok {
		slog.Warn("eventbus: HTTP payload of unexpected type")
		return
	}

	key := relativeKeyFromSyftURL(h.SyftURL)
	if key == "" {
		slog.Warn("eventbus: could not derive key from syft url", "url", h.SyftURL)
		return
	}

	if len(h.Body) > 0 {
		fs.writeBytes(key, h.Body, "")
		return
	}
	fs.fetchAndWrite(ctx, key, "")
}

// relativeKeyFromSyftURL strips the syft:// scheme from a URL of the form
// syft://user@example.com/app_data/app/rpc/endpoint, leaving the
// datasite-relative key.
func relativeKeyFromSyftURL(raw string) string {
	const scheme = "syft://"
	if !strings.HasPrefix(raw, scheme) {
		return ""
	}
	return strings.TrimPrefix(raw, scheme)
}

func fetchToFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("eventbus: fetch status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return nil
}
