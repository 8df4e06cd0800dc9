// Package syncengine is the periodic scan-diff-apply loop that keeps a
// local datasite tree, the durable journal, and the remote keyspace
// converged, with conflict-preserving renames and ACL-staging-gated
// deletes.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensync/syftboxd/internal/aclstaging"
	"github.com/opensync/syftboxd/internal/datasite"
	"github.com/opensync/syftboxd/internal/filters"
	"github.com/opensync/syftboxd/internal/journal"
	"github.com/opensync/syftboxd/internal/remoteapi"
	"github.com/opensync/syftboxd/internal/uploader"
)

// fullSyncInterval is the fixed tick period; kept as a Timer (not a
// Ticker) so a tick that overruns the interval never queues a second one.
const fullSyncInterval = 5 * time.Second

var ErrSyncAlreadyRunning = errors.New("sync already running")

// Datasites is the set of owner emails the current identity lists and
// reconciles against. When set, its Owners replace the default of the
// caller's own email, which is then listed only if Owners returns it.
type Datasites interface {
	Owners() []string
}

// Engine drives one full reconcile tick and the background ticker that
// triggers it.
type Engine struct {
	dataDir  string
	email    string
	remote   *remoteapi.Client
	journal  *journal.Journal
	scanner  *datasite.Scanner
	uploads  *uploader.Uploader
	ignore   *filters.Ignore
	priority *filters.Priority
	acl      *aclstaging.Manager
	datasites Datasites

	inflight *inflight
	muSync   sync.Mutex
	wg       sync.WaitGroup

	wakeCh chan struct{}

	uploadRegistry *uploader.Registry
}

// New builds an Engine. datasites may be nil, in which case only the
// caller's own owner email is reconciled.
func New(
	dataDir, email string,
	remote *remoteapi.Client,
	j *journal.Journal,
	scanner *datasite.Scanner,
	uploads *uploader.Uploader,
	ignore *filters.Ignore,
	priority *filters.Priority,
	acl *aclstaging.Manager,
	datasites Datasites,
) *Engine {
	return &Engine{
		dataDir:   dataDir,
		email:     email,
		remote:    remote,
		journal:   j,
		scanner:   scanner,
		uploads:   uploads,
		ignore:    ignore,
		priority:  priority,
		acl:       acl,
		datasites: datasites,
		inflight:  newInflight(),
		wakeCh:    make(chan struct{}, 1),
	}
}

// SetUploadRegistry attaches the registry the control plane inspects and
// drives uploads through; uploads started before this is called (there are
// none, since Start always runs after wiring) would otherwise fall back to
// an untracked Control.
func (e *Engine) SetUploadRegistry(r *uploader.Registry) {
	e.uploadRegistry = r
}

// UploadRegistry returns the registry set via SetUploadRegistry, or nil.
func (e *Engine) UploadRegistry() *uploader.Registry {
	return e.uploadRegistry
}

// TriggerSync is WakeNow under the name the control plane's sync-now and
// upload-resume/restart handlers call it by.
func (e *Engine) TriggerSync() {
	e.WakeNow()
}

// WakeNow requests an out-of-band tick (sync-now, priority file event,
// event-bus reconnect) without waiting for the next timer fire.
func (e *Engine) WakeNow() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// Start runs one synchronous sync before returning, then launches the
// background ticker goroutine.
func (e *Engine) Start(ctx context.Context) error {
	slog.Info("sync engine starting")

	if err := e.RunSync(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrSyncAlreadyRunning) {
		slog.Error("initial sync failed", "error", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(fullSyncInterval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.wakeCh:
				e.runTick(ctx)
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(fullSyncInterval)
			case <-timer.C:
				e.runTick(ctx)
				timer.Reset(fullSyncInterval)
			}
		}
	}()

	return nil
}

// Stop waits for the background ticker to exit (the caller must already
// have canceled the context driving it) and checkpoints the journal.
func (e *Engine) Stop() error {
	e.wg.Wait()
	return e.journal.Checkpoint()
}

// RunSync performs one synchronous full reconcile tick.
func (e *Engine) RunSync(ctx context.Context) error {
	if !e.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()
	return e.runFullSync(ctx)
}

func (e *Engine) runTick(ctx context.Context) {
	if err := e.RunSync(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrSyncAlreadyRunning) {
		slog.Error("sync tick failed", "error", err)
	}
}

func (e *Engine) runFullSync(ctx context.Context) error {
	start := time.Now()

	remoteState, err := e.getRemoteState(ctx)
	if err != nil {
		return fmt.Errorf("get remote state: %w", err)
	}

	localState, err := e.getLocalState()
	if err != nil {
		return fmt.Errorf("scan local state: %w", err)
	}

	journalEntries := e.journal.Snapshot()
	if len(journalEntries) == 0 && len(localState) > 0 && len(remoteState) > 0 {
		slog.Info("rebuilding journal from converged local/remote state")
		e.rebuildJournal(localState, remoteState)
		journalEntries = e.journal.Snapshot()
	}

	journalState := make(map[string]*FileMetadata, len(journalEntries))
	for k, v := range journalEntries {
		entry := v
		journalState[k] = &FileMetadata{Key: entry.Key, ETag: entry.ETag, Size: entry.Size, ModifiedAt: entry.ModifiedAt}
	}

	result := e.reconcile(localState, remoteState, journalState)

	if result.HasChanges() {
		slog.Debug("reconcile decisions",
			"uploads", len(result.Uploads), "downloads", len(result.Downloads),
			"localDeletes", len(result.LocalDeletes), "conflicts", len(result.Conflicts))
	}

	e.apply(ctx, result)

	if result.HasChanges() {
		slog.Info("full sync",
			"uploads", len(result.Uploads), "downloads", len(result.Downloads),
			"localDeletes", len(result.LocalDeletes), "conflicts", len(result.Conflicts),
			"cleanups", len(result.Cleanups), "unchanged", len(result.UnchangedPaths),
			"took", time.Since(start))
	}

	return nil
}

// apply resolves conflicts first, then runs downloads (they let ACL
// enforcement see fresh manifests), then local deletes, then uploads — priority files are not given a
// separate lane here since the event-bus fast path already short-circuits
// them outside the tick.
func (e *Engine) apply(ctx context.Context, result *ReconcileResult) {
	e.handleConflicts(ctx, result.Conflicts)
	e.handleDownloads(ctx, result.Downloads)
	e.handleLocalDeletes(result.LocalDeletes)
	e.handleUploads(ctx, result.Uploads)

	for key := range result.Cleanups {
		_ = e.journal.Remove(key)
	}
}

func (e *Engine) isSyncing(key string) bool { return e.inflight.isSyncing(key) }

func (e *Engine) getRemoteState(ctx context.Context) (map[string]*FileMetadata, error) {
	owners := []string{e.email}
	if e.datasites != nil {
		owners = e.datasites.Owners()
	}

	out := make(map[string]*FileMetadata)
	for _, owner := range owners {
		records, err := e.remote.ListDatasite(ctx, owner)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			out[r.Key] = &FileMetadata{Key: r.Key, ETag: r.ETag, Size: r.Size, ModifiedAt: r.LastModified.Unix()}
		}
	}
	return out, nil
}

func (e *Engine) getLocalState() (map[string]*FileMetadata, error) {
	records, err := e.scanner.Scan()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*FileMetadata, len(records))
	for k, r := range records {
		out[string(k)] = &FileMetadata{Key: string(k), ETag: r.ETag, Size: r.Size, ModifiedAt: r.ModifiedAt}
	}
	return out, nil
}

// rebuildJournal seeds the journal from keys where local and remote
// content already agree, used once when the journal is empty but both
// sides already hold matching files (a fresh daemon pointed at existing
// data, or a journal.json lost to disk corruption).
func (e *Engine) rebuildJournal(local, remote map[string]*FileMetadata) {
	for key, l := range local {
		r, ok := remote[key]
		if !ok || l.ETag != r.ETag {
			continue
		}
		_ = e.journal.Upsert(journal.Entry{Key: key, ETag: l.ETag, Size: l.Size, ModifiedAt: l.ModifiedAt})
	}
}

func (e *Engine) handleUploads(ctx context.Context, ops map[string]*SyncOperation) {
	if len(ops) == 0 {
		return
	}
	var wg sync.WaitGroup
	for key, op := range ops {
		key, op := key, op
		e.inflight.start(key)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.inflight.done(key)

			path := datasite.LocalPath(e.dataDir, datasite.Key(key))

			uploadCtx := ctx
			var ctrl uploader.Control
			if e.uploadRegistry != nil {
				var c uploader.Control
				c, uploadCtx = e.uploadRegistry.Begin(ctx, key, key, path)
				ctrl = c
			}

			res, err := e.uploads.Upload(uploadCtx, key, path, ctrl)
			if e.uploadRegistry != nil {
				e.uploadRegistry.Finish(key, err)
			}
			if err != nil {
				slog.Error("upload failed", "key", key, "error", err)
				return
			}
			etag := res.ETag
			if etag == "" {
				etag = op.Local.ETag
			}
			if err := e.journal.Upsert(journal.Entry{Key: key, ETag: etag, Size: res.Size, ModifiedAt: op.Local.ModifiedAt}); err != nil {
				slog.Error("journal upsert after upload failed", "key", key, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (e *Engine) handleDownloads(ctx context.Context, ops map[string]*SyncOperation) {
	if len(ops) == 0 {
		return
	}

	keys := make([]string, 0, len(ops))
	for key := range ops {
		keys = append(keys, key)
	}
	urls, err := e.remote.PresignDownloads(ctx, keys)
	if err != nil {
		slog.Error("presign downloads failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	for key, op := range ops {
		key, op := key, op
		url, ok := urls[key]
		if !ok {
			continue
		}
		e.inflight.start(key)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.inflight.done(key)

			if err := e.downloadOne(ctx, key, url, op); err != nil {
				slog.Error("download failed", "key", key, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (e *Engine) downloadOne(ctx context.Context, key, url string, op *SyncOperation) error {
	path := datasite.LocalPath(e.dataDir, datasite.Key(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}

	if existing, err := os.Stat(path); err == nil && !existing.IsDir() {
		if err := conflictRenameIfDiffers(path, op.Remote.ETag); err != nil {
			return err
		}
	}

	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))
	if err := fetchToFile(ctx, url, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename download into place: %w", err)
	}

	return e.journal.Upsert(journal.Entry{Key: key, ETag: op.Remote.ETag, Size: op.Remote.Size, ModifiedAt: op.Remote.ModifiedAt})
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
		return fmt.Errorf("download: status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

// conflictRenameIfDiffers renames path to "<name>.conflict" if its
// current etag doesn't match expectedRemoteETag, before a fresh download
// overwrites the canonical name.
func conflictRenameIfDiffers(path, expectedRemoteETag string) error {
	etag, err := fileETag(path)
	if err != nil {
		return err
	}
	if etag == expectedRemoteETag {
		return nil
	}
	return os.Rename(path, path+".conflict")
}

func (e *Engine) handleLocalDeletes(ops map[string]*SyncOperation) {
	for key := range ops {
		if e.acl.IsPendingACLPath(key) {
			continue
		}
		path := datasite.LocalPath(e.dataDir, datasite.Key(key))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Error("local delete failed", "key", key, "error", err)
			continue
		}
		if err := e.journal.Remove(key); err != nil {
			slog.Error("journal remove after local delete failed", "key", key, "error", err)
		}
	}
}

func (e *Engine) handleConflicts(ctx context.Context, ops map[string]*SyncOperation) {
	if len(ops) == 0 {
		return
	}

	keys := make([]string, 0, len(ops))
	for key := range ops {
		keys = append(keys, key)
	}
	urls, err := e.remote.PresignDownloads(ctx, keys)
	if err != nil {
		slog.Error("presign downloads for conflicts failed", "error", err)
		return
	}

	for key, op := range ops {
		url, ok := urls[key]
		if !ok {
			continue
		}
		if err := e.resolveConflict(ctx, key, url, op); err != nil {
			slog.Error("conflict resolution failed", "key", key, "error", err)
		}
	}
}

func (e *Engine) resolveConflict(ctx context.Context, key, url string, op *SyncOperation) error {
	path := datasite.LocalPath(e.dataDir, datasite.Key(key))
	ts := time.Now().UTC().Format("20060102T150405")
	conflictPath := fmt.Sprintf("%s.conflict.%s", path, ts)

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, conflictPath); err != nil {
			return fmt.Errorf("preserve local conflict copy: %w", err)
		}
	}

	tmpPath := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))
	if err := fetchToFile(ctx, url, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return e.journal.Upsert(journal.Entry{Key: key, ETag: op.Remote.ETag, Size: op.Remote.Size, ModifiedAt: op.Remote.ModifiedAt})
}

func fileETag(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return datasite.FileMD5(f)
}
