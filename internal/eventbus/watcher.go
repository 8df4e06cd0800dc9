package eventbus

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	defaultDebounceTimeout = 50 * time.Millisecond
	eventBufferSize        = 256
	pollingInterval        = 25 * time.Millisecond
	ignoreTimeout          = time.Second
)

// priorityWatcher watches a datasite tree for writes to priority paths
// (requests, responses, ACL files) and forwards debounced, de-duplicated
// events for the bus's write loop to push over the fast path.
type priorityWatcher struct {
	rootDir     string
	shouldWatch func(relPath string) bool

	rawEvents   chan notify.EventInfo
	events      chan string
	usingNotify bool

	ignoreMu sync.Mutex
	ignore   map[string]time.Time

	debounceMu  sync.Mutex
	pending     map[string]struct{}
	timers      map[string]*time.Timer
	debounce    time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

func newPriorityWatcher(rootDir string, shouldWatch func(relPath string) bool) *priorityWatcher {
	return &priorityWatcher{
		rootDir:     rootDir,
		shouldWatch: shouldWatch,
		ignore:      make(map[string]time.Time),
		pending:     make(map[string]struct{}),
		timers:      make(map[string]*time.Timer),
		debounce:    defaultDebounceTimeout,
		done:        make(chan struct{}),
	}
}

// IgnoreOnce suppresses the next write event observed for absPath, so a
// download we just wrote to disk doesn't loop back as an outbound event.
func (w *priorityWatcher) IgnoreOnce(absPath string) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignore[absPath] = time.Now().Add(ignoreTimeout)
}

func (w *priorityWatcher) isIgnored(absPath string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	expiry, ok := w.ignore[absPath]
	if !ok {
		return false
	}
	delete(w.ignore, absPath)
	return time.Now().Before(expiry)
}

func (w *priorityWatcher) Start(ctx context.Context) {
	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan string, eventBufferSize)

	recursive := w.rootDir + "/..."
	if err := notify.Watch(recursive, w.rawEvents, notify.Write, notify.Create); err != nil {
		if fbErr := notify.Watch(w.rootDir, w.rawEvents, notify.Write, notify.Create); fbErr != nil {
			slog.Warn("eventbus watcher: notify backend unavailable, polling", "dir", w.rootDir, "error", err)
			w.wg.Add(1)
			go w.poll(ctx)
		} else {
			w.usingNotify = true
		}
	} else {
		w.usingNotify = true
	}

	w.wg.Add(1)
	go w.filter(ctx)
}

func (w *priorityWatcher) Stop() {
	close(w.done)
	if w.usingNotify {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()
}

func (w *priorityWatcher) Events() <-chan string {
	return w.events
}

type pollSig struct {
	modTime int64
	size    int64
}

func (w *priorityWatcher) poll(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	seen := make(map[string]pollSig)
	scan := func() {
		_ = filepath.WalkDir(w.rootDir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			sig := pollSig{modTime: info.ModTime().UnixNano(), size: info.Size()}
			if prev, ok := seen[path]; !ok || prev != sig {
				seen[path] = sig
				select {
				case w.rawEvents <- notifyWrite{path: path}:
				default:
				}
			}
			return nil
		})
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			scan()
		}
	}
}

type notifyWrite struct{ path string }

func (n notifyWrite) Event() notify.Event { return notify.Write }
func (n notifyWrite) Path() string        { return n.path }
func (n notifyWrite) Sys() interface{}    { return nil }

func (w *priorityWatcher) filter(ctx context.Context) {
	defer func() {
		w.debounceMu.Lock()
		for path, timer := range w.timers {
			timer.Stop()
			delete(w.timers, path)
		}
		w.debounceMu.Unlock()
		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.rawEvents:
			if !ok {
				return
			}

			absPath := ev.Path()
			rel, err := filepath.Rel(w.rootDir, absPath)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if w.shouldWatch != nil && !w.shouldWatch(rel) {
				continue
			}

			w.debounceEvent(absPath)
		}
	}
}

func (w *priorityWatcher) debounceEvent(absPath string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.timers[absPath]; ok {
		timer.Stop()
	}
	w.pending[absPath] = struct{}{}
	w.timers[absPath] = time.AfterFunc(w.debounce, func() {
		w.flush(absPath)
	})
}

func (w *priorityWatcher) flush(absPath string) {
	w.debounceMu.Lock()
	_, exists := w.pending[absPath]
	delete(w.pending, absPath)
	delete(w.timers, absPath)
	w.debounceMu.Unlock()

	if !exists {
		return
	}
	if w.isIgnored(absPath) {
		return
	}

	select {
	case w.events <- absPath:
	default:
		slog.Warn("eventbus watcher channel full, dropping event", "path", absPath)
	}
}
