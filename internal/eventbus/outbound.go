package eventbus

import (
	"context"
	"log/slog"
	"os"

	"github.com/opensync/syftboxd/internal/datasite"
	"github.com/opensync/syftboxd/internal/wire"
)

// maxInlineContent bounds how large a priority file's content is allowed to
// be before OutboundPump falls back to a notify-only push (the recipient
// fetches the bytes itself rather than carrying them inline).
const maxInlineContent = 1 << 20 // 1 MiB

// KeyMapper maps an absolute path back to its datasite key.
type KeyMapper interface {
	RelKey(absPath string) string
}

// OutboundPump watches a datasite tree for priority-file writes and pushes
// them over the bus as FileWrite messages, giving requests/responses/ACL
// manifests a low-latency path that doesn't wait for the next poll tick.
type OutboundPump struct {
	watcher *priorityWatcher
	bus     *Bus
	keys    KeyMapper
}

// NewOutboundPump builds a pump rooted at rootDir (the datasites directory),
// pushing only paths for which shouldWatch(relKey) is true.
func NewOutboundPump(rootDir string, shouldWatch func(relKey string) bool, bus *Bus, keys KeyMapper) *OutboundPump {
	return &OutboundPump{
		watcher: newPriorityWatcher(rootDir, shouldWatch),
		bus:     bus,
		keys:    keys,
	}
}

// IgnoreOnce suppresses the pump's next observed write for absPath, used by
// the inbound dispatcher right before it writes a downloaded file so the
// write doesn't loop back out as an outbound push.
func (p *OutboundPump) IgnoreOnce(absPath string) {
	p.watcher.IgnoreOnce(absPath)
}

// Run starts the underlying watcher and forwards events until ctx is
// canceled.
func (p *OutboundPump) Run(ctx context.Context) {
	p.watcher.Start(ctx)
	defer p.watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case absPath, ok := <-p.watcher.Events():
			if !ok {
				return
			}
			p.push(ctx, absPath)
		}
	}
}

func (p *OutboundPump) push(ctx context.Context, absPath string) {
	key := p.keys.RelKey(absPath)
	if key == "" || !datasite.Key(key).IsValid() {
		return
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return // removed between event and read; next reconcile tick will settle it
	}

	f, err := os.Open(absPath)
	if err != nil {
		return
	}
	etag, err := datasite.FileMD5(f)
	f.Close()
	if err != nil {
		slog.Warn("eventbus: hash priority file failed", "key", key, "error", err)
		return
	}

	var msg *wire.Message
	if info.Size() > maxInlineContent {
		msg = wire.NewFileWrite(key, etag, info.Size(), nil)
	} else if content, err := os.ReadFile(absPath); err == nil {
		msg = wire.NewFileWrite(key, etag, int64(len(content)), content)
	} else {
		msg = wire.NewFileWrite(key, etag, info.Size(), nil)
	}

	if err := p.bus.Send(msg); err != nil {
		slog.Warn("eventbus: push priority file failed", "key", key, "error", err)
	}
}
