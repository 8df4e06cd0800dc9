package uploader

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrUploadNotFound is returned by every Registry lookup/mutation for an
// unknown id.
var ErrUploadNotFound = errors.New("uploader: upload not found")

// State is the lifecycle stage of a tracked upload, surfaced verbatim to
// the control plane.
type State string

const (
	StateQueued    State = "queued"
	StateUploading State = "uploading"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// UploadInfo is a point-in-time snapshot of one tracked upload.
type UploadInfo struct {
	ID             string
	Key            string
	LocalPath      string
	State          State
	Size           int64
	UploadedBytes  int64
	PartSize       int64
	PartCount      int
	CompletedParts []int
	Progress       float64
	Error          string
	StartedAt      time.Time
	UpdatedAt      time.Time
}

type trackedUpload struct {
	mu      sync.Mutex
	info    UploadInfo
	paused  bool
	restart bool
	cancel  context.CancelFunc
}

func (t *trackedUpload) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *trackedUpload) ConsumeRestart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.restart
	t.restart = false
	return r
}

func (t *trackedUpload) Progress(uploadedBytes, totalBytes, partSize int64, partCount int, completedParts []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.UploadedBytes = uploadedBytes
	if totalBytes > 0 {
		t.info.Size = totalBytes
		t.info.Progress = float64(uploadedBytes) / float64(totalBytes)
	}
	t.info.PartSize = partSize
	t.info.PartCount = partCount
	t.info.CompletedParts = completedParts
	if t.info.State != StatePaused {
		t.info.State = StateUploading
	}
	t.info.UpdatedAt = time.Now()
}

// Registry tracks in-flight uploads for control-plane introspection: list,
// get, pause, resume, restart and cancel, mirroring the teacher's upload
// handler surface one level down from HTTP.
type Registry struct {
	mu    sync.Mutex
	items map[string]*trackedUpload
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*trackedUpload)}
}

// Begin registers a new upload under id and returns the Control to drive
// it plus a context Cancel will cancel mid-upload.
func (r *Registry) Begin(parent context.Context, id, key, localPath string) (Control, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	t := &trackedUpload{
		info: UploadInfo{
			ID: id, Key: key, LocalPath: localPath,
			State: StateQueued, StartedAt: time.Now(), UpdatedAt: time.Now(),
		},
		cancel: cancel,
	}
	r.mu.Lock()
	r.items[id] = t
	r.mu.Unlock()
	return t, ctx
}

// Finish records the terminal state of a tracked upload; it is not removed
// from the registry so a client can still observe completion/failure.
func (r *Registry) Finish(id string, err error) {
	r.mu.Lock()
	t := r.items[id]
	r.mu.Unlock()
	if t == nil {
		return
	}
	t.mu.Lock()
	if err != nil && errors.Is(err, context.Canceled) {
		t.info.State = StateCancelled
	} else if err != nil {
		t.info.State = StateFailed
		t.info.Error = err.Error()
	} else {
		t.info.State = StateCompleted
		t.info.Progress = 1
	}
	t.info.UpdatedAt = time.Now()
	t.mu.Unlock()
}

func (r *Registry) List() []*UploadInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*UploadInfo, 0, len(r.items))
	for _, t := range r.items {
		t.mu.Lock()
		info := t.info
		t.mu.Unlock()
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *Registry) Get(id string) (*UploadInfo, error) {
	r.mu.Lock()
	t := r.items[id]
	r.mu.Unlock()
	if t == nil {
		return nil, ErrUploadNotFound
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.info
	return &info, nil
}

func (r *Registry) Pause(id string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.paused = true
	t.info.State = StatePaused
	t.info.UpdatedAt = time.Now()
	t.mu.Unlock()
	return nil
}

func (r *Registry) Resume(id string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.paused = false
	t.info.State = StateUploading
	t.info.UpdatedAt = time.Now()
	t.mu.Unlock()
	return nil
}

// Restart asks the next loop iteration of an in-flight upload to discard
// progress and start its parts over; it does not itself reset the tracked
// byte counters, which Progress updates once the restart takes effect.
func (r *Registry) Restart(id string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.restart = true
	t.paused = false
	t.info.UpdatedAt = time.Now()
	t.mu.Unlock()
	return nil
}

// Cancel cancels the upload's context, interrupting any in-flight part PUT,
// and removes it from the registry.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	t := r.items[id]
	if t != nil {
		delete(r.items, id)
	}
	r.mu.Unlock()
	if t == nil {
		return ErrUploadNotFound
	}
	t.cancel()
	return nil
}

func (r *Registry) lookup(id string) (*trackedUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.items[id]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return t, nil
}
