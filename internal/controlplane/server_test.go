package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensync/syftboxd/internal/uploader"
)

type fakeRegistry struct {
	items map[string]*uploader.UploadInfo
	calls []string
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{items: make(map[string]*uploader.UploadInfo)} }

func (r *fakeRegistry) List() []*uploader.UploadInfo {
	out := make([]*uploader.UploadInfo, 0, len(r.items))
	for _, v := range r.items {
		out = append(out, v)
	}
	return out
}

func (r *fakeRegistry) Get(id string) (*uploader.UploadInfo, error) {
	if v, ok := r.items[id]; ok {
		return v, nil
	}
	return nil, uploader.ErrUploadNotFound
}

func (r *fakeRegistry) Pause(id string) error {
	r.calls = append(r.calls, "pause:"+id)
	if v, ok := r.items[id]; ok {
		v.State = uploader.StatePaused
		return nil
	}
	return uploader.ErrUploadNotFound
}

func (r *fakeRegistry) Resume(id string) error {
	r.calls = append(r.calls, "resume:"+id)
	if v, ok := r.items[id]; ok {
		v.State = uploader.StateUploading
		return nil
	}
	return uploader.ErrUploadNotFound
}

func (r *fakeRegistry) Restart(id string) error {
	r.calls = append(r.calls, "restart:"+id)
	if _, ok := r.items[id]; ok {
		return nil
	}
	return uploader.ErrUploadNotFound
}

func (r *fakeRegistry) Cancel(id string) error {
	r.calls = append(r.calls, "cancel:"+id)
	if _, ok := r.items[id]; ok {
		delete(r.items, id)
		return nil
	}
	return uploader.ErrUploadNotFound
}

type fakeSync struct{ triggered int }

func (f *fakeSync) TriggerSync() { f.triggered++ }

func newTestRouter(registry UploadRegistry, sync SyncTrigger, token string) http.Handler {
	return setupRoutes(&httpStats{}, registry, sync, RouteConfig{Token: token})
}

func TestStatusRequiresNoAuthOnRoot(t *testing.T) {
	r := newTestRouter(nil, nil, "secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET / = %d", w.Code)
	}
}

func TestV1RoutesRejectMissingToken(t *testing.T) {
	r := newTestRouter(nil, nil, "secret")
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestV1RoutesAcceptBearerToken(t *testing.T) {
	r := newTestRouter(nil, nil, "secret")
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestUploadCancelRemovesEntry(t *testing.T) {
	reg := newFakeRegistry()
	reg.items["u1"] = &uploader.UploadInfo{ID: "u1", Key: "a/b.txt", State: uploader.StateUploading}

	r := newTestRouter(reg, nil, "secret")
	req := httptest.NewRequest(http.MethodDelete, "/v1/uploads/u1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := reg.Get("u1"); !errors.Is(err, uploader.ErrUploadNotFound) {
		t.Fatal("expected entry to be removed")
	}
}

func TestUploadCancelUnknownIDReturns404(t *testing.T) {
	reg := newFakeRegistry()
	r := newTestRouter(reg, nil, "secret")
	req := httptest.NewRequest(http.MethodDelete, "/v1/uploads/missing", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUploadResumeTriggersSync(t *testing.T) {
	reg := newFakeRegistry()
	reg.items["u1"] = &uploader.UploadInfo{ID: "u1", State: uploader.StatePaused}
	sync := &fakeSync{}

	r := newTestRouter(reg, sync, "secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/uploads/u1/resume", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if sync.triggered != 1 {
		t.Fatalf("expected sync triggered once, got %d", sync.triggered)
	}
}

func TestSyncStatusBucketsBySyncSummary(t *testing.T) {
	reg := newFakeRegistry()
	reg.items["a"] = &uploader.UploadInfo{ID: "a", State: uploader.StateQueued}
	reg.items["b"] = &uploader.UploadInfo{ID: "b", State: uploader.StateUploading}
	reg.items["c"] = &uploader.UploadInfo{ID: "c", State: uploader.StateCompleted}
	reg.items["d"] = &uploader.UploadInfo{ID: "d", State: uploader.StateFailed}

	r := newTestRouter(reg, nil, "secret")
	req := httptest.NewRequest(http.MethodGet, "/v1/sync/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp SyncStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.Pending != 1 || resp.Summary.Syncing != 1 || resp.Summary.Completed != 1 || resp.Summary.Error != 1 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}
}

func TestSyncNowReturns503WithoutEngine(t *testing.T) {
	r := newTestRouter(nil, nil, "secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/now", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
