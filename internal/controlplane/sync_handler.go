package controlplane

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opensync/syftboxd/internal/uploader"
)

// SyncTrigger is the subset of *syncengine.Engine the control plane
// drives; satisfied directly by it.
type SyncTrigger interface {
	TriggerSync()
}

type syncHandler struct {
	registry UploadRegistry
	sync     SyncTrigger
}

func newSyncHandler(registry UploadRegistry, sync SyncTrigger) *syncHandler {
	return &syncHandler{registry: registry, sync: sync}
}

// Status handles GET /v1/sync/status: sync status is the upload registry
// reshaped into a files/summary view, not a separate tracker.
func (h *syncHandler) Status(c *gin.Context) {
	var items []*uploader.UploadInfo
	if h.registry != nil {
		items = h.registry.List()
	}

	files := make([]UploadInfoResponse, 0, len(items))
	var summary SyncSummary
	for _, info := range items {
		files = append(files, toUploadInfoResponse(info))
		switch info.State {
		case uploader.StateQueued:
			summary.Pending++
		case uploader.StateUploading, uploader.StatePaused:
			summary.Syncing++
		case uploader.StateCompleted:
			summary.Completed++
		case uploader.StateFailed, uploader.StateCancelled:
			summary.Error++
		}
	}

	c.JSON(http.StatusOK, SyncStatusResponse{Files: files, Summary: summary})
}

// Now handles POST /v1/sync/now.
func (h *syncHandler) Now(c *gin.Context) {
	if h.sync == nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeEngineUnavailable, errors.New("sync engine not available"))
		return
	}
	h.sync.TriggerSync()
	c.JSON(http.StatusOK, gin.H{"status": "sync triggered"})
}
