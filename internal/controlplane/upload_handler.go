package controlplane

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opensync/syftboxd/internal/uploader"
)

// UploadRegistry is the subset of *uploader.Registry the control plane
// drives; satisfied directly by it.
type UploadRegistry interface {
	List() []*uploader.UploadInfo
	Get(id string) (*uploader.UploadInfo, error)
	Pause(id string) error
	Resume(id string) error
	Restart(id string) error
	Cancel(id string) error
}

type uploadHandler struct {
	registry UploadRegistry
	sync     SyncTrigger
}

func newUploadHandler(registry UploadRegistry, sync SyncTrigger) *uploadHandler {
	return &uploadHandler{registry: registry, sync: sync}
}

func (h *uploadHandler) unavailable(c *gin.Context) bool {
	if h.registry == nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeEngineUnavailable, errors.New("upload registry not available"))
		return true
	}
	return false
}

// List handles GET /v1/uploads/.
func (h *uploadHandler) List(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	items := h.registry.List()
	out := make([]UploadInfoResponse, 0, len(items))
	for _, info := range items {
		out = append(out, toUploadInfoResponse(info))
	}
	c.JSON(http.StatusOK, UploadListResponse{Uploads: out})
}

// Get handles GET /v1/uploads/:id.
func (h *uploadHandler) Get(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	id := c.Param("id")
	info, err := h.registry.Get(id)
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, toUploadInfoResponse(info))
}

// Cancel handles DELETE /v1/uploads/:id.
func (h *uploadHandler) Cancel(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	id := c.Param("id")
	if err := h.registry.Cancel(id); err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Pause handles POST /v1/uploads/:id/pause.
func (h *uploadHandler) Pause(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	id := c.Param("id")
	if err := h.registry.Pause(id); err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// Resume handles POST /v1/uploads/:id/resume.
func (h *uploadHandler) Resume(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	id := c.Param("id")
	if err := h.registry.Resume(id); err != nil {
		h.notFoundOr500(c, err)
		return
	}
	if h.sync != nil {
		h.sync.TriggerSync()
	}
	c.JSON(http.StatusOK, gin.H{"status": "uploading"})
}

// Restart handles POST /v1/uploads/:id/restart.
func (h *uploadHandler) Restart(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	id := c.Param("id")
	if err := h.registry.Restart(id); err != nil {
		h.notFoundOr500(c, err)
		return
	}
	if h.sync != nil {
		h.sync.TriggerSync()
	}
	c.JSON(http.StatusOK, gin.H{"status": "restarted"})
}

func (h *uploadHandler) notFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, uploader.ErrUploadNotFound) {
		AbortWithError(c, http.StatusNotFound, ErrCodeUploadNotFound, err)
		return
	}
	AbortWithError(c, http.StatusInternalServerError, ErrCodeUploadFailed, err)
}

func toUploadInfoResponse(info *uploader.UploadInfo) UploadInfoResponse {
	return UploadInfoResponse{
		ID:             info.ID,
		Key:            info.Key,
		LocalPath:      info.LocalPath,
		State:          string(info.State),
		Size:           info.Size,
		UploadedBytes:  info.UploadedBytes,
		PartSize:       info.PartSize,
		PartCount:      info.PartCount,
		CompletedParts: info.CompletedParts,
		Progress:       info.Progress,
		Error:          info.Error,
		StartedAt:      info.StartedAt,
		UpdatedAt:      info.UpdatedAt,
	}
}
