package controlplane

import "time"

const (
	ErrCodeBadRequest        = "ERR_BAD_REQUEST"
	ErrCodeUnknownError      = "ERR_UNKNOWN_ERROR"
	ErrCodeUploadNotFound    = "ERR_UPLOAD_NOT_FOUND"
	ErrCodeUploadFailed      = "ERR_UPLOAD_FAILED"
	ErrCodeEngineUnavailable = "ERR_ENGINE_UNAVAILABLE"
)

// ControlPlaneError is the JSON body of every non-2xx response.
type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

type runtimeHTTP struct {
	BytesSentTotal int64  `json:"bytes_sent_total"`
	BytesRecvTotal int64  `json:"bytes_recv_total"`
	LastError      string `json:"last_error,omitempty"`
}

type runtimeInfo struct {
	HTTP runtimeHTTP `json:"http"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"ts"`
	Version   string      `json:"version"`
	Revision  string      `json:"revision"`
	BuildDate string      `json:"buildDate"`
	Runtime   runtimeInfo `json:"runtime"`
}

// UploadInfoResponse mirrors uploader.UploadInfo for the wire.
type UploadInfoResponse struct {
	ID             string    `json:"id"`
	Key            string    `json:"key"`
	LocalPath      string    `json:"localPath"`
	State          string    `json:"state"`
	Size           int64     `json:"size"`
	UploadedBytes  int64     `json:"uploadedBytes"`
	PartSize       int64     `json:"partSize,omitempty"`
	PartCount      int       `json:"partCount,omitempty"`
	CompletedParts []int     `json:"completedParts,omitempty"`
	Progress       float64   `json:"progress"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// UploadListResponse is the body of GET /v1/uploads/.
type UploadListResponse struct {
	Uploads []UploadInfoResponse `json:"uploads"`
}

// SyncSummary buckets upload entries into the four sync-status counts.
type SyncSummary struct {
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Completed int `json:"completed"`
	Error     int `json:"error"`
}

// SyncStatusResponse is the body of GET /v1/sync/status.
type SyncStatusResponse struct {
	Files   []UploadInfoResponse `json:"files"`
	Summary SyncSummary          `json:"summary"`
}
