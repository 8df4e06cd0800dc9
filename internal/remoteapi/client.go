// Package remoteapi is the daemon's typed HTTP client for the remote
// keyspace: list, presign-download, single and multipart upload. A failed
// request records its error as the last error in Telemetry. The byte
// counters cover upload bodies (UploadSingle, PutPart) as bytes sent and
// the ListDatasite response as bytes received; other request and response
// bodies are not counted.
package remoteapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
)

const (
	pathHealthz          = "/v1/healthz"
	pathListDatasite     = "/v1/datasite/view"
	pathPresignDownload  = "/v1/blob/download"
	pathUploadSingle     = "/v1/blob/upload"
	pathMultipartUpload  = "/v1/blob/upload/multipart"
	pathMultipartComplete = "/v1/blob/upload/multipart/complete"
	pathMultipartAbort   = "/v1/blob/upload/multipart/abort"

	// SingleUploadThreshold is the largest file size uploaded via a single
	// synchronous PUT before the uploader switches to resumable multipart.
	SingleUploadThreshold = 32 * 1024 * 1024
)

// Client is a thin typed wrapper over the server's HTTP API.
type Client struct {
	http      *req.Client
	telemetry *Telemetry
}

// New builds a Client bound to baseURL, authenticating with bearer.
func New(baseURL, email, bearer string) *Client {
	c := req.C().
		SetBaseURL(baseURL).
		SetTLSClientConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(time.Second).
		SetCommonHeader("Authorization", "Bearer "+bearer).
		SetCommonQueryParam("user", email).
		SetCommonErrorResult(&APIError{})

	return &Client{http: c, telemetry: NewTelemetry()}
}

// SetBearer replaces the bearer credential used on future requests, e.g.
// after a refresh-token exchange clears a stale access token.
func (c *Client) SetBearer(bearer string) {
	c.http.SetCommonHeader("Authorization", "Bearer "+bearer)
}

// Telemetry exposes the running byte/error counters.
func (c *Client) Telemetry() *Telemetry {
	return c.telemetry
}

// APIError is the common server error shape.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func handleError(resp *req.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Message != "" {
			return apiErr
		}
		return fmt.Errorf("remoteapi: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Healthz gates daemon startup: it is retried by the caller, not here.
func (c *Client) Healthz(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(pathHealthz)
	if err := handleError(resp, err); err != nil {
		c.telemetry.recordError(err)
		return fmt.Errorf("healthz: %w", err)
	}
	return nil
}

// FileRecord is one remote file as returned by ListDatasite/PresignDownloads.
type FileRecord struct {
	Key          string    `json:"key"`
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// ListDatasite returns every file record the caller can see for owner.
func (c *Client) ListDatasite(ctx context.Context, owner string) ([]FileRecord, error) {
	var out struct {
		Files []FileRecord `json:"files"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("datasite", owner).
		SetSuccessResult(&out).
		Get(pathListDatasite)
	if err := handleError(resp, err); err != nil {
		c.telemetry.recordError(err)
		return nil, fmt.Errorf("list datasite %s: %w", owner, err)
	}
	c.telemetry.recordRecv(resp.ContentLength)
	return out.Files, nil
}

// PresignDownloads resolves download URLs for a batch of keys.
func (c *Client) PresignDownloads(ctx context.Context, keys []string) (map[string]string, error) {
	var out struct {
		URLs map[string]string `json:"urls"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"keys": keys}).
		SetSuccessResult(&out).
		Post(pathPresignDownload)
	if err := handleError(resp, err); err != nil {
		c.telemetry.recordError(err)
		return nil, fmt.Errorf("presign downloads: %w", err)
	}
	return out.URLs, nil
}
