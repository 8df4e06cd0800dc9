package remoteapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// UploadSingle PUTs the whole file at localPath for key. Used below
// SingleUploadThreshold.
func (c *Client) UploadSingle(ctx context.Context, key, localPath string) (etag string, err error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("upload single: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("upload single: stat: %w", err)
	}

	body := io.Reader(f)
	body = &countingReader{r: f, onRead: c.telemetry.recordSend}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetContentLength(true).
		SetBody(body).
		SetQueryParam("key", key).
		SetQueryParam("size", fmt.Sprintf("%d", info.Size())).
		Put(pathUploadSingle)
	if err := handleError(resp, err); err != nil {
		c.telemetry.recordError(err)
		return "", fmt.Errorf("upload single %s: %w", key, err)
	}

	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// MultipartResponse is the server's answer to a multipart-init-or-urls call.
type MultipartResponse struct {
	UploadID  string           `json:"uploadId"`
	PartSize  int64            `json:"partSize"`
	PartCount int              `json:"partCount"`
	URLs      map[int]string   `json:"urls"`
}

// MultipartInitOrURLs initializes (if uploadID == "") or continues a
// multipart upload, requesting presigned URLs for partNumbers.
func (c *Client) MultipartInitOrURLs(ctx context.Context, key string, size, partSize int64, uploadID string, partNumbers []int) (*MultipartResponse, error) {
	var out MultipartResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"key":         key,
			"size":        size,
			"partSize":    partSize,
			"uploadId":    uploadID,
			"partNumbers": partNumbers,
		}).
		SetSuccessResult(&out).
		Post(pathMultipartUpload)
	if err := handleError(resp, err); err != nil {
		c.telemetry.recordError(err)
		return nil, fmt.Errorf("multipart init/urls %s: %w", key, err)
	}
	if out.UploadID == "" || len(out.URLs) == 0 {
		return nil, fmt.Errorf("multipart init/urls %s: empty response", key)
	}
	return &out, nil
}

// CompletedPart is one finished part, submitted to MultipartComplete.
type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// MultipartComplete submits the final commit carrying every part's ETag.
func (c *Client) MultipartComplete(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"key": key, "uploadId": uploadID, "parts": parts}).
		Post(pathMultipartComplete)
	if err := handleError(resp, err); err != nil {
		c.telemetry.recordError(err)
		return fmt.Errorf("multipart complete %s: %w", key, err)
	}
	return nil
}

// MultipartAbort cancels an in-progress multipart upload. Exposed but never
// invoked automatically: a live upload_id is recoverable on the next run.
func (c *Client) MultipartAbort(ctx context.Context, key, uploadID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"key": key, "uploadId": uploadID}).
		Post(pathMultipartAbort)
	err = handleError(resp, err)
	c.telemetry.recordError(err)
	return err
}

// PutPart uploads one part's bytes to a presigned URL with the given
// per-part timeout, returning the server's ETag (quotes trimmed, falling
// back to "<n>-<size>" when the server omits one).
func (c *Client) PutPart(ctx context.Context, url string, partNumber int, body io.Reader, size int64, timeout time.Duration) (string, error) {
	partCtx := ctx
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		partCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	countedBody := &countingReader{r: body.(interface{ Read([]byte) (int, error) }), onRead: c.telemetry.recordSend}

	req, err := http.NewRequestWithContext(partCtx, http.MethodPut, url, countedBody)
	if err != nil {
		return "", fmt.Errorf("put part %d: %w", partNumber, err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.telemetry.recordError(err)
		return "", fmt.Errorf("put part %d: %w", partNumber, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		err := fmt.Errorf("put part %d: status %d", partNumber, resp.StatusCode)
		c.telemetry.recordError(err)
		return "", err
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		etag = fmt.Sprintf("%d-%d", partNumber, size)
	}
	return etag, nil
}
