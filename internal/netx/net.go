// Package netx moves bytes to and from presigned object-storage URLs.
package netx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// maxErrorBody bounds how much of an error response is copied into errors.
const maxErrorBody = 4 << 10

// ProgressFunc receives the running byte count of one stream.
type ProgressFunc func(loaded int64)

// ProgressReader counts bytes read through it and reports the running total.
type ProgressReader struct {
	r  io.Reader
	n  atomic.Int64
	fn ProgressFunc
}

// NewProgressReader wraps r. fn may be nil.
func NewProgressReader(r io.Reader, fn ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		total := p.n.Add(int64(n))
		if p.fn != nil {
			p.fn(total)
		}
	}
	return n, err
}

// N returns the number of bytes read so far.
func (p *ProgressReader) N() int64 { return p.n.Load() }

// PutPresigned streams body to a presigned PUT URL. size is sent as the
// Content-Length so storage can reject truncated or oversized bodies.
func PutPresigned(ctx context.Context, client *http.Client, url string, body io.Reader, size int64, contentType string) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}
}

// GetPresigned opens a presigned GET URL. The caller closes the body. The
// returned length is -1 when the server did not announce one.
func GetPresigned(ctx context.Context, client *http.Client, url string) (io.ReadCloser, int64, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, 0, fmt.Errorf("download failed: %s; body: %s", resp.Status, string(b))
	}
	return resp.Body, resp.ContentLength, nil
}
