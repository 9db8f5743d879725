package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/logging"
)

const (
	pathNegotiate = "/api/v1/uploads"
	pathFinalize  = "/api/v1/uploads/finalize"
	pathCancel    = "/api/v1/uploads/cancel"
	pathDownloads = "/api/v1/downloads"

	// DefaultTimeout bounds one control-plane call.
	DefaultTimeout = 30 * time.Second

	maxResponseBody = 1 << 20
)

type Client struct {
	baseURL     string
	http        *http.Client
	accessToken string
	logger      logging.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithAccessToken sends token as a bearer credential; the server derives
// the caller tier from it.
func WithAccessToken(token string) Option { return func(c *Client) { c.accessToken = token } }

func WithLogger(l logging.Logger) Option { return func(c *Client) { c.logger = l } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  logging.Nop{},
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("module", "api")
	return c
}

func (c *Client) Negotiate(ctx context.Context, req bundle.NegotiateRequest) (*bundle.NegotiateResponse, error) {
	var resp bundle.NegotiateResponse
	if err := c.post(ctx, pathNegotiate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Finalize(ctx context.Context, req bundle.FinalizeRequest) (*bundle.FinalizeResponse, error) {
	var resp bundle.FinalizeResponse
	if err := c.post(ctx, pathFinalize, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Cancel(ctx context.Context, req bundle.CancelRequest) error {
	return c.post(ctx, pathCancel, req, nil)
}

func (c *Client) ReadLocations(ctx context.Context, req bundle.ReadLocationsRequest) (*bundle.ReadLocationsResponse, error) {
	var resp bundle.ReadLocationsResponse
	if err := c.post(ctx, pathDownloads, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := sonic.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: read response: %v", common.ErrNetwork, err)
	}
	c.logger.Debug(ctx, "control plane call", "path", path, "status", resp.StatusCode)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return &RejectedError{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

func decodeError(resp *http.Response, body []byte) error {
	var er bundle.ErrorResponse
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &er); err != nil {
			er.Error = strings.TrimSpace(string(body))
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		rl := &RateLimitedError{Message: er.Error}
		rl.RetryAfter = time.Duration(er.RetryAfter) * time.Second
		if rl.RetryAfter == 0 {
			rl.RetryAfter = parseRetryAfter(resp.Header.Get(common.RetryAfterHeaderName), time.Now())
		}
		if er.Remaining != nil {
			rl.Remaining = *er.Remaining
		} else if v, err := strconv.Atoi(resp.Header.Get(common.RateLimitRemainingHeaderName)); err == nil {
			rl.Remaining = v
		}
		return rl
	}
	return &RejectedError{StatusCode: resp.StatusCode, Message: er.Error}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now).Round(time.Second)
	}
	return 0
}
