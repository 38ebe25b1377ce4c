// Package http implements share.Client against the sharing service REST
// API. Share posts to {base}/v1/shares and Get reads {base}/v1/shares/{id};
// transient failures are retried with backoff.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/retry"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/share"
)

type (
	// Options configures a Client.
	Options struct {
		// BaseURL of the sharing service. Required.
		BaseURL string
		// HTTPClient defaults to a client with a 10s timeout.
		HTTPClient *http.Client
		// Retry defaults to retry.DefaultConfig.
		Retry *retry.Config
	}

	// Client is a share.Client over HTTP.
	Client struct {
		base  *url.URL
		http  *http.Client
		retry retry.Config
	}

	shareResponse struct {
		ID string `json:"id"`
	}
)

var _ share.Client = (*Client)(nil)

// New returns a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("share service url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse share service url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	cfg := retry.DefaultConfig()
	if opts.Retry != nil {
		cfg = *opts.Retry
	}
	return &Client{base: base, http: hc, retry: cfg}, nil
}

// Share implements share.Client.
func (c *Client) Share(ctx context.Context, req share.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode share request: %w", err)
	}
	var resp shareResponse
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, c.base.JoinPath("v1", "shares").String(), body, &resp)
	})
	if err != nil {
		return "", fmt.Errorf("share conversation: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("share service returned no id")
	}
	return resp.ID, nil
}

// Get implements share.Client.
func (c *Client) Get(ctx context.Context, shareID string) (share.Shared, error) {
	if shareID == "" {
		return share.Shared{}, errors.New("share id is required")
	}
	var out share.Shared
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, c.base.JoinPath("v1", "shares", shareID).String(), nil, &out)
	})
	var statusErr *retry.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return share.Shared{}, share.ErrNotFound
	}
	if err != nil {
		return share.Shared{}, fmt.Errorf("get shared conversation: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
