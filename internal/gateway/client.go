// Package gateway talks to a tenant's notebook server REST API: kernel
// session reconciliation and the contents store backing notebook
// persistence.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pkt.systems/jovian/internal/retryx"
	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// Config controls a gateway client for one tenant server.
type Config struct {
	// BaseURL is the tenant's server root, e.g.
	// https://hub.example.com/user/alice.
	BaseURL string
	// Token authenticates API requests.
	Token string
	// Retry bounds request retries.
	Retry retryx.Policy
}

// Client is the per-tenant notebook server client.
type Client struct {
	cfg  Config
	http *http.Client
	log  pslog.Logger
}

// NewClient constructs a gateway client.
func NewClient(cfg Config, logger pslog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway base url is required")
	}
	cfg.BaseURL = base
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retryx.DefaultPolicy()
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{cfg: cfg, http: &http.Client{}, log: logger}, nil
}

// apiURL joins path segments below /api. Segments may contain slashes
// (logical paths); each path element is escaped individually.
func (c *Client) apiURL(parts ...string) string {
	elements := make([]string, 0, len(parts))
	for _, part := range parts {
		for _, element := range strings.Split(part, "/") {
			if element == "" {
				continue
			}
			elements = append(elements, url.PathEscape(element))
		}
	}
	return c.cfg.BaseURL + "/api/" + strings.Join(elements, "/")
}

// WebSocketURL returns the kernel channels endpoint for a kernel.
func (c *Client) WebSocketURL(kernel schema.KernelID) string {
	ws := c.cfg.BaseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/api/kernels/" + url.PathEscape(string(kernel)) + "/channels"
}

// Token exposes the auth token for the kernel channel dialer.
func (c *Client) Token() string { return c.cfg.Token }

func (c *Client) do(ctx context.Context, method, target string, body []byte, nonRetryable map[int]bool) (*http.Response, error) {
	op := func(ctx context.Context) (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "token "+c.cfg.Token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.http.Do(req)
	}
	return retryx.Do(ctx, c.cfg.Retry, op, nonRetryable)
}

func decodeInto(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return schema.WrapError(schema.KindProtocol, "decode gateway response", err)
	}
	return nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
