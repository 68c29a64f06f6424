// Package hub manages the per-tenant remote server lifecycle against a
// hub-style REST API: user provisioning, server start requests, and the
// cold-start progress event stream.
package hub

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

	"pkt.systems/jovian/internal/logx"
	"pkt.systems/jovian/internal/retryx"
	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// DefaultIdleTimeout bounds the wait for the next progress event before the
// stream is treated as wedged.
const DefaultIdleTimeout = 60 * time.Second

// Config controls the hub client.
type Config struct {
	// BaseURL is the hub host root, e.g. https://hub.example.com.
	BaseURL string
	// Token authenticates API requests.
	Token string
	// IdleTimeout aborts a progress stream that stops emitting.
	IdleTimeout time.Duration
	// Retry bounds request retries.
	Retry retryx.Policy
}

// Client talks to the hub REST API.
type Client struct {
	cfg  Config
	http *http.Client
	log  pslog.Logger
}

// NewClient constructs a hub client.
func NewClient(cfg Config, logger pslog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("hub base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("hub base url must include scheme and host: %q", cfg.BaseURL)
	}
	cfg.BaseURL = base
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retryx.DefaultPolicy()
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
		log:  logger,
	}, nil
}

// apiURL joins a path below /hub/api.
func (c *Client) apiURL(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, part := range parts {
		escaped = append(escaped, url.PathEscape(part))
	}
	return c.cfg.BaseURL + "/hub/api/" + strings.Join(escaped, "/")
}

// UserServerURL returns the notebook server root for a tenant.
func (c *Client) UserServerURL(tenant schema.TenantID) string {
	return c.cfg.BaseURL + "/user/" + url.PathEscape(string(tenant))
}

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

func decodeUser(resp *http.Response) (schema.UserRecord, error) {
	defer resp.Body.Close()
	var user schema.UserRecord
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return schema.UserRecord{}, schema.WrapError(schema.KindProtocol, "decode user record", err)
	}
	return user, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// GetOrCreateUser fetches the tenant's hub user, creating it on first use.
// A concurrent create by another actor is tolerated: a conflict on create
// resolves by re-fetching the record.
func (c *Client) GetOrCreateUser(ctx context.Context, tenant schema.TenantID) (schema.UserRecord, error) {
	log := logx.WithTenant(ctx, tenant)
	target := c.apiURL("users", string(tenant))

	resp, err := c.do(ctx, http.MethodGet, target, nil, map[int]bool{
		http.StatusOK:       true,
		http.StatusNotFound: true,
	})
	if err != nil {
		return schema.UserRecord{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return decodeUser(resp)
	case http.StatusNotFound:
		discard(resp)
	default:
		discard(resp)
		return schema.UserRecord{}, schema.NewError(schema.KindProtocol, fmt.Sprintf("user lookup returned status %d", resp.StatusCode))
	}

	log.Info("creating hub user")
	resp, err = c.do(ctx, http.MethodPost, target, []byte("{}"), map[int]bool{
		http.StatusCreated:  true,
		http.StatusConflict: true,
	})
	if err != nil {
		return schema.UserRecord{}, err
	}
	switch resp.StatusCode {
	case http.StatusCreated:
		return decodeUser(resp)
	case http.StatusConflict:
		// Lost the creation race; the record exists now.
		discard(resp)
		log.Debug("hub user created concurrently")
		resp, err = c.do(ctx, http.MethodGet, target, nil, map[int]bool{http.StatusOK: true})
		if err != nil {
			return schema.UserRecord{}, err
		}
		if resp.StatusCode != http.StatusOK {
			discard(resp)
			return schema.UserRecord{}, schema.NewError(schema.KindProtocol, fmt.Sprintf("user re-fetch returned status %d", resp.StatusCode))
		}
		return decodeUser(resp)
	default:
		discard(resp)
		return schema.UserRecord{}, schema.NewError(schema.KindProtocol, fmt.Sprintf("user create returned status %d", resp.StatusCode))
	}
}

// RequestStart asks the hub to start the tenant's default server. When the
// user record already shows a ready server, no request is made.
func (c *Client) RequestStart(ctx context.Context, user schema.UserRecord) (schema.ServerState, error) {
	log := logx.WithTenant(ctx, user.Name)
	if user.HasReadyServer() {
		log.Debug("server already ready, skipping start request")
		return schema.ServerState{Phase: schema.ServerReady, Endpoint: c.UserServerURL(user.Name)}, nil
	}

	resp, err := c.do(ctx, http.MethodPost, c.apiURL("users", string(user.Name), "server"), []byte("{}"), map[int]bool{
		http.StatusCreated:    true,
		http.StatusAccepted:   true,
		http.StatusBadRequest: true,
	})
	if err != nil {
		return schema.ServerState{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		log.Info("server started immediately")
		return schema.ServerState{Phase: schema.ServerReady, Endpoint: c.UserServerURL(user.Name)}, nil
	case http.StatusAccepted:
		log.Info("server start pending")
		return schema.ServerState{Phase: schema.ServerStarting, Message: "server starting"}, nil
	case http.StatusBadRequest:
		reason := readReason(resp.Body)
		log.Warn("server start rejected", "reason", reason)
		return schema.ServerState{Phase: schema.ServerFailed, Reason: reason}, nil
	default:
		return schema.ServerState{}, schema.NewError(schema.KindProtocol, fmt.Sprintf("server start returned status %d", resp.StatusCode))
	}
}

func readReason(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}

// EnsureReady drives the full lifecycle for a tenant: user provisioning,
// start request, and the progress stream when the server is cold-starting.
// onProgress, when non-nil, observes every progress event.
func (c *Client) EnsureReady(ctx context.Context, tenant schema.TenantID, onProgress func(schema.ProgressEvent)) (schema.ServerState, error) {
	log := logx.WithTenant(ctx, tenant)

	user, err := c.GetOrCreateUser(ctx, tenant)
	if err != nil {
		return schema.ServerState{}, err
	}
	state, err := c.RequestStart(ctx, user)
	if err != nil {
		return schema.ServerState{}, err
	}
	if state.Phase != schema.ServerStarting {
		return state, nil
	}

	stream, err := c.StreamProgress(ctx, tenant)
	if err != nil {
		return schema.ServerState{}, err
	}
	defer stream.Close()

	for {
		event, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			// Terminal event never arrived; treat as a failed attempt.
			log.Warn("progress stream ended without terminal event")
			return schema.ServerState{Phase: schema.ServerFailed, Reason: "progress stream ended early"}, nil
		}
		if err != nil {
			return schema.ServerState{}, err
		}
		if onProgress != nil {
			onProgress(event)
		}
		log.Debug("server progress", "progress", event.Progress, "message", event.Message)
		if event.Failed {
			return schema.ServerState{Phase: schema.ServerFailed, Progress: event.Progress, Reason: event.Message}, nil
		}
		if event.Ready {
			log.Info("server ready")
			return schema.ServerState{Phase: schema.ServerReady, Progress: event.Progress, Endpoint: c.UserServerURL(tenant)}, nil
		}
	}
}
