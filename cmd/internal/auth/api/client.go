package authapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ticketline/cmd/internal/auth/session"
	"ticketline/cmd/internal/auth/state"
	"ticketline/cmd/security/token"
)

const (
	pathLogin   = "/auth/login"
	pathRefresh = "/auth/refresh"
	pathLogout  = "/auth/logout"

	// RequestIDHeader carries a per-call id the backend can log.
	RequestIDHeader = "X-Request-ID"

	platformWeb = "web"
)

// Client is the booking backend as session.Backend.
type Client struct {
	log    *slog.Logger
	cfg    Config
	base   *url.URL
	http   *http.Client
	jar    *cookiejar.Jar
	creds  state.Storage
	sealer *token.Sealer

	// loadMu serializes credential loads; loaded is set once the storage
	// has been read successfully or found empty.
	loadMu sync.Mutex
	loaded bool

	mu      sync.Mutex
	tracked map[string]*http.Cookie
}

var _ session.Backend = (*Client)(nil)

// ClientOption configures optional Client dependencies.
type ClientOption func(*Client)

// WithCredentialStorage persists the renewal credential across restarts.
// A non-nil sealer encrypts it at rest.
func WithCredentialStorage(st state.Storage, sealer *token.Sealer) ClientOption {
	return func(c *Client) {
		c.creds = st
		c.sealer = sealer
	}
}

// WithTransport overrides the HTTP transport (tests, proxies).
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		if rt != nil {
			c.http.Transport = rt
		}
	}
}

// NewClient builds a backend client with its own cookie jar.
func NewClient(log *slog.Logger, cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		log:     log,
		cfg:     cfg,
		base:    base,
		jar:     jar,
		http:    &http.Client{Jar: jar, Timeout: cfg.Timeout},
		tracked: make(map[string]*http.Cookie),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(p string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + p
	return &u
}

// HasRenewalCredential reports whether the refresh cookie is held. No network
// call is made. A failed credential-storage read is returned, not reported as absent.
func (c *Client) HasRenewalCredential(ctx context.Context) (bool, error) {
	if err := c.loadCredentials(ctx); err != nil {
		return false, err
	}
	return c.refreshCookie() != "", nil
}

// RenewalCredential returns the refresh cookie value.
func (c *Client) RenewalCredential(ctx context.Context) (string, error) {
	if err := c.loadCredentials(ctx); err != nil {
		return "", err
	}
	v := c.refreshCookie()
	if v == "" {
		return "", session.ErrNoRenewalCredential
	}
	return v, nil
}

// Login authenticates with email and password. The backend sets the refresh cookie.
func (c *Client) Login(ctx context.Context, email, password string) (session.Grant, error) {
	// A stored credential is replaced by the one this login issues.
	_ = c.loadCredentials(ctx)
	var out grantResponse
	req := loginRequest{Email: strings.TrimSpace(email), Password: password, Platform: platformWeb}
	if err := c.do(ctx, http.MethodPost, pathLogin, req, &out); err != nil {
		return session.Grant{}, err
	}
	// The jar now holds the fresh credential; a later load must not replace it.
	c.loadMu.Lock()
	c.loaded = true
	c.loadMu.Unlock()
	return toGrant(out), nil
}

// Renew exchanges the refresh cookie for a new access token. A rejected
// credential is dropped locally.
func (c *Client) Renew(ctx context.Context) (session.Grant, error) {
	ok, err := c.HasRenewalCredential(ctx)
	if err != nil {
		return session.Grant{}, err
	}
	if !ok {
		return session.Grant{}, session.ErrNoRenewalCredential
	}

	var out grantResponse
	err = c.do(ctx, http.MethodPost, pathRefresh, struct{}{}, &out)
	if IsUnauthorized(err) {
		c.expireLocal()
		c.saveCredentials(ctx)
	}
	if err != nil {
		return session.Grant{}, err
	}
	return toGrant(out), nil
}

// RevokeRenewalCredential logs out on the backend and drops the local
// cookies regardless of the outcome. Without a credential it does nothing.
func (c *Client) RevokeRenewalCredential(ctx context.Context) error {
	ok, err := c.HasRenewalCredential(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	err = c.do(ctx, http.MethodPost, pathLogout, struct{}{}, nil)
	c.expireLocal()
	c.saveCredentials(ctx)
	if IsUnauthorized(err) {
		// Already invalid on the backend.
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	u := c.endpoint(p)
	rd, err := marshalBody(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrBackend, method, p, err)
	}

	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, reqID)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if p != pathLogin {
		c.setCSRFHeader(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("api.request.fail", "method", method, "path", p, "request_id", reqID, "err", err)
		return fmt.Errorf("%w: %s %s: %w", ErrBackend, method, p, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
		_ = resp.Body.Close()
	}()

	if c.track(u, resp.Cookies()) {
		c.log.Debug("api.credentials.tracked", "path", p, "renewal_fp", token.Fingerprint(c.refreshCookie()))
		c.saveCredentials(ctx)
	}

	c.log.Debug("api.request",
		"method", method,
		"path", p,
		"status", resp.StatusCode,
		"request_id", reqID,
		"dur_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, c.cfg.MaxBodyBytes)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := decodeJSON(resp.Body, c.cfg.MaxBodyBytes, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrBackend, p, err)
	}
	return nil
}
