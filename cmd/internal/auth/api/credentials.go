package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ticketline/cmd/internal/auth/state"
	"ticketline/cmd/security/token"
)

const credentialsVersion = 1

// credentialsAAD binds sealed credential blobs to their purpose.
var credentialsAAD = []byte("ticketline.credentials")

type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitzero"`
}

type storedCredentials struct {
	Version int            `json:"version"`
	BaseURL string         `json:"base_url"`
	Cookies []storedCookie `json:"cookies"`
}

// loadCredentials seeds the jar from the credential storage. It reads the
// storage until one read succeeds or finds it empty; a failed read is
// returned and retried on the next call.
func (c *Client) loadCredentials(ctx context.Context) error {
	if c.creds == nil {
		return nil
	}
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.loaded {
		return nil
	}

	b, err := c.creds.Load(ctx)
	if errors.Is(err, state.ErrNoSnapshot) {
		c.loaded = true
		return nil
	}
	if err != nil {
		c.log.Warn("api.credentials.load_fail", "err", err)
		return fmt.Errorf("load credentials: %w", err)
	}
	c.loaded = true

	sc, err := c.decodeCredentials(b)
	if err != nil {
		c.log.Warn("api.credentials.discard", "err", err)
		if err := c.creds.Clear(ctx); err != nil {
			c.log.Warn("api.credentials.clear_fail", "err", err)
		}
		return nil
	}
	if sc.BaseURL != c.base.String() {
		c.log.Info("api.credentials.other_backend", "stored", sc.BaseURL)
		return nil
	}

	now := time.Now()
	cookies := make([]*http.Cookie, 0, len(sc.Cookies))
	for _, s := range sc.Cookies {
		if !s.Expires.IsZero() && !s.Expires.After(now) {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: s.Name, Value: s.Value, Path: s.Path, Expires: s.Expires})
	}
	c.jar.SetCookies(c.base, cookies)
	c.track(c.base, cookies)
	c.log.Debug("api.credentials.loaded", "cookies", len(cookies), "renewal_fp", token.Fingerprint(c.refreshCookie()))
	return nil
}

// saveCredentials writes the tracked cookies, or clears the storage when none remain.
func (c *Client) saveCredentials(ctx context.Context) {
	if c.creds == nil {
		return
	}

	c.mu.Lock()
	sc := storedCredentials{Version: credentialsVersion, BaseURL: c.base.String()}
	for _, ck := range c.tracked {
		sc.Cookies = append(sc.Cookies, storedCookie{Name: ck.Name, Value: ck.Value, Path: ck.Path, Expires: ck.Expires})
	}
	c.mu.Unlock()

	var err error
	if len(sc.Cookies) == 0 {
		err = c.creds.Clear(ctx)
	} else {
		var b []byte
		b, err = c.encodeCredentials(sc)
		if err == nil {
			err = c.creds.Save(ctx, b)
		}
	}
	if err != nil {
		c.log.Error("api.credentials.save_fail", "err", err)
	}
}

func (c *Client) encodeCredentials(sc storedCredentials) ([]byte, error) {
	b, err := json.Marshal(sc)
	if err != nil {
		return nil, err
	}
	if c.sealer == nil {
		return b, nil
	}
	return c.sealer.Seal(b, credentialsAAD)
}

func (c *Client) decodeCredentials(b []byte) (storedCredentials, error) {
	if c.sealer != nil {
		plain, err := c.sealer.Open(b, credentialsAAD)
		if err != nil {
			return storedCredentials{}, err
		}
		b = plain
	}
	var sc storedCredentials
	if err := json.Unmarshal(b, &sc); err != nil {
		return storedCredentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	if sc.Version != credentialsVersion {
		return storedCredentials{}, fmt.Errorf("unsupported credentials version %d", sc.Version)
	}
	return sc, nil
}
