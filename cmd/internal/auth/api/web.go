package authapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// The renewal credential is the backend's HttpOnly refresh cookie. The
// backend also sets a CSRF cookie that must be echoed in a header on
// cookie-authenticated calls (double submit).

func (c *Client) cookieValue(name string) string {
	if name == "" {
		return ""
	}
	for _, ck := range c.jar.Cookies(c.endpoint(pathRefresh)) {
		if ck.Name == name {
			return strings.TrimSpace(ck.Value)
		}
	}
	return ""
}

func (c *Client) refreshCookie() string { return c.cookieValue(c.cfg.RefreshCookieName) }

func (c *Client) csrfToken() string { return c.cookieValue(c.cfg.CSRFCookieName) }

func (c *Client) setCSRFHeader(req *http.Request) {
	if c.cfg.CSRFHeaderName == "" {
		return
	}
	if v := c.csrfToken(); v != "" {
		req.Header.Set(c.cfg.CSRFHeaderName, v)
	}
}

func (c *Client) trackedName(name string) bool {
	return name == c.cfg.RefreshCookieName || (name != "" && name == c.cfg.CSRFCookieName)
}

// track remembers the full Set-Cookie for the renewal and CSRF cookies so
// they can be persisted and expired locally with the right path.
// It reports whether anything changed.
func (c *Client) track(reqURL *url.URL, cookies []*http.Cookie) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, ck := range cookies {
		if !c.trackedName(ck.Name) {
			continue
		}
		if ck.MaxAge < 0 || ck.Value == "" || (!ck.Expires.IsZero() && !ck.Expires.After(time.Now())) {
			if _, ok := c.tracked[ck.Name]; ok {
				delete(c.tracked, ck.Name)
				changed = true
			}
			continue
		}
		cp := *ck
		if !strings.HasPrefix(cp.Path, "/") {
			cp.Path = defaultCookiePath(reqURL.Path)
		}
		c.tracked[ck.Name] = &cp
		changed = true
	}
	return changed
}

// expireLocal drops the renewal and CSRF cookies from the jar.
func (c *Client) expireLocal() {
	c.mu.Lock()
	var expired []*http.Cookie
	for name, ck := range c.tracked {
		expired = append(expired, &http.Cookie{Name: name, Path: ck.Path, MaxAge: -1})
	}
	c.tracked = make(map[string]*http.Cookie)
	c.mu.Unlock()

	for _, name := range []string{c.cfg.RefreshCookieName, c.cfg.CSRFCookieName} {
		if name != "" {
			expired = append(expired, &http.Cookie{Name: name, Path: "/", MaxAge: -1})
		}
	}
	c.jar.SetCookies(c.base, expired)
}

// defaultCookiePath is the RFC 6265 default-path of a request path.
func defaultCookiePath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
