package authapi

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned for invalid client configuration.
var ErrConfig = errors.New("invalid backend config")

// Config controls how the agent talks to the booking backend.
type Config struct {
	BaseURL string `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// MaxBodyBytes caps response bodies read from the backend.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	UserAgent    string `yaml:"user_agent"`

	RefreshCookieName string `yaml:"refresh_cookie_name"`
	CSRFCookieName    string `yaml:"csrf_cookie_name"`
	CSRFHeaderName    string `yaml:"csrf_header_name"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://127.0.0.1:8080",
		Timeout:           10 * time.Second,
		MaxBodyBytes:      1 << 20, // 1 MiB
		UserAgent:         "ticketline-agent",
		RefreshCookieName: "refresh_token",
		CSRFCookieName:    "csrf_token",
		CSRFHeaderName:    "X-CSRF-Token",
	}
}

// LoadConfigFromEnv overlays environment variables on base.
//
// Optional:
//   - TICKETLINE_BACKEND_URL
//   - TICKETLINE_BACKEND_TIMEOUT
//   - TICKETLINE_BACKEND_MAX_BODY_BYTES
//   - TICKETLINE_REFRESH_COOKIE_NAME
//   - TICKETLINE_CSRF_COOKIE_NAME
//   - TICKETLINE_CSRF_HEADER_NAME
func LoadConfigFromEnv(base Config) (Config, error) {
	cfg := base
	cfg.BaseURL = envString("TICKETLINE_BACKEND_URL", cfg.BaseURL)
	cfg.Timeout = envDuration("TICKETLINE_BACKEND_TIMEOUT", cfg.Timeout)
	cfg.MaxBodyBytes = envInt64("TICKETLINE_BACKEND_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.RefreshCookieName = envString("TICKETLINE_REFRESH_COOKIE_NAME", cfg.RefreshCookieName)
	cfg.CSRFCookieName = envString("TICKETLINE_CSRF_COOKIE_NAME", cfg.CSRFCookieName)
	cfg.CSRFHeaderName = envString("TICKETLINE_CSRF_HEADER_NAME", cfg.CSRFHeaderName)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the base URL and cookie settings.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: backend url must be an absolute http(s) url", ErrConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrConfig)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	}
	if strings.TrimSpace(c.RefreshCookieName) == "" {
		return fmt.Errorf("%w: refresh cookie name is required", ErrConfig)
	}
	if c.CSRFCookieName != "" && c.CSRFCookieName == c.RefreshCookieName {
		return fmt.Errorf("%w: csrf cookie name must differ from refresh cookie name", ErrConfig)
	}
	return nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
