package session

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the renewal policy.
//
// The defaults mirror the backend's access-token TTL; they are policy, not
// contract, and can be tuned per deployment.
type Config struct {
	// DefaultTTL is the access-token lifetime assumed when the backend does not state one.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// RefreshBuffer is how long before expiry the renewal fires.
	RefreshBuffer time.Duration `yaml:"refresh_buffer"`

	// MinRefreshDelay is the floor on the computed delay.
	MinRefreshDelay time.Duration `yaml:"min_refresh_delay"`
}

// DefaultConfig returns the standard renewal policy.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      15 * time.Minute,
		RefreshBuffer:   60 * time.Second,
		MinRefreshDelay: 30 * time.Second,
	}
}

// Validate rejects non-positive durations. RefreshBuffer may be zero.
func (c Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("%w: default ttl must be positive", ErrConfig)
	}
	if c.RefreshBuffer < 0 {
		return fmt.Errorf("%w: refresh buffer must not be negative", ErrConfig)
	}
	if c.MinRefreshDelay <= 0 {
		return fmt.Errorf("%w: min refresh delay must be positive", ErrConfig)
	}
	return nil
}

// RefreshDelay returns max(expiresIn - RefreshBuffer, MinRefreshDelay).
// A non-positive expiresIn means "unknown" and uses DefaultTTL.
func (c Config) RefreshDelay(expiresIn time.Duration) time.Duration {
	if expiresIn <= 0 {
		expiresIn = c.DefaultTTL
	}
	d := expiresIn - c.RefreshBuffer
	if d < c.MinRefreshDelay {
		return c.MinRefreshDelay
	}
	return d
}

// LoadConfigFromEnv overlays environment variables on base.
//
// Optional (durations must be valid Go duration strings):
//   - TICKETLINE_SESSION_DEFAULT_TTL
//   - TICKETLINE_SESSION_REFRESH_BUFFER
//   - TICKETLINE_SESSION_MIN_REFRESH_DELAY
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv(base Config) (Config, error) {
	cfg := base

	if err := envDuration("TICKETLINE_SESSION_DEFAULT_TTL", &cfg.DefaultTTL); err != nil {
		return Config{}, err
	}
	if err := envDuration("TICKETLINE_SESSION_REFRESH_BUFFER", &cfg.RefreshBuffer); err != nil {
		return Config{}, err
	}
	if err := envDuration("TICKETLINE_SESSION_MIN_REFRESH_DELAY", &cfg.MinRefreshDelay); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envDuration(key string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfig, key, err)
	}
	*dst = d
	return nil
}
