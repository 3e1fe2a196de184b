package token

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// StateKeyEnv is the env var name for the snapshot sealing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	StateKeyEnv = "TICKETLINE_STATE_KEY"

	// MinStateKeyBytes is the minimum secret size accepted for sealing.
	MinStateKeyBytes = 32

	fingerprintLen = 12
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short SHA-256 prefix of a token, safe to log.
// Empty tokens fingerprint to "".
func Fingerprint(tok string) string {
	if tok == "" {
		return ""
	}
	return HashSHA256Hex(tok)[:fingerprintLen]
}

// StateKeyFromEnv returns the configured sealing secret (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrKeyMissing.
// If too short -> ErrKeyTooShort.
func StateKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(StateKeyEnv))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}
