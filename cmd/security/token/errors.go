package token

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("state key missing")
	ErrKeyTooShort = errors.New("state key too short")
	ErrUnseal      = errors.New("sealed payload rejected")
	ErrNoExpiry    = errors.New("token carries no expiry")
)
