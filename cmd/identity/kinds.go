package identity

import "errors"

// Sentinel error kinds (stable for errors.Is).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrUnknownRole  = errors.New("unknown_role")
	ErrNotActive    = errors.New("not_active")
)
