package authapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is returned when the backend rejects the credentials (401/403).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBackend is returned for transport failures and other non-2xx responses.
	ErrBackend = errors.New("backend error")
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d %s", e.Status, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return ErrBackend
}

// IsUnauthorized reports whether err is a rejected credential.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
