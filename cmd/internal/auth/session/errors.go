package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrNoRenewalCredential is returned when no renewal credential is held.
	ErrNoRenewalCredential = errors.New("no renewal credential")

	// ErrInvalidGrant is returned when the backend answers with an unusable grant.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrRenewalInFlight is returned by Scheduler.Fire when a renewal is already running.
	ErrRenewalInFlight = errors.New("renewal already in flight")

	// ErrSessionCleared is returned when the session was cleared while a renewal was running.
	// The renewal result is discarded.
	ErrSessionCleared = errors.New("session cleared during renewal")
)

// PanicError wraps a panic recovered at the coordinator/scheduler boundary.
type PanicError struct {
	Op    string
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", e.Op, e.Value)
}
