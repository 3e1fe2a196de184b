package identity

import "strings"

// Status is the account status reported by the backend.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusVerified  Status = "verified"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusVerified:
		return true
	default:
		return false
	}
}

// CanSignIn reports whether the status permits an authenticated session.
func (s Status) CanSignIn() bool {
	return s == StatusActive || s == StatusVerified
}

// ParseStatus parses a status case-insensitively.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", invalid("identity.ParseStatus", "unknown status "+v)
	}
	return s, nil
}
