package state

import (
	"ticketline/cmd/identity"
)

// State is a point-in-time copy of the auth record.
//
// AccessToken and Error use "" for null. IsAuthenticated is true iff User is non-nil.
type State struct {
	User            *identity.User
	AccessToken     string
	IsAuthenticated bool
	IsLoading       bool
	Error           string

	// Version increases by one on every applied change.
	Version uint64
}

// Role returns the user's role mask, or RoleNone when signed out.
func (s State) Role() identity.Role {
	if s.User == nil {
		return identity.RoleNone
	}
	return s.User.Role
}

func (s State) clone() State {
	s.User = s.User.Clone()
	return s
}

func (s State) persisted() Snapshot {
	return Snapshot{
		Version:         snapshotVersion,
		User:            s.User.Clone(),
		AccessToken:     s.AccessToken,
		IsAuthenticated: s.IsAuthenticated,
	}
}

// Public is the subset of State that is safe to expose to UI consumers.
// The access token never leaves the agent.
type Public struct {
	Authenticated bool           `json:"authenticated"`
	Loading       bool           `json:"loading"`
	Error         string         `json:"error,omitempty"`
	User          *identity.User `json:"user"`
	Roles         []string       `json:"roles"`
	Version       uint64         `json:"version"`
}

// Public returns the consumer-facing view of s.
func (s State) Public() Public {
	roles := s.Role().Names()
	if roles == nil {
		roles = []string{}
	}
	return Public{
		Authenticated: s.IsAuthenticated,
		Loading:       s.IsLoading,
		Error:         s.Error,
		User:          s.User.Clone(),
		Roles:         roles,
		Version:       s.Version,
	}
}
