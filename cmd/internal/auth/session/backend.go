package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticketline/cmd/identity"
)

// Grant is what the backend returns on login and renewal.
type Grant struct {
	AccessToken string
	User        identity.User
	// ExpiresIn is the access-token lifetime; zero means "not stated".
	ExpiresIn time.Duration
}

func (g Grant) validate() error {
	if strings.TrimSpace(g.AccessToken) == "" {
		return fmt.Errorf("%w: empty access token", ErrInvalidGrant)
	}
	if err := g.User.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if g.User.Status != "" && !g.User.Status.CanSignIn() {
		return fmt.Errorf("%w: %w", ErrInvalidGrant, identity.OpError{
			Op:   "session.Grant",
			Kind: identity.ErrNotActive,
			Msg:  string(g.User.Status),
		})
	}
	return nil
}

// Backend is the booking REST backend as seen by the coordinator.
// The renewal credential itself is held by the backend client (a server-set
// cookie); the coordinator only asks about it.
type Backend interface {
	// HasRenewalCredential reports whether a renewal credential is held.
	HasRenewalCredential(ctx context.Context) (bool, error)
	// RenewalCredential returns the held renewal credential or ErrNoRenewalCredential.
	RenewalCredential(ctx context.Context) (string, error)
	// Renew exchanges the renewal credential for a fresh access token.
	Renew(ctx context.Context) (Grant, error)
	// Login authenticates with email and password; the backend issues a renewal credential.
	Login(ctx context.Context, email, password string) (Grant, error)
	// RevokeRenewalCredential deletes the held renewal credential. Idempotent.
	RevokeRenewalCredential(ctx context.Context) error
}
