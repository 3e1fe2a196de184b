package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ticketline/cmd/identity"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rider(id string, role identity.Role) identity.User {
	return identity.User{
		ID:        id,
		Email:     id + "@example.com",
		Name:      "Rider " + id,
		Role:      role,
		Status:    identity.StatusActive,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

// fakeBackend is an in-memory Backend. A non-nil gate blocks Renew until closed.
type fakeBackend struct {
	mu        sync.Mutex
	hasCred   bool
	cred      string
	grant     Grant
	renewErr  error
	loginErr  error
	checkErr  error
	panicOnCk bool
	gate      chan struct{}

	checks  atomic.Int32
	fetches atomic.Int32
	renews  atomic.Int32
	logins  atomic.Int32
	revokes atomic.Int32
}

func newFakeBackend(grant Grant) *fakeBackend {
	return &fakeBackend{hasCred: true, cred: "renewal-1", grant: grant}
}

func (f *fakeBackend) HasRenewalCredential(context.Context) (bool, error) {
	f.checks.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnCk {
		panic("credential store exploded")
	}
	return f.hasCred, f.checkErr
}

func (f *fakeBackend) RenewalCredential(context.Context) (string, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasCred {
		return "", ErrNoRenewalCredential
	}
	return f.cred, nil
}

func (f *fakeBackend) Renew(ctx context.Context) (Grant, error) {
	f.renews.Add(1)
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renewErr != nil {
		return Grant{}, f.renewErr
	}
	return f.grant, nil
}

func (f *fakeBackend) Login(_ context.Context, email, _ string) (Grant, error) {
	f.logins.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return Grant{}, f.loginErr
	}
	f.hasCred = true
	g := f.grant
	g.User.Email = email
	return g, nil
}

func (f *fakeBackend) RevokeRenewalCredential(context.Context) error {
	f.revokes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasCred = false
	f.cred = ""
	return nil
}

func (f *fakeBackend) set(fn func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

var errBackendDown = errors.New("backend down")
