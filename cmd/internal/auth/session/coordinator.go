package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"ticketline/cmd/identity/ids"
	"ticketline/cmd/internal/auth/state"
	"ticketline/cmd/security/token"
)

// Coordinator owns the session lifecycle: startup restoration, explicit
// login/logout, and the renewal scheduler.
//
// The restoration flags live on the Coordinator, so independent instances
// (one per test) never share state.
type Coordinator struct {
	log     *slog.Logger
	cfg     Config
	store   *state.Store
	backend Backend
	clock   clockwork.Clock
	metrics *Metrics
	decoder token.ExpiryDecoder

	scheduler *Scheduler

	// txMu serializes store transitions that must agree with epoch
	// (login after renewal, clear).
	txMu sync.Mutex

	restoreOnce sync.Once
	restoreDone chan struct{}

	mu        sync.Mutex
	restoring bool
	attempted bool
	epoch     uint64
	desc      Descriptor
	hasDesc   bool
}

// CoordinatorOption configures optional Coordinator dependencies.
type CoordinatorOption func(*Coordinator)

// WithClock injects the clock used for timers and expiry checks.
func WithClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics records lifecycle metrics.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithExpiryDecoder decodes the access-token lifetime when the backend does
// not state one, and validates cached tokens at restore time.
func WithExpiryDecoder(dec token.ExpiryDecoder) CoordinatorOption {
	return func(c *Coordinator) { c.decoder = dec }
}

// NewCoordinator wires a Coordinator over store and backend.
func NewCoordinator(log *slog.Logger, cfg Config, store *state.Store, backend Backend, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Coordinator{
		log:     log,
		cfg:     cfg,
		store:   store,
		backend: backend,
		clock:   clockwork.NewRealClock(),

		restoreDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}

	c.scheduler = NewScheduler(log, cfg, c.clock, c.metrics, c.renew, c.renewalFailed)
	return c, nil
}

// Scheduler exposes the renewal scheduler (for status reporting and tests).
func (c *Coordinator) Scheduler() *Scheduler { return c.scheduler }

// Store returns the auth state store the coordinator drives.
func (c *Coordinator) Store() *state.Store { return c.store }

// Start waits for hydration and then runs the startup restoration.
// Restoring before hydration would read a stale or partial snapshot.
func (c *Coordinator) Start(ctx context.Context) bool {
	if err := c.store.Hydration().Wait(ctx); err != nil {
		c.log.Warn("session.start.abort", "err", err)
		return false
	}
	return c.RestoreSession(ctx)
}

// RestoreSession tries once per process to bring the store into a valid
// authenticated state. Concurrent and repeated calls return false without
// touching the backend. It never panics and never returns an error: failures
// leave the store logged out.
func (c *Coordinator) RestoreSession(ctx context.Context) (ok bool) {
	c.mu.Lock()
	if c.restoring || c.attempted {
		c.mu.Unlock()
		c.metrics.restore("skipped")
		return false
	}
	c.restoring = true
	c.attempted = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.restoring = false
		c.mu.Unlock()
		c.restoreOnce.Do(func() { close(c.restoreDone) })
	}()

	defer func() {
		if r := recover(); r != nil {
			c.restoreFailed(PanicError{Op: "session.RestoreSession", Value: r})
			ok = false
		}
	}()

	result, err := c.restore(ctx)
	if err != nil {
		c.restoreFailed(err)
		return false
	}

	c.metrics.restore(result)
	c.log.Info("session.restore.done", "result", result)
	return result == "restored" || result == "cached"
}

// RestoreDone is closed once the first restoration attempt has finished.
func (c *Coordinator) RestoreDone() <-chan struct{} { return c.restoreDone }

func (c *Coordinator) restore(ctx context.Context) (string, error) {
	st := c.store.Snapshot()
	stale := false
	if st.User != nil && st.AccessToken != "" {
		lifetime, known := c.cachedLifetime(st.AccessToken)
		if known && lifetime <= 0 {
			stale = true
			c.log.Info("session.restore.cache_expired", "token_fp", token.Fingerprint(st.AccessToken))
		} else {
			c.InitializeSession(lifetime)
			return "cached", nil
		}
	}

	has, err := c.backend.HasRenewalCredential(ctx)
	if err != nil {
		return "", fmt.Errorf("renewal credential check: %w", err)
	}
	if !has {
		if stale {
			c.store.Logout()
		}
		c.store.SetLoading(false)
		return "no_credential", nil
	}

	c.store.SetLoading(true)
	err = c.Refresh(ctx)
	c.store.SetLoading(false)
	if err != nil {
		c.log.Info("session.restore.renew_fail", "err", err)
		return "failed", nil
	}
	return "restored", nil
}

func (c *Coordinator) restoreFailed(err error) {
	c.metrics.restore("failed")
	c.log.Warn("session.restore.fail", "err", err)
	c.store.SetLoading(false)
	c.store.Logout()
}

// cachedLifetime reports the remaining lifetime of a cached token. known is
// false when no decoder is configured or the token cannot be decoded.
func (c *Coordinator) cachedLifetime(tok string) (lifetime time.Duration, known bool) {
	if c.decoder == nil {
		return 0, false
	}
	exp, err := c.decoder.Expiry(tok)
	if err != nil {
		return 0, false
	}
	d := exp.Sub(c.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Refresh exchanges the renewal credential for a fresh access token, stores
// it and re-arms the scheduler. At most one exchange runs at a time; a call
// made while another is in flight returns ErrRenewalInFlight. Any other
// failure clears the session.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.scheduler.Fire(ctx)
}

// renew is the scheduler's renewal exchange.
func (c *Coordinator) renew(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	g, err := c.backend.Renew(ctx)
	if err != nil {
		return 0, err
	}
	if err := g.validate(); err != nil {
		return 0, err
	}
	lifetime := c.grantLifetime(g)

	c.txMu.Lock()
	defer c.txMu.Unlock()

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Info("session.renew.discard", "token_fp", token.Fingerprint(g.AccessToken))
		return 0, ErrSessionCleared
	}
	c.setDescriptorLocked(lifetime)
	c.mu.Unlock()

	c.store.Login(g.User, g.AccessToken)
	c.log.Info("session.renew.ok",
		"user_id", g.User.ID,
		"token_fp", token.Fingerprint(g.AccessToken),
		"expires_in", lifetime,
	)
	return lifetime, nil
}

func (c *Coordinator) renewalFailed(err error) {
	c.log.Warn("session.renew.fail", "err", err)
	c.ClearSession()
}

// Login authenticates with the backend and starts a fresh session lifecycle.
// On failure the store error is set and the error returned.
func (c *Coordinator) Login(ctx context.Context, email, password string) error {
	c.store.SetLoading(true)
	g, err := c.backend.Login(ctx, email, password)
	if err == nil {
		err = g.validate()
	}
	if err != nil {
		c.metrics.login("failed")
		c.log.Info("session.login.fail", "err", err)
		c.store.SetLoading(false)
		c.store.SetError(err.Error())
		return err
	}
	lifetime := c.grantLifetime(g)

	c.txMu.Lock()
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()
	// Detach any renewal started for the previous session.
	c.scheduler.Stop()
	c.store.Login(g.User, g.AccessToken)
	c.txMu.Unlock()

	c.InitializeSession(lifetime)

	c.metrics.login("ok")
	c.log.Info("session.login.ok",
		"user_id", g.User.ID,
		"role", g.User.Role.String(),
		"token_fp", token.Fingerprint(g.AccessToken),
	)
	return nil
}

// Logout revokes the renewal credential (best effort) and clears the
// session. The local session is cleared even if revocation fails; the
// revocation error is returned.
func (c *Coordinator) Logout(ctx context.Context) error {
	err := c.backend.RevokeRenewalCredential(ctx)
	if err != nil {
		c.log.Warn("session.logout.revoke_fail", "err", err)
	}
	c.ClearSession()
	c.log.Info("session.logout.ok")
	return err
}

// InitializeSession records a new session descriptor and arms the scheduler.
// A non-positive expiresIn uses the default lifetime.
func (c *Coordinator) InitializeSession(expiresIn time.Duration) Descriptor {
	if expiresIn <= 0 {
		expiresIn = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	d := c.setDescriptorLocked(expiresIn)
	c.mu.Unlock()

	c.scheduler.Arm(expiresIn)
	c.log.Debug("session.init", "session_id", d.ID, "expires_at", d.ExpiresAt)
	return d
}

func (c *Coordinator) setDescriptorLocked(lifetime time.Duration) Descriptor {
	if lifetime <= 0 {
		lifetime = c.cfg.DefaultTTL
	}
	now := c.clock.Now()
	c.desc = Descriptor{
		ID:        ids.MustULID(now),
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
	}
	c.hasDesc = true
	return c.desc
}

// ClearSession disarms the scheduler and logs the store out. It is
// idempotent. A renewal in flight when it runs is discarded on completion.
// The once-per-process restore flag is kept.
func (c *Coordinator) ClearSession() {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	c.mu.Lock()
	c.epoch++
	c.restoring = false
	c.desc = Descriptor{}
	c.hasDesc = false
	c.mu.Unlock()

	c.scheduler.Stop()
	c.store.Logout()
}

// HasValidSession reports whether a session descriptor exists and has not expired.
func (c *Coordinator) HasValidSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasDesc && c.desc.ValidAt(c.clock.Now())
}

// Session returns the current descriptor.
func (c *Coordinator) Session() (Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc, c.hasDesc
}

// TimeUntilExpiry returns the remaining session lifetime (0 without a session).
func (c *Coordinator) TimeUntilExpiry() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasDesc {
		return 0
	}
	return c.desc.Remaining(c.clock.Now())
}

// Close stops the scheduler. The store is left as is.
func (c *Coordinator) Close() {
	c.scheduler.Close()
}

func (c *Coordinator) grantLifetime(g Grant) time.Duration {
	if g.ExpiresIn > 0 {
		return g.ExpiresIn
	}
	if d, ok := token.Lifetime(c.decoder, g.AccessToken, c.clock.Now()); ok {
		return d
	}
	return c.cfg.DefaultTTL
}
