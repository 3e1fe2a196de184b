package guard

import (
	"context"
	"log/slog"
	"sync"

	"ticketline/cmd/identity"
	"ticketline/cmd/internal/auth/state"
)

// DenyMode selects how Deny is surfaced.
type DenyMode int

const (
	// DenyRedirect navigates to the redirect destination.
	DenyRedirect DenyMode = iota
	// DenyHide renders nothing.
	DenyHide
)

// Trigger selects when the guard re-checks besides store changes.
type Trigger int

const (
	// OnMount checks at mount and on state changes only.
	OnMount Trigger = iota
	// OnNavigation additionally checks on every route change.
	OnNavigation
)

// DefaultRedirect is the public landing destination.
const DefaultRedirect = "/"

// Restorer runs the once-per-process session restoration.
// *session.Coordinator implements it.
type Restorer interface {
	RestoreSession(ctx context.Context) bool
	// RestoreDone is closed once the first restoration attempt has finished.
	RestoreDone() <-chan struct{}
}

// RenderFunc receives every decision change. Render and navigate callbacks
// run under the guard lock and must not call back into the guard.
type RenderFunc func(Decision)

// NavigateFunc performs a redirect.
type NavigateFunc func(to string)

// Option configures a Guard.
type Option func(*Guard)

// WithRequiredRole requires every bit in mask.
func WithRequiredRole(mask identity.Role) Option {
	return func(g *Guard) { g.required = mask }
}

// WithDenyMode sets how Deny is surfaced.
func WithDenyMode(m DenyMode) Option {
	return func(g *Guard) { g.mode = m }
}

// WithTrigger sets when the guard re-checks.
func WithTrigger(t Trigger) Option {
	return func(g *Guard) { g.trigger = t }
}

// WithRedirectTo sets the redirect destination used in DenyRedirect mode.
func WithRedirectTo(path string) Option {
	return func(g *Guard) {
		if path != "" {
			g.redirectTo = path
		}
	}
}

// WithNavigator sets the redirect callback.
func WithNavigator(fn NavigateFunc) Option {
	return func(g *Guard) { g.navigate = fn }
}

// WithRestorer asks r to restore the session once hydration completes.
// The guard keeps showing loading instead of denying until the first
// restoration attempt has finished.
func WithRestorer(r Restorer) Option {
	return func(g *Guard) { g.restorer = r }
}

// WithLogger sets the guard logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}

// Guard is one mounted protected view.
type Guard struct {
	log        *slog.Logger
	store      *state.Store
	render     RenderFunc
	navigate   NavigateFunc
	restorer   Restorer
	required   identity.Role
	mode       DenyMode
	trigger    Trigger
	redirectTo string

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	restoring bool
	path      string
	last      Decision
	rendered  bool

	cancel      context.CancelFunc
	unsubStore  func()
	unsubHydr   func()
	unmountOnce sync.Once
}

// New builds an unmounted guard over store. render may be nil.
func New(store *state.Store, render RenderFunc, opts ...Option) *Guard {
	g := &Guard{
		log:        slog.Default(),
		store:      store,
		render:     render,
		redirectTo: DefaultRedirect,
		last:       ShowLoading,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	if g.render == nil {
		g.render = func(Decision) {}
	}
	if g.navigate == nil {
		g.navigate = func(string) {}
	}
	return g
}

// Mount subscribes the guard and renders its first decision at path.
// Mount is a no-op on an already mounted or unmounted guard.
func (g *Guard) Mount(ctx context.Context, path string) {
	g.mu.Lock()
	if g.mounted || g.unmounted {
		g.mu.Unlock()
		return
	}
	g.mounted = true
	g.path = path
	g.restoring = g.restorer != nil
	ctx, g.cancel = context.WithCancel(ctx)
	g.mu.Unlock()

	unsubStore := g.store.Subscribe(func(st state.State) {
		g.evaluate(st, false)
	})

	g.evaluate(g.store.Snapshot(), true)

	// Runs immediately when hydration already completed.
	unsubHydr := g.store.Hydration().OnFinishHydration(func() {
		g.evaluate(g.store.Snapshot(), false)
		if g.restorer != nil {
			go g.restore(ctx)
		}
	})

	g.mu.Lock()
	if g.unmounted {
		// Unmounted while mounting.
		g.mu.Unlock()
		unsubHydr()
		unsubStore()
		return
	}
	g.unsubStore, g.unsubHydr = unsubStore, unsubHydr
	g.mu.Unlock()
}

func (g *Guard) restore(ctx context.Context) {
	g.restorer.RestoreSession(ctx)
	select {
	case <-g.restorer.RestoreDone():
	case <-ctx.Done():
		return
	}

	g.mu.Lock()
	g.restoring = false
	g.mu.Unlock()
	g.evaluate(g.store.Snapshot(), false)
}

// Navigate records a route change. OnNavigation guards re-check and, when
// denied in redirect mode, redirect again.
func (g *Guard) Navigate(path string) {
	g.mu.Lock()
	if !g.mounted || g.unmounted {
		g.mu.Unlock()
		return
	}
	g.path = path
	trigger := g.trigger
	g.mu.Unlock()

	if trigger != OnNavigation {
		return
	}
	g.evaluate(g.store.Snapshot(), true)
}

// Unmount releases the guard's subscriptions. It is idempotent and safe
// to call before hydration completes.
func (g *Guard) Unmount() {
	g.unmountOnce.Do(func() {
		g.mu.Lock()
		g.unmounted = true
		cancel, unsubStore, unsubHydr := g.cancel, g.unsubStore, g.unsubHydr
		g.mu.Unlock()

		if unsubHydr != nil {
			unsubHydr()
		}
		if unsubStore != nil {
			unsubStore()
		}
		if cancel != nil {
			cancel()
		}
	})
}

// Decision returns the last rendered decision.
func (g *Guard) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// evaluate renders only when the decision changes. recheck also re-issues
// a redirect for an unchanged Deny (mount and route changes).
func (g *Guard) evaluate(st state.State, recheck bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unmounted {
		return
	}

	d := Evaluate(st, g.store.Hydration().HasHydrated(), g.required)
	if d == Deny && g.restoring {
		d = ShowLoading
	}

	changed := !g.rendered || d != g.last
	g.last = d
	g.rendered = true
	if changed {
		g.log.Debug("guard.decision", "path", g.path, "decision", d.String(), "required", g.required.String())
		g.render(d)
	}
	if d == Deny && g.mode == DenyRedirect && (changed || recheck) && g.path != g.redirectTo {
		g.log.Info("guard.redirect", "from", g.path, "to", g.redirectTo)
		g.navigate(g.redirectTo)
	}
}
