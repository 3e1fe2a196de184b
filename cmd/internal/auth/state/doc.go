// Package state owns the agent's authentication state.
//
// Store is the single mutable record of identity and session flags. It is
// mutated only through SetUser, SetAccessToken, SetLoading, SetError, Login
// and Logout, and every change is pushed to subscribers after the persisted
// subset (user, access token, authenticated flag) has been written.
//
// Boot is two-phase: Hydrate loads the persisted snapshot, then marks the
// Hydration tracker ready. Consumers either poll HasHydrated or subscribe to
// the one-shot completion notification.
package state
