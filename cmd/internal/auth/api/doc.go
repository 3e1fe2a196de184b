// Package authapi is the agent's client for the booking backend's auth
// endpoints.
//
// The renewal credential is the backend's HttpOnly refresh cookie, held in
// the client's cookie jar and optionally persisted (sealed) so a restarted
// agent can restore its session.
package authapi
