// Package guard decides whether protected content may render.
//
// Evaluate is the single decision function; Guard wraps it with the store
// and hydration subscriptions a mounted view needs, and surfaces Deny either
// as a redirect or by rendering nothing.
package guard
