// Package session implements the agent's session lifecycle.
//
// Coordinator restores the session once per process (from the cached access
// token or by exchanging the long-lived renewal credential), and Scheduler
// renews the access token ahead of its expiry with a safety buffer and a
// minimum delay. A failed renewal ends the session: the store is logged out
// and the scheduler disarmed.
//
// Backend failures never escape Coordinator as panics or errors to guards;
// they become state transitions plus a boolean result.
package session
