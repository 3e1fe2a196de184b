package realtime

import (
	"sync"

	"ticketline/cmd/identity"
	v1 "ticketline/shared/contracts/auth/v1"
)

// Client represents one connected auth-state stream.
//
// Send is never closed by the server so concurrent broadcasters cannot
// panic; done signals the connection goroutines to stop. Close is idempotent.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	role         identity.Role
	sent         bool
	lastVersion  uint64
	lastHydrated bool
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, role identity.Role, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 16
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
		role:      role,
	}
}

// Role returns the role mask the stream evaluates decisions against.
func (c *Client) Role() identity.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// SetRole changes the evaluated role mask.
func (c *Client) SetRole(r identity.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = r
}

// admit reports whether a state frame for (version, hydrated) moves the
// client forward. Older or repeated states are skipped unless force is set.
func (c *Client) admit(version uint64, hydrated, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !force && c.sent {
		if version < c.lastVersion {
			return false
		}
		if version == c.lastVersion && (hydrated == c.lastHydrated || !hydrated) {
			return false
		}
	}
	c.sent = true
	c.lastVersion = version
	c.lastHydrated = hydrated
	return true
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
