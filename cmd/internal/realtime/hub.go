// Package realtime streams the public auth state to UI consumers over WebSocket.
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"ticketline/cmd/internal/auth/guard"
	"ticketline/cmd/internal/auth/state"
	v1 "ticketline/shared/contracts/auth/v1"
)

// Hub fans auth-state changes out to connected stream clients.
//
// Broadcast never blocks: a client whose queue is full is disconnected and
// expected to reconnect for a fresh state.
type Hub struct {
	log   *slog.Logger
	store *state.Store

	mu      sync.RWMutex
	clients map[string]*Client

	unsubStore func()
	unsubHydr  func()
	closeOnce  sync.Once
}

// NewHub subscribes a Hub to store changes and hydration.
func NewHub(log *slog.Logger, store *state.Store) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:     log,
		store:   store,
		clients: make(map[string]*Client),
	}
	h.unsubStore = store.Subscribe(func(st state.State) {
		h.Broadcast(st)
	})
	h.unsubHydr = store.Hydration().OnFinishHydration(func() {
		h.Broadcast(store.Snapshot())
	})
	return h
}

// Close detaches the hub from the store and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.unsubHydr()
		h.unsubStore()

		h.mu.Lock()
		clients := h.clients
		h.clients = make(map[string]*Client)
		h.mu.Unlock()

		for _, c := range clients {
			c.Close()
		}
	})
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Join registers client and queues the current state for it.
func (h *Hub) Join(client *Client) bool {
	if client == nil || client.SessionID == "" {
		return false
	}

	h.mu.Lock()
	h.clients[client.SessionID] = client
	h.mu.Unlock()

	h.log.Info("stream.client.join", "session_id", client.SessionID, "role", client.Role().String())
	return h.Resend(client)
}

// Resend queues the current state for client regardless of what it already saw.
func (h *Hub) Resend(client *Client) bool {
	st := h.store.Snapshot()
	hydrated := h.store.Hydration().HasHydrated()
	if !client.admit(st.Version, hydrated, true) {
		return false
	}
	return h.offer(client, h.frame(st, hydrated, client))
}

// Leave removes a client and signals its shutdown.
func (h *Hub) Leave(sessionID string) {
	if sessionID == "" {
		return
	}

	h.mu.Lock()
	cl := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	// Signal shutdown after removing from membership so broadcasters no
	// longer hold the client.
	if cl != nil {
		cl.Close()
		h.log.Info("stream.client.leave", "session_id", sessionID)
	}
}

// Broadcast sends st to every client.
func (h *Hub) Broadcast(st state.State) {
	hydrated := h.store.Hydration().HasHydrated()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-c.Done():
			continue
		default:
		}
		if !c.admit(st.Version, hydrated, false) {
			continue
		}
		if !h.offer(c, h.frame(st, hydrated, c)) {
			h.log.Warn("stream.client.slow", "session_id", c.SessionID)
			h.Leave(c.SessionID)
		}
	}
}

func (h *Hub) offer(c *Client, env v1.Envelope) bool {
	select {
	case <-c.Done():
		return false
	case c.Send <- env:
		return true
	default:
		return false
	}
}

func (h *Hub) frame(st state.State, hydrated bool, c *Client) v1.Envelope {
	role := c.Role()
	pub := st.Public()
	p := v1.AuthStatePayload{
		Authenticated: pub.Authenticated,
		Loading:       pub.Loading,
		Hydrated:      hydrated,
		Error:         pub.Error,
		Roles:         pub.Roles,
		Version:       pub.Version,
		Decision:      guard.Evaluate(st, hydrated, role).String(),
	}
	if pub.User != nil {
		p.User = &v1.User{
			ID:     pub.User.ID,
			Email:  pub.User.Email,
			Name:   pub.User.Name,
			Role:   uint32(pub.User.Role),
			Status: string(pub.User.Status),
		}
	}
	return newEnvelope(v1.TypeAuthState, p, time.Now().UTC())
}
