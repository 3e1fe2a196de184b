package state

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Hydration tracks whether the persisted snapshot has been loaded into memory.
//
// A caller that polls HasHydrated and sees false can register with
// OnFinishHydration and is notified exactly once, never before the poll would
// have returned true. Registering after completion runs the callback
// immediately.
type Hydration struct {
	mu        sync.Mutex
	ready     bool
	done      chan struct{}
	nextID    uint64
	listeners map[uint64]*hydrationListener
}

type hydrationListener struct {
	fn     func()
	active atomic.Bool
}

// NewHydration returns a tracker in the "not hydrated" state.
func NewHydration() *Hydration {
	return &Hydration{
		done:      make(chan struct{}),
		listeners: make(map[uint64]*hydrationListener),
	}
}

// HasHydrated reports whether hydration already completed.
func (h *Hydration) HasHydrated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Done is closed when hydration completes.
func (h *Hydration) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until hydration completes or ctx is done.
func (h *Hydration) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnFinishHydration registers fn to run once when hydration completes.
// The returned unsubscribe func is idempotent; after it returns, fn will not
// be called (unless it is already running).
func (h *Hydration) OnFinishHydration(fn func()) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	h.mu.Lock()
	if h.ready {
		h.mu.Unlock()
		fn()
		return func() {}
	}

	id := h.nextID
	h.nextID++
	l := &hydrationListener{fn: fn}
	l.active.Store(true)
	h.listeners[id] = l
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Listeners returns the number of pending completion listeners.
func (h *Hydration) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// MarkReady flips the tracker to hydrated and notifies pending listeners in
// registration order. Calls after the first are no-ops.
func (h *Hydration) MarkReady() {
	h.mu.Lock()
	if h.ready {
		h.mu.Unlock()
		return
	}
	h.ready = true
	close(h.done)

	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	pending := make([]*hydrationListener, 0, len(ids))
	for _, id := range ids {
		pending = append(pending, h.listeners[id])
	}
	h.listeners = make(map[uint64]*hydrationListener)
	h.mu.Unlock()

	for _, l := range pending {
		// Swap so a concurrent unsubscribe and this call agree on exactly one outcome.
		if l.active.Swap(false) {
			l.fn()
		}
	}
}
