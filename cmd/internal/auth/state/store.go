package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ticketline/cmd/identity"
	"ticketline/cmd/security/token"
)

const defaultPersistTimeout = 5 * time.Second

// Store is the in-memory auth record with selective persistence.
//
// All mutators are synchronous and total: storage failures are logged and
// reported through the persist-error hook, never returned.
type Store struct {
	log            *slog.Logger
	storage        Storage
	codec          Codec
	persistTimeout time.Duration
	onPersistError func(error)

	hydration *Hydration

	mu    sync.Mutex
	state State
	// persisted mirrors what was last written (or loaded), used to skip no-op writes.
	persisted Snapshot

	// notifyMu keeps subscriber notifications in mutation order.
	notifyMu sync.Mutex
	subMu    sync.Mutex
	nextSub  uint64
	subs     []subscription
}

type subscription struct {
	id uint64
	fn func(State)
}

// Option configures optional Store dependencies.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStorage sets the persistence backend. The default is an in-memory storage.
func WithStorage(st Storage) Option {
	return func(s *Store) {
		if st != nil {
			s.storage = st
		}
	}
}

// WithCodec overrides the snapshot codec (for example to enable sealing).
func WithCodec(c Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithPersistTimeout bounds each storage call.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// WithPersistErrorHook is called for every failed storage write.
func WithPersistErrorHook(fn func(error)) Option {
	return func(s *Store) { s.onPersistError = fn }
}

// NewStore constructs a Store in the default signed-out state. Call Hydrate
// before trusting the persisted subset.
func NewStore(opts ...Option) *Store {
	s := &Store{
		log:            slog.Default(),
		storage:        NewMemoryStorage(),
		codec:          NewCodec(nil, "default"),
		persistTimeout: defaultPersistTimeout,
		hydration:      NewHydration(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	s.persisted = s.state.persisted()
	return s
}

// Hydration returns the store's hydration tracker.
func (s *Store) Hydration() *Hydration { return s.hydration }

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to be called with the new state after every change.
// Callbacks run synchronously on the mutating goroutine and must not mutate
// the store themselves. The returned func is idempotent.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SetUser replaces the user; the authenticated flag follows it.
func (s *Store) SetUser(u *identity.User) {
	s.update("set_user", func(st *State) {
		st.User = normalizedUser(u)
		st.IsAuthenticated = st.User != nil
	})
}

// SetAccessToken replaces the access token ("" clears it).
func (s *Store) SetAccessToken(tok string) {
	s.update("set_access_token", func(st *State) {
		st.AccessToken = tok
	})
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.update("set_loading", func(st *State) {
		st.IsLoading = loading
	})
}

// SetError sets the error message ("" clears it).
func (s *Store) SetError(msg string) {
	s.update("set_error", func(st *State) {
		st.Error = msg
	})
}

// Login atomically stores the user and token, clears loading and error, and
// marks the session authenticated.
func (s *Store) Login(u identity.User, tok string) {
	s.update("login", func(st *State) {
		st.User = normalizedUser(&u)
		st.AccessToken = tok
		st.IsAuthenticated = true
		st.IsLoading = false
		st.Error = ""
	})
}

// Logout atomically resets every field to its default.
func (s *Store) Logout() {
	s.update("logout", func(st *State) {
		*st = State{Version: st.Version}
	})
}

// Hydrate loads the persisted snapshot and marks hydration complete.
//
// Load failures are logged and hydration still completes with defaults;
// a corrupt snapshot is discarded from storage.
func (s *Store) Hydrate(ctx context.Context) error {
	defer s.hydration.MarkReady()

	snap, err := s.load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoSnapshot):
		s.log.Debug("store.hydrate.empty")
		return nil
	case errors.Is(err, ErrCorruptSnapshot), errors.Is(err, ErrUnsupportedVersion):
		s.log.Warn("store.hydrate.discard", "err", err)
		s.clearStorage(ctx)
		return err
	default:
		s.log.Error("store.hydrate.fail", "err", err)
		return err
	}

	s.apply("hydrate", snap)
	s.log.Info("store.hydrate.ok",
		"authenticated", snap.IsAuthenticated,
		"token_fp", token.Fingerprint(snap.AccessToken),
	)
	return nil
}

// Rehydrate reloads the persisted subset after an external change to storage.
// It reports whether the in-memory state changed.
func (s *Store) Rehydrate(ctx context.Context) (bool, error) {
	snap, err := s.load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		snap, err = Snapshot{Version: snapshotVersion}, nil
	}
	if err != nil {
		return false, err
	}
	return s.apply("rehydrate", snap), nil
}

func (s *Store) load(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	b, err := s.storage.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return s.codec.Decode(b)
}

// apply replaces the persisted subset without writing it back.
func (s *Store) apply(op string, snap Snapshot) bool {
	s.mu.Lock()
	if s.persisted.equal(snap) {
		s.mu.Unlock()
		return false
	}
	s.state.User = snap.User.Clone()
	s.state.AccessToken = snap.AccessToken
	s.state.IsAuthenticated = snap.User != nil
	s.state.Version++
	s.persisted = s.state.persisted()
	out := s.state.clone()

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.log.Debug("store.apply", "op", op, "version", out.Version)
	s.notify(out)
	return true
}

func (s *Store) update(op string, mutate func(*State)) {
	s.mu.Lock()
	before := s.state
	mutate(&s.state)
	if sameState(before, s.state) {
		s.mu.Unlock()
		return
	}
	s.state.Version = before.Version + 1

	snap := s.state.persisted()
	if !snap.equal(s.persisted) {
		s.persist(op, snap)
		s.persisted = snap
	}
	out := s.state.clone()

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.notify(out)
}

// persist writes snap; called with s.mu held so writes land in mutation order.
func (s *Store) persist(op string, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	var err error
	if snap.Empty() {
		err = s.storage.Clear(ctx)
	} else {
		var b []byte
		b, err = s.codec.Encode(snap)
		if err == nil {
			err = s.storage.Save(ctx, b)
		}
	}
	if err != nil {
		s.log.Error("store.persist.fail", "op", op, "err", err)
		if s.onPersistError != nil {
			s.onPersistError(err)
		}
	}
}

func (s *Store) clearStorage(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	if err := s.storage.Clear(ctx); err != nil {
		s.log.Warn("store.clear.fail", "err", err)
	}
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	subs := append([]subscription(nil), s.subs...)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(st.clone())
	}
}

func normalizedUser(u *identity.User) *identity.User {
	if u == nil {
		return nil
	}
	n := u.Normalized()
	return &n
}

func sameState(a, b State) bool {
	return a.AccessToken == b.AccessToken &&
		a.IsAuthenticated == b.IsAuthenticated &&
		a.IsLoading == b.IsLoading &&
		a.Error == b.Error &&
		sameUser(a.User, b.User)
}

func sameUser(a, b *identity.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a == b || (a.ID == b.ID && a.Email == b.Email && a.Role == b.Role &&
		a.Status == b.Status && a.Name == b.Name &&
		a.CreatedAt.Equal(b.CreatedAt) && a.UpdatedAt.Equal(b.UpdatedAt) &&
		a.EmailVerified == b.EmailVerified && a.PhoneVerified == b.PhoneVerified &&
		equalPhone(a.Phone, b.Phone))
}

func equalPhone(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
