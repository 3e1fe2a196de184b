package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketline/cmd/identity"
	"ticketline/cmd/security/token"
)

func testUser(id string, role identity.Role) identity.User {
	return identity.User{
		ID:        id,
		Email:     id + "@example.com",
		Name:      "Rider " + id,
		Role:      role,
		Status:    identity.StatusActive,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

type failingStorage struct {
	MemoryStorage
	err error
}

func (f *failingStorage) Save(context.Context, []byte) error { return f.err }

func TestStore_LoginLogout(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var got []State
	unsub := s.Subscribe(func(st State) { got = append(got, st) })
	defer unsub()

	s.SetLoading(true)
	s.SetError("boom")
	s.Login(testUser("u1", identity.RoleAdmin|identity.RolePassenger), "tok-1")

	st := s.Snapshot()
	require.NotNil(t, st.User)
	assert.Equal(t, "u1", st.User.ID)
	assert.Equal(t, "tok-1", st.AccessToken)
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Error)

	s.Logout()
	st = s.Snapshot()
	assert.Nil(t, st.User)
	assert.Empty(t, st.AccessToken)
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Error)

	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Version+1, got[i].Version)
	}
}

func TestStore_AuthenticatedFollowsUser(t *testing.T) {
	t.Parallel()

	s := NewStore()
	u := testUser("u1", identity.RolePassenger)
	s.SetUser(&u)
	assert.True(t, s.Snapshot().IsAuthenticated)

	s.SetUser(nil)
	assert.False(t, s.Snapshot().IsAuthenticated)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Login(testUser("u1", identity.RolePassenger), "tok")

	st := s.Snapshot()
	st.User.Role = identity.RoleAdmin
	assert.Equal(t, identity.RolePassenger, s.Snapshot().User.Role)
}

func TestStore_NoOpMutationDoesNotNotify(t *testing.T) {
	t.Parallel()

	s := NewStore()
	calls := 0
	s.Subscribe(func(State) { calls++ })

	s.SetLoading(false)
	s.SetError("")
	s.Logout()
	assert.Zero(t, calls)
}

func TestStore_UnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var a, b int
	unsubA := s.Subscribe(func(State) { a++ })
	s.Subscribe(func(State) { b++ })

	s.SetLoading(true)
	unsubA()
	unsubA()
	s.SetLoading(false)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestStore_PersistsOnlyPersistedSubset(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStorage()
	s := NewStore(WithStorage(mem))

	s.SetLoading(true)
	s.SetError("ignored")
	assert.Zero(t, mem.Saves(), "loading/error are not persisted")

	s.Login(testUser("u1", identity.RoleOperator), "tok-1")
	assert.Equal(t, 1, mem.Saves())

	// A fresh store over the same storage restores user+token, not flags.
	s2 := NewStore(WithStorage(mem))
	require.NoError(t, s2.Hydrate(context.Background()))
	st := s2.Snapshot()
	require.NotNil(t, st.User)
	assert.Equal(t, identity.RoleOperator, st.User.Role)
	assert.Equal(t, "tok-1", st.AccessToken)
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Error)

	s.Logout()
	_, err := mem.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot, "logout clears the persisted snapshot")
}

func TestStore_PersistFailureIsReportedNotReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	var hooked []error
	s := NewStore(
		WithStorage(&failingStorage{err: boom}),
		WithPersistErrorHook(func(err error) { hooked = append(hooked, err) }),
	)

	s.Login(testUser("u1", identity.RolePassenger), "tok")
	assert.True(t, s.Snapshot().IsAuthenticated, "in-memory state still applies")
	require.Len(t, hooked, 1)
	assert.ErrorIs(t, hooked[0], boom)
}

func TestStore_HydrateMarksReadyEvenOnCorruptSnapshot(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStorage()
	require.NoError(t, mem.Save(context.Background(), []byte("{not json")))

	s := NewStore(WithStorage(mem))
	err := s.Hydrate(context.Background())
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
	assert.True(t, s.Hydration().HasHydrated())
	assert.False(t, s.Snapshot().IsAuthenticated)

	_, err = mem.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot, "corrupt snapshot is discarded")
}

func TestStore_HydrateSealed(t *testing.T) {
	t.Parallel()

	sealer, err := token.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	mem := NewMemoryStorage()
	writer := NewStore(WithStorage(mem), WithCodec(NewCodec(sealer, "default")))
	writer.Login(testUser("u1", identity.RoleSupport), "tok-sealed")

	reader := NewStore(WithStorage(mem), WithCodec(NewCodec(sealer, "default")))
	require.NoError(t, reader.Hydrate(context.Background()))
	assert.Equal(t, "tok-sealed", reader.Snapshot().AccessToken)

	plain := NewStore(WithStorage(mem))
	assert.ErrorIs(t, plain.Hydrate(context.Background()), ErrCorruptSnapshot)
}

func TestStore_Rehydrate(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStorage()
	a := NewStore(WithStorage(mem))
	b := NewStore(WithStorage(mem))
	require.NoError(t, b.Hydrate(context.Background()))

	a.Login(testUser("u1", identity.RolePassenger), "tok")
	changed, err := b.Rehydrate(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, b.Snapshot().IsAuthenticated)

	changed, err = b.Rehydrate(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "unchanged storage is a no-op")

	a.Logout()
	changed, err = b.Rehydrate(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, b.Snapshot().IsAuthenticated)
}

func TestStore_ConcurrentMutationsNotifyInOrder(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var (
		mu       sync.Mutex
		versions []uint64
	)
	s.Subscribe(func(st State) {
		mu.Lock()
		versions = append(versions, st.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetLoading(i%2 == 0)
			s.SetError(time.Duration(i).String())
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		require.Equal(t, versions[i-1]+1, versions[i], "notifications out of order")
	}
}

func TestState_Public(t *testing.T) {
	t.Parallel()

	s := NewStore()
	p := s.Snapshot().Public()
	assert.False(t, p.Authenticated)
	assert.Equal(t, []string{}, p.Roles)

	s.Login(testUser("u1", identity.RoleAdmin|identity.RoleSupport), "secret-token")
	p = s.Snapshot().Public()
	assert.True(t, p.Authenticated)
	assert.Equal(t, []string{"admin", "support"}, p.Roles)
}
