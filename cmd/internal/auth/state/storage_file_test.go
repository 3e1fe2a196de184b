package state

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketline/cmd/identity"
)

func TestFileStorage_SaveLoadClear(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "auth.json")
	fs := NewFileStorage(path)
	ctx := context.Background()

	_, err := fs.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, fs.Save(ctx, []byte(`{"version":1}`)))
	b, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(b))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, fs.Clear(ctx))
	require.NoError(t, fs.Clear(ctx), "clearing twice is fine")
	_, err = fs.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files left behind")
}

func TestFileStorage_StoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "auth.json")
	a := NewStore(WithStorage(NewFileStorage(path)))
	a.Login(testUser("u1", identity.RoleAdmin), "tok-file")

	b := NewStore(WithStorage(NewFileStorage(path)))
	require.NoError(t, b.Hydrate(context.Background()))
	st := b.Snapshot()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "tok-file", st.AccessToken)
	assert.Equal(t, identity.RoleAdmin, st.Role())
}

func TestFileStorage_WatchSeesExternalWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "auth.json")
	fs := NewFileStorage(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes atomic.Int32
	watchErr := make(chan error, 1)
	go func() { watchErr <- fs.Watch(ctx, nil, func() { changes.Add(1) }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	other := NewFileStorage(path)
	require.NoError(t, other.Save(context.Background(), []byte(`{"version":1}`)))

	require.Eventually(t, func() bool { return changes.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-watchErr:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		require.FailNow(t, "Watch did not return after cancel")
	}
}
