package whitelist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/maintsync/internal/message"
	"github.com/woozymasta/maintsync/internal/models"
	"github.com/woozymasta/maintsync/internal/storage"
	"github.com/woozymasta/maintsync/internal/transport"
)

type recordingTransport struct {
	published []message.Message
	mu        sync.Mutex
}

func (r *recordingTransport) Publish(_ context.Context, msg message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, msg)
	return nil
}

func (r *recordingTransport) Subscribe(transport.Handler) error { return nil }
func (r *recordingTransport) IsConnected() bool { return true }
func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) types() []message.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]message.Type, 0, len(r.published))
	for _, m := range r.published {
		out = append(out, m.Type)
	}
	return out
}

type brokenStore struct {
	storage.Store
}

var errBroken = errors.New("broken")

func (brokenStore) AddToWhitelist(context.Context, models.WhitelistEntry) error { return errBroken }
func (brokenStore) WhitelistedPlayers(context.Context) ([]models.WhitelistEntry, error) {
	return nil, errBroken
}

func newTestStore(t *testing.T, path string) *storage.Repository {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, filepath.Join(t.TempDir(), "wl.db"))
	rt := &recordingTransport{}
	c := New(store, transport.NewBroadcaster(rt, "node-a"))
	require.NoError(t, c.Load(ctx))

	steve, alex := uuid.New(), uuid.New()

	ok, err := c.Add(ctx, steve, "Steve", "builder", "admin")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Add(ctx, steve, "Steve", "builder", "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Add(ctx, alex, "alex", "", "console")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, c.IsWhitelisted(steve))
	assert.Equal(t, 2, c.Len())

	inStore, err := store.IsWhitelisted(ctx, steve)
	require.NoError(t, err)
	assert.True(t, inStore)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "alex", entries[0].Name)
	assert.Equal(t, "Steve", entries[1].Name)

	e, ok := c.Get(steve)
	require.True(t, ok)
	assert.Equal(t, "admin", e.AddedBy)

	ok, err = c.Remove(ctx, alex)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Remove(ctx, alex)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Len())
	assert.False(t, c.IsWhitelisted(steve))

	assert.Equal(t, []message.Type{
		message.WhitelistAdded,
		message.WhitelistAdded,
		message.WhitelistRemoved,
		message.WhitelistCleared,
	}, rt.types())
}

func TestRefreshFromSharedStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	a := New(newTestStore(t, path), nil)
	b := New(newTestStore(t, path), nil)
	require.NoError(t, a.Load(ctx))
	require.NoError(t, b.Load(ctx))

	id := uuid.New()
	ok, err := a.Add(ctx, id, "Notch", "", "")
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, b.IsWhitelisted(id))
	require.NoError(t, b.Refresh(ctx))
	assert.True(t, b.IsWhitelisted(id))
}

func TestConcurrentAddsKeepOneRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	store := newTestStore(t, path)

	a := New(store, nil)
	b := New(newTestStore(t, path), nil)
	id := uuid.New()

	var wg sync.WaitGroup
	for _, c := range []*Cache{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.Add(ctx, id, "Herobrine", "", "")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	list, err := store.WhitelistedPlayers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, filepath.Join(t.TempDir(), "wl.db"))
	rt := &recordingTransport{}

	id := uuid.New()
	require.NoError(t, store.AddToWhitelist(ctx, models.WhitelistEntry{UUID: id, Name: "Kept"}))

	c := New(brokenStore{Store: store}, transport.NewBroadcaster(rt, "node-a"))

	ok, err := c.Add(ctx, uuid.New(), "Lost", "", "")
	require.ErrorIs(t, err, errBroken)
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	require.ErrorIs(t, c.Refresh(ctx), errBroken)
	assert.Zero(t, c.Len())
	assert.Empty(t, rt.types())
}
