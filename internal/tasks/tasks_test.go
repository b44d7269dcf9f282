package tasks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/models"
	"github.com/woozymasta/maintsync/internal/storage"
	"github.com/woozymasta/maintsync/internal/whitelist"
)

func newStore(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestImportWhitelist(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	wl := whitelist.New(store, nil)
	require.NoError(t, wl.Load(ctx))

	existing := uuid.New()
	_, err := wl.Add(ctx, existing, "Notch", "", "ops")
	require.NoError(t, err)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	input := strings.Join([]string{
		"# uuid,name,reason",
		ids[0].String() + ",Steve,builder",
		"",
		ids[1].String() + ", Alex ",
		ids[2].String() + ",Herobrine,staff, with comma",
		existing.String() + ",Notch",
		"not-a-uuid,Bob",
		uuid.NewString() + ",x",
		"just-one-field",
	}, "\n")

	report, err := ImportWhitelist(ctx, strings.NewReader(input), wl, 3)
	require.NoError(t, err)
	assert.Equal(t, Report{Added: 3, Present: 1, Invalid: 3}, report)

	for _, id := range ids {
		assert.True(t, wl.IsWhitelisted(id))
	}

	entry, ok := wl.Get(ids[2])
	require.True(t, ok)
	assert.Equal(t, "staff, with comma", entry.Reason)
	assert.Equal(t, ImportedBy, entry.AddedBy)

	players, err := store.WhitelistedPlayers(ctx)
	require.NoError(t, err)
	assert.Len(t, players, 4)
}

func TestPruneHistory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	for _, age := range []time.Duration{48 * time.Hour, 72 * time.Hour, time.Hour} {
		_, err := store.SaveSession(ctx, models.Session{
			StartTime: now.Add(-age - time.Minute),
			EndTime:   now.Add(-age),
			Mode:      models.ModeGlobal,
		})
		require.NoError(t, err)
	}

	deleted, err := PruneHistory(ctx, store, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	left, err := store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	wl := whitelist.New(store, nil)
	require.NoError(t, wl.Load(ctx))

	t.Run("no task", func(t *testing.T) {
		assert.False(t, Run(ctx, config.Tasks{Workers: 1}, store, wl))
	})

	t.Run("import file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "whitelist.csv")
		require.NoError(t, os.WriteFile(path, []byte(uuid.NewString()+",Steve\n"), 0o600))

		assert.True(t, Run(ctx, config.Tasks{ImportWhitelist: path, Workers: 2}, store, wl))
		assert.Equal(t, 1, wl.Len())
	})

	t.Run("generate", func(t *testing.T) {
		assert.True(t, Run(ctx, config.Tasks{GenerateCount: 5, Workers: 1}, store, wl))
		assert.Equal(t, 6, wl.Len())
	})

	t.Run("prune", func(t *testing.T) {
		assert.True(t, Run(ctx, config.Tasks{PruneHistory: "30d", Workers: 1}, store, wl))
		assert.True(t, Run(ctx, config.Tasks{PruneHistory: "soon", Workers: 1}, store, wl))
	})
}
