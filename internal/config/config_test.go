package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := parse([]string{"--node", "lobby-1", "--auth-token", "secret"})
	require.NoError(t, err)

	assert.Equal(t, "lobby-1", cfg.Node.Name)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "maintsync.db", cfg.Storage.Source())
	assert.Equal(t, TransportNone, cfg.Sync.Transport)
	assert.Equal(t, "maintenance:sync", cfg.Sync.Redis.Channel)
	assert.Equal(t, "maintenance.sync", cfg.Sync.NATS.Subject)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, time.Minute, cfg.RateLimit.HardLimitWin)
	assert.Empty(t, cfg.GeoIP.Path)
	assert.False(t, cfg.Tasks.Any())
}

func TestParseNamespaces(t *testing.T) {
	cfg, err := parse([]string{
		"--node", "proxy_eu",
		"--auth-token", "secret",
		"--sync-transport", "redis",
		"--sync-redis-addr", "redis:6379",
		"--db-driver", "mysql",
		"--db-dsn", "u:p@tcp(db:3306)/maint",
		"--log-level", "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, TransportRedis, cfg.Sync.Transport)
	assert.Equal(t, "redis:6379", cfg.Sync.Redis.Addr)
	assert.Equal(t, "u:p@tcp(db:3306)/maint", cfg.Storage.Source())
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestParseEnv(t *testing.T) {
	t.Setenv("MAINTSYNC_NODE", "env-node")
	t.Setenv("MAINTSYNC_AUTH_TOKEN", "from-env")
	t.Setenv("MAINTSYNC_SYNC_NATS_URL", "nats://nats:4222")

	cfg, err := parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "env-node", cfg.Node.Name)
	assert.Equal(t, "from-env", cfg.Server.AuthToken)
	assert.Equal(t, "nats://nats:4222", cfg.Sync.NATS.URL)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing token", []string{"--node", "a"}},
		{"bad node name", []string{"--node", "bad name", "-t", "x"}},
		{"mysql without dsn", []string{"--node", "a", "-t", "x", "--db-driver", "mysql"}},
		{"unknown transport", []string{"--node", "a", "-t", "x", "--sync-transport", "kafka"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(tt.args)
			require.Error(t, err)
		})
	}

	t.Run("tasks do not need a token", func(t *testing.T) {
		cfg, err := parse([]string{"--node", "a", "--task-prune-history", "30d"})
		require.NoError(t, err)
		assert.True(t, cfg.Tasks.Any())
	})

	t.Run("api disabled does not need a token", func(t *testing.T) {
		_, err := parse([]string{"--node", "a", "--address", ""})
		require.NoError(t, err)
	})
}

func TestLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maintsync.ini")
	l := NewLoader(path)

	t.Run("writes defaults when missing", func(t *testing.T) {
		require.NoError(t, l.Load())
		_, err := os.Stat(path)
		require.NoError(t, err)

		s := l.Settings()
		assert.Equal(t, DefaultSettings().Maintenance.KickMessage, s.Maintenance.KickMessage)
		assert.Equal(t, []time.Duration{5 * time.Minute, 3 * time.Minute, time.Minute, 30 * time.Second, 10 * time.Second}, s.WarningOffsets())
		assert.Equal(t, "Server maintenance starts in 1 minute, 5 seconds", s.WarningText(65*time.Second))
	})

	t.Run("reload picks up edits", func(t *testing.T) {
		content := "[maintenance]\nkick_message = Back soon\\nPromise\n\n[motd]\nline1 = Down\nmax_players = 7\n\n[timer]\nwarnings = 2m,15s\nwarning_message = Closing in {time}\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		require.NoError(t, l.Reload())
		s := l.Settings()
		assert.Equal(t, "Back soon\nPromise", s.Maintenance.KickMessage)
		assert.Equal(t, "Down", s.MOTD.Line1)
		assert.Equal(t, 7, s.MOTD.MaxPlayers)
		assert.Equal(t, []time.Duration{2 * time.Minute, 15 * time.Second}, s.WarningOffsets())
		assert.Equal(t, "Closing in 15 seconds", s.WarningText(15*time.Second))
	})

	t.Run("bad file keeps previous settings", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("[timer]\nwarnings = soon\n"), 0o600))

		require.Error(t, l.Reload())
		assert.Equal(t, "Down", l.Settings().MOTD.Line1)
	})
}

func TestLoaderWithoutPath(t *testing.T) {
	l := NewLoader("")
	require.NoError(t, l.Load())
	assert.Len(t, l.Settings().WarningOffsets(), 5)
}
