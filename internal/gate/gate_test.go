package gate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/models"
)

type fakeMachine struct {
	state   models.State
	blocked int
	kicked  int
	mu      sync.Mutex
}

func (f *fakeMachine) IsEnabled() bool { return f.state.Enabled }
func (f *fakeMachine) State() models.State { return f.state }

func (f *fakeMachine) RecordBlocked(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked++
	return nil
}

func (f *fakeMachine) RecordKicks(_ context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked += n
	return nil
}

func (f *fakeMachine) blockedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

type fakeWhitelist map[uuid.UUID]bool

func (f fakeWhitelist) IsWhitelisted(id uuid.UUID) bool { return f[id] }

type staticSettings struct{ s config.Settings }

func (s staticSettings) Settings() config.Settings { return s.s }

func TestLogin(t *testing.T) {
	friend := uuid.New()
	stranger := uuid.New()
	settings := staticSettings{s: config.DefaultSettings()}

	t.Run("open when disabled", func(t *testing.T) {
		g := New(&fakeMachine{state: models.DisabledState()}, fakeWhitelist{}, settings)
		d := g.Login(Login{UUID: stranger})
		assert.True(t, d.Allowed)
		assert.Equal(t, OutcomeOpen, d.Outcome)
	})

	m := &fakeMachine{state: models.State{Enabled: true, Mode: models.ModeGlobal, Reason: "patch"}}
	g := New(m, fakeWhitelist{friend: true}, settings, WithSoftLimit(time.Minute))
	g.Start(2)

	t.Run("bypass", func(t *testing.T) {
		d := g.Login(Login{UUID: stranger, Bypass: true})
		assert.True(t, d.Allowed)
		assert.Equal(t, OutcomeBypass, d.Outcome)
		assert.Equal(t, settings.s.Maintenance.BypassJoinMessage, d.Message)
	})

	t.Run("whitelisted", func(t *testing.T) {
		d := g.Login(Login{UUID: friend})
		assert.True(t, d.Allowed)
		assert.Equal(t, OutcomeWhitelisted, d.Outcome)
	})

	t.Run("blocked and counted once within soft limit", func(t *testing.T) {
		for range 3 {
			d := g.Login(Login{UUID: stranger, Name: "Griefer", IP: "10.0.0.1"})
			assert.False(t, d.Allowed)
			assert.Equal(t, OutcomeBlocked, d.Outcome)
			assert.Equal(t, settings.s.Maintenance.KickMessage, d.Message)
		}
		g.Login(Login{UUID: stranger, IP: "10.0.0.2"})

		g.Stop()
		assert.Equal(t, 2, m.blockedCount())
	})

	t.Run("login after stop does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() { g.Login(Login{UUID: uuid.New(), IP: "10.0.0.3"}) })
	})
}

func TestLoginPlayerIP(t *testing.T) {
	var l Login
	require.NoError(t, json.Unmarshal([]byte(`{"uuid":"`+uuid.NewString()+`","name":"Alex","ip":"203.0.113.7"}`), &l))
	assert.Equal(t, "203.0.113.7", l.IP)

	m := &fakeMachine{state: models.State{Enabled: true, Mode: models.ModeGlobal}}
	g := New(m, fakeWhitelist{}, staticSettings{s: config.DefaultSettings()}, WithSoftLimit(time.Minute))
	g.Start(1)

	// two players behind the same adapter, distinct addresses
	g.Login(Login{UUID: l.UUID, IP: l.IP})
	g.Login(Login{UUID: l.UUID, IP: "198.51.100.20"})
	g.Login(Login{UUID: l.UUID, IP: l.IP})

	g.Stop()
	assert.Equal(t, 2, m.blockedCount())
}

func TestPing(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MOTD.MaxPlayers = 5

	m := &fakeMachine{state: models.DisabledState()}
	g := New(m, fakeWhitelist{}, staticSettings{s: settings})

	b := g.Ping()
	assert.False(t, b.Maintenance)
	assert.Empty(t, b.Line1)

	m.state = models.State{Enabled: true, Mode: models.ModeEmergency, Reason: "outage"}
	b = g.Ping()
	assert.True(t, b.Maintenance)
	assert.Equal(t, models.ModeEmergency, b.Mode)
	assert.Equal(t, settings.MOTD.Line1, b.Line1)
	assert.Equal(t, 5, b.MaxPlayers)
}

func TestKickedAndSweep(t *testing.T) {
	m := &fakeMachine{state: models.State{Enabled: true, Mode: models.ModeGlobal}}
	now := time.UnixMilli(1_700_000_000_000)
	g := New(m, fakeWhitelist{}, staticSettings{s: config.DefaultSettings()}, WithSoftLimit(time.Minute))
	g.now = func() time.Time { return now }

	require.NoError(t, g.Kicked(context.Background(), 4))
	assert.Equal(t, 4, m.kicked)

	g.Login(Login{UUID: uuid.New(), IP: "10.0.0.1"})
	count := func() int {
		n := 0
		g.seen.Range(func(_, _ any) bool { n++; return true })
		return n
	}
	assert.Equal(t, 1, count())

	g.Sweep()
	assert.Equal(t, 1, count())

	now = now.Add(2 * time.Minute)
	g.Sweep()
	assert.Zero(t, count())
}
