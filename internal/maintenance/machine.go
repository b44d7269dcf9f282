// Package maintenance implements the per-node maintenance state machine.
//
// A Machine is either disabled or enabled with a mode, reason and start time.
// Local transitions are written to the store first, then applied in memory, then
// broadcast to the other nodes. Transitions received from other nodes are applied
// in memory only, unless the caller replays them against the store explicitly.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/message"
	"github.com/woozymasta/maintsync/internal/models"
	"github.com/woozymasta/maintsync/internal/storage"
	"github.com/woozymasta/maintsync/internal/transport"
	"go.uber.org/atomic"
)

// ErrInvalidMode is returned for modes that are not known.
var ErrInvalidMode = errors.New("invalid maintenance mode")

// snapshot is the immutable value published to lock-free readers.
type snapshot struct {
	state     models.State
	startedBy string
	kicked    int
}

var disabled = &snapshot{state: models.DisabledState()}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// Machine holds the maintenance state of one node.
type Machine struct {
	store     storage.Store
	broadcast *transport.Broadcaster
	current   *atomic.Pointer[snapshot]
	now       func() time.Time
	logger    zerolog.Logger
	// mu serializes writers across the store transaction; readers use current.
	mu sync.Mutex
}

// New returns a disabled Machine. b may be nil for single-node operation.
func New(store storage.Store, b *transport.Broadcaster, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		broadcast: b,
		current:   atomic.NewPointer(disabled),
		now:       time.Now,
		logger:    logger.Component("maintenance"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Load restores the persisted state at startup. An enabled flag stored without a mode
// is treated as GLOBAL.
func (m *Machine) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	enabled, err := m.store.IsMaintenanceEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load maintenance state: %w", err)
	}
	if !enabled {
		m.current.Store(disabled)
		return nil
	}

	mode, err := m.store.Mode(ctx)
	if err != nil {
		return fmt.Errorf("load maintenance mode: %w", err)
	}
	if mode == models.ModeDisabled {
		mode = models.ModeGlobal
	}

	reason, err := m.store.Reason(ctx)
	if err != nil {
		return fmt.Errorf("load maintenance reason: %w", err)
	}

	stats, err := m.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("load maintenance stats: %w", err)
	}

	startedAt := stats.LastStarted
	if startedAt.IsZero() {
		startedAt = m.now()
	}

	m.current.Store(&snapshot{state: models.State{
		Enabled:   true,
		Mode:      mode,
		Reason:    reason,
		StartedAt: startedAt,
	}})

	m.logger.Info().Str("mode", mode.String()).Str("reason", reason).Time("started_at", startedAt).Msg("Restored active maintenance")
	return nil
}

// Enable turns maintenance on. It returns false without error when maintenance is already
// enabled or mode is DISABLED, and false with an error when the store write fails; in both
// cases memory is unchanged and nothing is published.
func (m *Machine) Enable(ctx context.Context, mode models.Mode, reason, startedBy string) (bool, error) {
	state, ok, err := m.enable(ctx, mode, reason, m.now(), startedBy)
	if !ok || err != nil {
		return ok, err
	}

	m.broadcast.Send(ctx, message.MaintenanceEnabled, EnabledData(state, startedBy))
	return true, nil
}

// Disable turns maintenance off and records the finished session. It returns false
// without error when maintenance is already disabled.
func (m *Machine) Disable(ctx context.Context) (bool, error) {
	session, ok, err := m.disable(ctx)
	if !ok || err != nil {
		return ok, err
	}

	m.broadcast.Send(ctx, message.MaintenanceDisabled, map[string]string{
		message.KeyDuration: strconv.FormatInt(session.Duration().Milliseconds(), 10),
	})
	return true, nil
}

// ReplayEnable performs the store writes of an enable received from another node
// without broadcasting it again.
func (m *Machine) ReplayEnable(ctx context.Context, mode models.Mode, reason string, startedAt time.Time, startedBy string) (bool, error) {
	if startedAt.IsZero() {
		startedAt = m.now()
	}
	_, ok, err := m.enable(ctx, mode, reason, startedAt, startedBy)
	return ok, err
}

// ReplayDisable performs the store writes of a disable received from another node
// without broadcasting it again.
func (m *Machine) ReplayDisable(ctx context.Context) (bool, error) {
	_, ok, err := m.disable(ctx)
	return ok, err
}

func (m *Machine) enable(ctx context.Context, mode models.Mode, reason string, startedAt time.Time, startedBy string) (models.State, bool, error) {
	if !mode.Valid() {
		return models.State{}, false, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if mode == models.ModeDisabled {
		return models.State{}, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Load().state.Enabled {
		return models.State{}, false, nil
	}

	next := &snapshot{
		state: models.State{
			Enabled:   true,
			Mode:      mode,
			Reason:    reason,
			StartedAt: startedAt,
		},
		startedBy: startedBy,
	}

	if err := m.store.StartSession(ctx, next.state); err != nil {
		return models.State{}, false, fmt.Errorf("enable maintenance: %w", err)
	}
	m.current.Store(next)

	m.logger.Info().Str("mode", mode.String()).Str("reason", reason).Str("started_by", startedBy).Msg("Maintenance enabled")
	return next.state, true, nil
}

func (m *Machine) disable(ctx context.Context) (models.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current.Load()
	if !cur.state.Enabled {
		return models.Session{}, false, nil
	}

	session := models.Session{
		StartTime:     cur.state.StartedAt,
		EndTime:       m.now(),
		Mode:          cur.state.Mode,
		Reason:        cur.state.Reason,
		StartedBy:     cur.startedBy,
		PlayersKicked: cur.kicked,
	}

	id, err := m.store.FinishSession(ctx, session)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("disable maintenance: %w", err)
	}
	session.ID = id
	m.current.Store(disabled)

	m.logger.Info().Dur("duration", session.Duration()).Int("players_kicked", session.PlayersKicked).Msg("Maintenance disabled")
	return session, true, nil
}

// ApplyRemoteEnable applies an enable observed on another node to memory only.
// It returns false when maintenance is already enabled here or mode is not an enabled mode.
func (m *Machine) ApplyRemoteEnable(mode models.Mode, reason string, startedAt time.Time, startedBy string) bool {
	if !mode.Valid() || mode == models.ModeDisabled {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Load().state.Enabled {
		return false
	}
	if startedAt.IsZero() {
		startedAt = m.now()
	}

	m.current.Store(&snapshot{
		state: models.State{
			Enabled:   true,
			Mode:      mode,
			Reason:    reason,
			StartedAt: startedAt,
		},
		startedBy: startedBy,
	})
	return true
}

// ApplyRemoteDisable applies a disable observed on another node to memory only.
func (m *Machine) ApplyRemoteDisable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current.Load().state.Enabled {
		return false
	}

	m.current.Store(disabled)
	return true
}

// RecordKicks adds n kicked players to the statistics and to the running session.
func (m *Machine) RecordKicks(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	if err := m.store.IncrementPlayersKicked(ctx, n); err != nil {
		return fmt.Errorf("record kicks: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.current.Load(); cur.state.Enabled {
		next := *cur
		next.kicked += n
		m.current.Store(&next)
	}
	return nil
}

// RecordBlocked counts one connection refused because of maintenance.
func (m *Machine) RecordBlocked(ctx context.Context) error {
	if err := m.store.IncrementConnectionsBlocked(ctx); err != nil {
		return fmt.Errorf("record blocked connection: %w", err)
	}
	return nil
}

// IsEnabled reports whether maintenance is active on this node.
func (m *Machine) IsEnabled() bool {
	return m.current.Load().state.Enabled
}

// Mode returns the current mode, ModeDisabled when off.
func (m *Machine) Mode() models.Mode {
	return m.current.Load().state.Mode
}

// Reason returns the current reason.
func (m *Machine) Reason() string {
	return m.current.Load().state.Reason
}

// State returns a copy of the current state.
func (m *Machine) State() models.State {
	return m.current.Load().state
}

// StartedBy returns who enabled the running session.
func (m *Machine) StartedBy() string {
	return m.current.Load().startedBy
}

// Duration returns how long the running session has lasted, zero when disabled.
func (m *Machine) Duration() time.Duration {
	return m.current.Load().state.Elapsed(m.now())
}

// Stats returns the aggregate statistics from the store.
func (m *Machine) Stats(ctx context.Context) (models.Stats, error) {
	return m.store.Stats(ctx)
}

// RecentSessions returns up to limit finished sessions, newest first.
func (m *Machine) RecentSessions(ctx context.Context, limit int) ([]models.Session, error) {
	return m.store.RecentSessions(ctx, limit)
}

// EnabledData builds the data map of a MAINTENANCE_ENABLED message.
func EnabledData(s models.State, startedBy string) map[string]string {
	return map[string]string{
		message.KeyMode:      s.Mode.String(),
		message.KeyReason:    s.Reason,
		message.KeyStartedAt: message.FormatMillis(s.StartedAt),
		message.KeyStartedBy: startedBy,
	}
}
