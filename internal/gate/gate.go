// Package gate decides whether a connecting player may join while maintenance is active
// and builds the server-list banner. Decisions read only in-memory state; statistics
// are written by background workers.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/geoip"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/models"
)

// Machine is the maintenance state consulted by the gate.
type Machine interface {
	IsEnabled() bool
	State() models.State
	RecordBlocked(ctx context.Context) error
	RecordKicks(ctx context.Context, n int) error
}

// Whitelist answers membership lookups.
type Whitelist interface {
	IsWhitelisted(id uuid.UUID) bool
}

// Settings supplies the current operator texts.
type Settings interface {
	Settings() config.Settings
}

// Outcome names why a login was allowed or refused.
type Outcome string

// Login outcomes.
const (
	OutcomeOpen        Outcome = "open"
	OutcomeBypass      Outcome = "bypass"
	OutcomeWhitelisted Outcome = "whitelisted"
	OutcomeBlocked     Outcome = "maintenance"
)

// Login describes a connection attempt reported by a host adapter. IP is the player's
// address as seen by the game server, not the adapter's.
type Login struct {
	Name   string    `json:"name"`
	IP     string    `json:"ip,omitempty"`
	UUID   uuid.UUID `json:"uuid"`
	Bypass bool      `json:"bypass"`
}

// Decision is the answer for a Login.
type Decision struct {
	Message string  `json:"message,omitempty"`
	Outcome Outcome `json:"outcome"`
	Allowed bool    `json:"allowed"`
}

// Banner is the server-list presentation. Host adapters keep their normal banner when
// Maintenance is false.
type Banner struct {
	Mode        models.Mode `json:"mode"`
	Reason      string      `json:"reason,omitempty"`
	Line1       string      `json:"line1,omitempty"`
	Line2       string      `json:"line2,omitempty"`
	VersionText string      `json:"version_text,omitempty"`
	MaxPlayers  int         `json:"max_players,omitempty"`
	Maintenance bool        `json:"maintenance"`
}

// Option configures a Gate.
type Option func(*Gate)

// WithGeoIP adds the country of blocked connections to logs.
func WithGeoIP(p *geoip.Provider) Option {
	return func(g *Gate) {
		g.geoip = p
	}
}

// WithSoftLimit counts repeated blocked attempts from the same player and address once per d.
func WithSoftLimit(d time.Duration) Option {
	return func(g *Gate) {
		g.softLimit = d
	}
}

// WithQueueSize sets the capacity of the blocked-connection queue.
func WithQueueSize(n int) Option {
	return func(g *Gate) {
		g.queueSize = n
	}
}

// Gate is safe for concurrent use.
type Gate struct {
	machine   Machine
	whitelist Whitelist
	settings  Settings
	geoip     *geoip.Provider
	queue     chan Login
	now       func() time.Time
	logger    zerolog.Logger
	// seen maps xxhash(ip|uuid) to the last time a block was counted.
	seen      sync.Map
	wg        sync.WaitGroup
	softLimit time.Duration
	queueSize int
	// mu guards queue against sends after Stop closed it.
	mu     sync.RWMutex
	closed bool
}

// New returns a gate with background recording not yet started.
func New(m Machine, w Whitelist, s Settings, opts ...Option) *Gate {
	g := &Gate{
		machine:   m,
		whitelist: w,
		settings:  s,
		now:       time.Now,
		logger:    logger.Component("gate"),
		queueSize: 1000,
	}

	for _, opt := range opts {
		opt(g)
	}

	g.queue = make(chan Login, g.queueSize)
	return g
}

// Start launches workers that persist blocked-connection statistics.
func (g *Gate) Start(workers int) {
	for range max(workers, 1) {
		g.wg.Add(1)
		go g.worker()
	}
}

// Stop drains the queue and waits for the workers.
func (g *Gate) Stop() {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		close(g.queue)
	}
	g.mu.Unlock()

	g.wg.Wait()
}

// Login decides whether the player may join. It never performs I/O.
func (g *Gate) Login(l Login) Decision {
	if !g.machine.IsEnabled() {
		return Decision{Allowed: true, Outcome: OutcomeOpen}
	}

	if l.Bypass {
		return Decision{
			Allowed: true,
			Outcome: OutcomeBypass,
			Message: g.settings.Settings().Maintenance.BypassJoinMessage,
		}
	}

	if g.whitelist.IsWhitelisted(l.UUID) {
		return Decision{Allowed: true, Outcome: OutcomeWhitelisted}
	}

	g.enqueue(l)

	return Decision{
		Allowed: false,
		Outcome: OutcomeBlocked,
		Message: g.settings.Settings().Maintenance.KickMessage,
	}
}

// Ping returns the banner for the server list.
func (g *Gate) Ping() Banner {
	state := g.machine.State()
	if !state.Enabled {
		return Banner{Mode: models.ModeDisabled}
	}

	motd := g.settings.Settings().MOTD
	return Banner{
		Maintenance: true,
		Mode:        state.Mode,
		Reason:      state.Reason,
		Line1:       motd.Line1,
		Line2:       motd.Line2,
		VersionText: motd.VersionText,
		MaxPlayers:  motd.MaxPlayers,
	}
}

// Kicked records players removed by a host adapter after maintenance was enabled.
func (g *Gate) Kicked(ctx context.Context, n int) error {
	return g.machine.RecordKicks(ctx, n)
}

// Sweep forgets soft-limit entries older than the soft limit.
func (g *Gate) Sweep() {
	cutoff := g.now().Add(-g.softLimit)
	g.seen.Range(func(key, value any) bool {
		if t, ok := value.(time.Time); ok && t.Before(cutoff) {
			g.seen.Delete(key)
		}
		return true
	})
}

// RunSweeper calls Sweep every interval until ctx is done.
func (g *Gate) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

func (g *Gate) enqueue(l Login) {
	if g.softLimit > 0 {
		key := xxhash.Sum64String(l.IP + "|" + l.UUID.String())
		now := g.now()
		if val, ok := g.seen.Load(key); ok {
			if last, ok := val.(time.Time); ok && now.Sub(last) < g.softLimit {
				g.logger.Trace().Str("name", l.Name).Str("ip", l.IP).Msg("Blocked login already counted")
				return
			}
		}
		g.seen.Store(key, now)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return
	}

	select {
	case g.queue <- l:
	default:
		g.logger.Warn().Str("name", l.Name).Msg("Blocked connection queue full, statistic dropped")
	}
}

func (g *Gate) worker() {
	defer g.wg.Done()

	for l := range g.queue {
		if err := g.machine.RecordBlocked(context.Background()); err != nil {
			g.logger.Error().Err(err).Msg("Failed to record blocked connection")
			continue
		}

		ev := g.logger.Info().Str("name", l.Name).Str("uuid", l.UUID.String()).Str("ip", l.IP)
		if country := g.geoip.CountryCode(l.IP); country != "" {
			ev = ev.Str("country", country)
		}
		ev.Msg("Connection blocked by maintenance")
	}
}
