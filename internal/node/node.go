// Package node assembles the maintenance components of one server process and wires
// them to the shared store and the sync transport.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/maintenance"
	"github.com/woozymasta/maintsync/internal/message"
	"github.com/woozymasta/maintsync/internal/models"
	"github.com/woozymasta/maintsync/internal/router"
	"github.com/woozymasta/maintsync/internal/storage"
	"github.com/woozymasta/maintsync/internal/timer"
	"github.com/woozymasta/maintsync/internal/transport"
	"github.com/woozymasta/maintsync/internal/whitelist"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// SchedulerName is recorded as the initiator of sessions opened by the timer.
const SchedulerName = "scheduler"

// Options configures a Node.
type Options struct {
	Store storage.Store
	// Transport may be nil for a node that does not sync.
	Transport transport.Transport
	Settings  *config.Loader
	Name      string
	// ReplayWrites repeats store writes for transitions received from other nodes.
	ReplayWrites bool
}

// Announcement is the last warning text produced by the timer.
type Announcement struct {
	At        time.Time     `json:"at"`
	Text      string        `json:"text"`
	Remaining time.Duration `json:"remaining"`
}

// Status is a point-in-time view of the node.
type Status struct {
	Window       models.Window `json:"window,omitzero"`
	State        models.State  `json:"state"`
	Announcement *Announcement `json:"announcement,omitempty"`
	Node         string        `json:"node"`
	StartedBy    string        `json:"started_by,omitempty"`
	Duration     time.Duration `json:"duration"`
	TimerLeft    time.Duration `json:"timer_remaining,omitempty"`
	Whitelisted  int           `json:"whitelisted"`
	Scheduled    bool          `json:"scheduled"`
	Connected    bool          `json:"connected"`
}

// Node owns the state machine, whitelist cache and timer engine of one process.
type Node struct {
	Machine   *maintenance.Machine
	Whitelist *whitelist.Cache
	Timer     *timer.Engine

	store        storage.Store
	transport    transport.Transport
	broadcast    *transport.Broadcaster
	settings     *config.Loader
	router       *router.Router
	announcement *atomic.Pointer[Announcement]
	logger       zerolog.Logger
	name         string
}

// New builds the components of a node. Nothing is loaded until Start.
func New(opts Options) (*Node, error) {
	if opts.Store == nil {
		return nil, errors.New("node requires a store")
	}
	if opts.Settings == nil {
		opts.Settings = config.NewLoader("")
	}

	var b *transport.Broadcaster
	if opts.Transport != nil {
		b = transport.NewBroadcaster(opts.Transport, opts.Name)
	}

	engine, err := timer.New(b, timer.WithStore(opts.Store), timer.WithOwner(opts.Name))
	if err != nil {
		return nil, err
	}

	n := &Node{
		Machine:      maintenance.New(opts.Store, b),
		Whitelist:    whitelist.New(opts.Store, b),
		Timer:        engine,
		store:        opts.Store,
		transport:    opts.Transport,
		broadcast:    b,
		settings:     opts.Settings,
		announcement: atomic.NewPointer[Announcement](nil),
		logger:       logger.Component("node"),
		name:         opts.Name,
	}

	n.router = router.New(opts.Name, n.Machine, n.Whitelist, opts.Settings, router.WithReplayWrites(opts.ReplayWrites))
	return n, nil
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// Settings returns the current operator settings.
func (n *Node) Settings() config.Settings {
	return n.settings.Settings()
}

// Start loads persisted state, re-arms a persisted window and subscribes to the transport.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Machine.Load(ctx); err != nil {
		return err
	}
	if err := n.Whitelist.Load(ctx); err != nil {
		return err
	}

	n.Timer.Start(ctx)
	restored, err := n.Timer.Restore(ctx, n.Settings().WarningOffsets(), n.callbacks())
	if err != nil {
		return err
	}

	if n.transport != nil {
		if err := n.transport.Subscribe(n.router.Handle); err != nil {
			return fmt.Errorf("subscribe to sync channel: %w", err)
		}
	}

	n.logger.Info().
		Bool("maintenance", n.Machine.IsEnabled()).
		Str("mode", n.Machine.Mode().String()).
		Int("whitelisted", n.Whitelist.Len()).
		Bool("schedule_restored", restored).
		Bool("sync", n.transport != nil).
		Msg("Node started")

	return nil
}

// Close stops the timer and releases the transport and the store.
func (n *Node) Close(ctx context.Context) error {
	n.Timer.Stop(ctx)

	var err error
	if n.transport != nil {
		err = multierr.Append(err, n.transport.Close())
	}
	err = multierr.Append(err, n.store.Close())

	return err
}

// Schedule arms a maintenance window. The configured warning offsets are used when
// plan carries none. It returns false when a window is already armed.
func (n *Node) Schedule(ctx context.Context, plan timer.Plan) (bool, error) {
	if plan.Warnings == nil {
		plan.Warnings = n.Settings().WarningOffsets()
	}

	return n.Timer.Schedule(ctx, plan, n.callbacks())
}

// CancelSchedule disarms the armed window.
func (n *Node) CancelSchedule(ctx context.Context) (bool, error) {
	ok, err := n.Timer.Cancel(ctx)
	if ok {
		n.announcement.Store(nil)
	}
	return ok, err
}

// Reload re-reads the settings file.
func (n *Node) Reload() error {
	return n.settings.Reload()
}

// ReloadSettings reloads locally and asks the other nodes to do the same.
func (n *Node) ReloadSettings(ctx context.Context) error {
	if err := n.Reload(); err != nil {
		return err
	}

	n.broadcast.Send(ctx, message.ConfigReload, nil)
	return nil
}

// LastAnnouncement returns the last warning announced by the timer, or nil.
func (n *Node) LastAnnouncement() *Announcement {
	return n.announcement.Load()
}

// Status reports the current node state.
func (n *Node) Status() Status {
	s := Status{
		Node:         n.name,
		State:        n.Machine.State(),
		StartedBy:    n.Machine.StartedBy(),
		Duration:     n.Machine.Duration(),
		Whitelisted:  n.Whitelist.Len(),
		Window:       n.Timer.Window(),
		Announcement: n.LastAnnouncement(),
		Connected:    n.broadcast.Connected(),
	}
	s.TimerLeft, s.Scheduled = n.Timer.Remaining()

	return s
}

func (n *Node) callbacks() timer.Callbacks {
	return timer.Callbacks{
		OnWarning: n.onWarning,
		OnStart:   n.onStart,
		OnEnd:     n.onEnd,
	}
}

func (n *Node) onWarning(remaining time.Duration) {
	a := &Announcement{
		At:        time.Now(),
		Remaining: remaining,
		Text:      n.Settings().WarningText(remaining),
	}
	n.announcement.Store(a)

	n.logger.Info().Dur("remaining", remaining).Str("text", a.Text).Msg("Maintenance warning")
}

func (n *Node) onStart() {
	reason := n.Timer.Window().Reason

	ok, err := n.Machine.Enable(context.Background(), models.ModeScheduled, reason, SchedulerName)
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to start scheduled maintenance")
		return
	}
	if !ok {
		n.logger.Warn().Str("mode", n.Machine.Mode().String()).Msg("Maintenance already active, scheduled start skipped")
	}
	n.announcement.Store(nil)
}

func (n *Node) onEnd() {
	if _, err := n.Machine.Disable(context.Background()); err != nil {
		n.logger.Error().Err(err).Msg("Failed to end scheduled maintenance")
	}
}
