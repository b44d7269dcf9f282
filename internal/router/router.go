// Package router applies sync messages received from other nodes to local components.
package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/message"
	"github.com/woozymasta/maintsync/internal/models"
)

// Machine is the part of the maintenance state machine the router drives.
type Machine interface {
	ApplyRemoteEnable(mode models.Mode, reason string, startedAt time.Time, startedBy string) bool
	ApplyRemoteDisable() bool
	ReplayEnable(ctx context.Context, mode models.Mode, reason string, startedAt time.Time, startedBy string) (bool, error)
	ReplayDisable(ctx context.Context) (bool, error)
}

// Whitelist is refreshed from the store when another node changes it.
type Whitelist interface {
	Refresh(ctx context.Context) error
}

// Reloader re-reads node configuration.
type Reloader interface {
	Reload() error
}

// Option configures a Router.
type Option func(*Router)

// WithReplayWrites makes remote enable and disable repeat the store writes locally
// instead of only updating memory.
func WithReplayWrites(enabled bool) Option {
	return func(r *Router) {
		r.replayWrites = enabled
	}
}

// Router dispatches incoming messages by type.
type Router struct {
	machine      Machine
	whitelist    Whitelist
	reloader     Reloader
	logger       zerolog.Logger
	node         string
	replayWrites bool
}

// New returns a router for node. reloader may be nil.
func New(node string, m Machine, w Whitelist, reloader Reloader, opts ...Option) *Router {
	r := &Router{
		node:      node,
		machine:   m,
		whitelist: w,
		reloader:  reloader,
		logger:    logger.Component("router"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Handle is the transport handler. Messages published by this node are ignored.
func (r *Router) Handle(ctx context.Context, msg message.Message) {
	if msg.Origin == r.node {
		return
	}

	l := r.logger.With().Str("type", string(msg.Type)).Str("origin", msg.Origin).Logger()

	switch msg.Type {
	case message.MaintenanceEnabled:
		r.onEnabled(ctx, l, msg)

	case message.MaintenanceDisabled:
		r.onDisabled(ctx, l)

	case message.WhitelistAdded, message.WhitelistRemoved, message.WhitelistCleared:
		if err := r.whitelist.Refresh(ctx); err != nil {
			l.Error().Err(err).Msg("Failed to refresh whitelist after remote change")
			return
		}
		l.Debug().Str("uuid", msg.Data[message.KeyUUID]).Msg("Whitelist refreshed")

	case message.ConfigReload:
		if r.reloader == nil {
			return
		}
		if err := r.reloader.Reload(); err != nil {
			l.Error().Err(err).Msg("Failed to reload configuration")
			return
		}
		l.Info().Msg("Configuration reloaded")

	case message.TimerScheduled:
		ev := l.Info()
		if start, err := msg.Millis(message.KeyStart); err == nil {
			ev = ev.Time("start", start)
		}
		if end, err := msg.Millis(message.KeyEnd); err == nil {
			ev = ev.Time("end", end)
		}
		ev.Msg("Maintenance window scheduled on another node")

	case message.TimerCancelled:
		l.Info().Msg("Maintenance window cancelled on another node")

	default:
		l.Warn().Msg("Ignoring unknown sync message")
	}
}

func (r *Router) onEnabled(ctx context.Context, l zerolog.Logger, msg message.Message) {
	raw, err := msg.Get(message.KeyMode)
	if err != nil {
		l.Warn().Err(err).Msg("Dropping sync message")
		return
	}

	mode, err := models.ParseMode(raw)
	if err != nil {
		l.Warn().Err(err).Msg("Dropping sync message")
		return
	}

	// started_at is optional; the local clock is used when it is absent or malformed
	startedAt, _ := msg.Millis(message.KeyStartedAt)
	reason := msg.Data[message.KeyReason]
	startedBy := msg.Data[message.KeyStartedBy]

	if r.replayWrites {
		ok, err := r.machine.ReplayEnable(ctx, mode, reason, startedAt, startedBy)
		if err != nil {
			l.Error().Err(err).Msg("Failed to replay remote enable")
			return
		}
		l.Debug().Bool("applied", ok).Msg("Remote enable replayed")
		return
	}

	applied := r.machine.ApplyRemoteEnable(mode, reason, startedAt, startedBy)
	l.Debug().Bool("applied", applied).Str("mode", mode.String()).Msg("Remote enable applied")
}

func (r *Router) onDisabled(ctx context.Context, l zerolog.Logger) {
	if r.replayWrites {
		ok, err := r.machine.ReplayDisable(ctx)
		if err != nil {
			l.Error().Err(err).Msg("Failed to replay remote disable")
			return
		}
		l.Debug().Bool("applied", ok).Msg("Remote disable replayed")
		return
	}

	applied := r.machine.ApplyRemoteDisable()
	l.Debug().Bool("applied", applied).Msg("Remote disable applied")
}
