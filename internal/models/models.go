// Package models defines the data structures shared by the maintenance state machine,
// the whitelist cache, the timer engine and the persistent store.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode is the kind of maintenance currently applied to a node.
type Mode string

// Maintenance modes. ModeDisabled is the only mode allowed while maintenance is off.
const (
	ModeDisabled       Mode = "DISABLED"
	ModeGlobal         Mode = "GLOBAL"
	ModeServerSpecific Mode = "SERVER_SPECIFIC"
	ModeScheduled      Mode = "SCHEDULED"
	ModeEmergency      Mode = "EMERGENCY"
)

// ParseMode converts user or wire input into a Mode.
// Matching is case-insensitive and accepts dashes in place of underscores.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !m.Valid() {
		return "", fmt.Errorf("unknown maintenance mode %q", s)
	}

	return m, nil
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeDisabled, ModeGlobal, ModeServerSpecific, ModeScheduled, ModeEmergency:
		return true
	}

	return false
}

func (m Mode) String() string {
	return string(m)
}

// State is the in-memory view of maintenance on one node.
// Enabled == false implies Mode == ModeDisabled.
type State struct {
	StartedAt time.Time `json:"started_at,omitzero"`
	Mode      Mode      `json:"mode"`
	Reason    string    `json:"reason,omitempty"`
	Enabled   bool      `json:"enabled"`
}

// DisabledState returns the state of a node with maintenance off.
func DisabledState() State {
	return State{Mode: ModeDisabled}
}

// Elapsed returns how long maintenance has been active at now, or zero when disabled.
func (s State) Elapsed(now time.Time) time.Duration {
	if !s.Enabled || s.StartedAt.IsZero() {
		return 0
	}

	return now.Sub(s.StartedAt)
}

// Session is one completed enabled-to-disabled interval of maintenance.
type Session struct {
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Mode          Mode      `json:"mode"`
	Reason        string    `json:"reason,omitempty"`
	StartedBy     string    `json:"started_by,omitempty"`
	ID            int64     `json:"id"`
	PlayersKicked int       `json:"players_kicked"`
}

// Duration returns the length of the session.
func (s Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// WhitelistEntry is a player exempt from maintenance blocking.
// Entries are unique by UUID and never mutated in place.
type WhitelistEntry struct {
	AddedAt time.Time `json:"added_at"`
	Name    string    `json:"name"`
	Reason  string    `json:"reason,omitempty"`
	AddedBy string    `json:"added_by,omitempty"`
	UUID    uuid.UUID `json:"uuid"`
}

// Window is an armed maintenance schedule. A zero Start and End means no schedule.
// Node is the node that armed the window; only that node re-arms it after a restart.
type Window struct {
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
	Reason   string          `json:"reason,omitempty"`
	Node     string          `json:"node,omitempty"`
	Warnings []time.Duration `json:"-"`
}

// IsZero reports whether the window describes no schedule.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Remaining returns the time until start before the window opens, the time until end
// while it is open, and false once it has ended or when there is no schedule.
func (w Window) Remaining(now time.Time) (time.Duration, bool) {
	switch {
	case w.IsZero():
		return 0, false
	case now.Before(w.Start):
		return w.Start.Sub(now), true
	case now.Before(w.End):
		return w.End.Sub(now), true
	default:
		return 0, false
	}
}

// Active reports whether now falls between start and end.
func (w Window) Active(now time.Time) bool {
	return !w.IsZero() && !now.Before(w.Start) && now.Before(w.End)
}

// Stats is the aggregate maintenance statistics row.
type Stats struct {
	LastStarted        time.Time     `json:"last_started,omitzero"`
	LastEnded          time.Time     `json:"last_ended,omitzero"`
	TotalSessions      int64         `json:"total_sessions"`
	TotalDuration      time.Duration `json:"total_duration"`
	CurrentWhitelisted int64         `json:"current_whitelisted"`
	PlayersKicked      int64         `json:"players_kicked"`
	ConnectionsBlocked int64         `json:"connections_blocked"`
}
