package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/woozymasta/maintsync/internal/models"
)

// Keys of the maintenance_settings table.
const (
	keyEnabled         = "enabled"
	keyMode            = "mode"
	keyReason          = "reason"
	keyScheduledStart  = "scheduled_start"
	keyScheduledEnd    = "scheduled_end"
	keyScheduledReason = "scheduled_reason"
	keyScheduledNode   = "scheduled_node"
)

func getSetting(ctx context.Context, q execer, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT setting_value FROM maintenance_settings WHERE setting_key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (r *Repository) setSetting(ctx context.Context, q execer, key, value string) error {
	if _, err := q.ExecContext(ctx, r.dialect.upsertSetting, key, value); err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

func getTimeSetting(ctx context.Context, q execer, key string) (time.Time, error) {
	value, ok, err := getSetting(ctx, q, key)
	if err != nil || !ok {
		return time.Time{}, err
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("setting %s: %w", key, err)
	}
	return fromMillis(ms), nil
}

func (r *Repository) setTimeSetting(ctx context.Context, q execer, key string, t time.Time) error {
	return r.setSetting(ctx, q, key, strconv.FormatInt(toMillis(t), 10))
}

// IsMaintenanceEnabled reports the persisted enabled flag, false when never set.
func (r *Repository) IsMaintenanceEnabled(ctx context.Context) (bool, error) {
	value, ok, err := getSetting(ctx, r.db, keyEnabled)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(value)
}

// SetMaintenanceEnabled persists the enabled flag.
func (r *Repository) SetMaintenanceEnabled(ctx context.Context, enabled bool) error {
	return r.setSetting(ctx, r.db, keyEnabled, strconv.FormatBool(enabled))
}

// Mode returns the persisted mode, ModeDisabled when never set.
func (r *Repository) Mode(ctx context.Context) (models.Mode, error) {
	value, ok, err := getSetting(ctx, r.db, keyMode)
	if err != nil || !ok {
		return models.ModeDisabled, err
	}
	return models.ParseMode(value)
}

// SetMode persists the mode.
func (r *Repository) SetMode(ctx context.Context, mode models.Mode) error {
	return r.setSetting(ctx, r.db, keyMode, mode.String())
}

// Reason returns the persisted maintenance reason.
func (r *Repository) Reason(ctx context.Context) (string, error) {
	value, _, err := getSetting(ctx, r.db, keyReason)
	return value, err
}

// SetReason persists the maintenance reason.
func (r *Repository) SetReason(ctx context.Context, reason string) error {
	return r.setSetting(ctx, r.db, keyReason, reason)
}

// StartSession writes the enabled flag, mode, reason, last start time and
// increments the session counter atomically.
func (r *Repository) StartSession(ctx context.Context, state models.State) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.setSetting(ctx, tx, keyEnabled, "true"); err != nil {
			return err
		}
		if err := r.setSetting(ctx, tx, keyMode, state.Mode.String()); err != nil {
			return err
		}
		if err := r.setSetting(ctx, tx, keyReason, state.Reason); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE maintenance_stats SET total_sessions = total_sessions + 1, last_started = ? WHERE id = 1",
			toMillis(state.StartedAt)); err != nil {
			return fmt.Errorf("update stats: %w", err)
		}
		return nil
	})
}

// FinishSession clears the enabled state, accumulates the session duration, records the
// end time and appends the session to history atomically. It returns the history row id.
func (r *Repository) FinishSession(ctx context.Context, s models.Session) (int64, error) {
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.setSetting(ctx, tx, keyEnabled, "false"); err != nil {
			return err
		}
		if err := r.setSetting(ctx, tx, keyMode, models.ModeDisabled.String()); err != nil {
			return err
		}
		if err := r.setSetting(ctx, tx, keyReason, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE maintenance_stats SET total_duration = total_duration + ?, last_ended = ? WHERE id = 1",
			s.Duration().Milliseconds(), toMillis(s.EndTime)); err != nil {
			return fmt.Errorf("update stats: %w", err)
		}

		var err error
		id, err = insertSession(ctx, tx, s)
		return err
	})

	return id, err
}

// ScheduledStart returns the persisted window start, zero when none.
func (r *Repository) ScheduledStart(ctx context.Context) (time.Time, error) {
	return getTimeSetting(ctx, r.db, keyScheduledStart)
}

// ScheduledEnd returns the persisted window end, zero when none.
func (r *Repository) ScheduledEnd(ctx context.Context) (time.Time, error) {
	return getTimeSetting(ctx, r.db, keyScheduledEnd)
}

// SetScheduledStart persists the window start.
func (r *Repository) SetScheduledStart(ctx context.Context, t time.Time) error {
	return r.setTimeSetting(ctx, r.db, keyScheduledStart, t)
}

// SetScheduledEnd persists the window end.
func (r *Repository) SetScheduledEnd(ctx context.Context, t time.Time) error {
	return r.setTimeSetting(ctx, r.db, keyScheduledEnd, t)
}

// SaveSchedule persists start, end, reason and owning node of w atomically.
func (r *Repository) SaveSchedule(ctx context.Context, w models.Window) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.setTimeSetting(ctx, tx, keyScheduledStart, w.Start); err != nil {
			return err
		}
		if err := r.setTimeSetting(ctx, tx, keyScheduledEnd, w.End); err != nil {
			return err
		}
		if err := r.setSetting(ctx, tx, keyScheduledReason, w.Reason); err != nil {
			return err
		}
		return r.setSetting(ctx, tx, keyScheduledNode, w.Node)
	})
}

// LoadSchedule returns the persisted window.
func (r *Repository) LoadSchedule(ctx context.Context) (models.Window, error) {
	var (
		w   models.Window
		err error
	)

	if w.Start, err = getTimeSetting(ctx, r.db, keyScheduledStart); err != nil {
		return models.Window{}, err
	}
	if w.End, err = getTimeSetting(ctx, r.db, keyScheduledEnd); err != nil {
		return models.Window{}, err
	}
	if w.Reason, _, err = getSetting(ctx, r.db, keyScheduledReason); err != nil {
		return models.Window{}, err
	}
	if w.Node, _, err = getSetting(ctx, r.db, keyScheduledNode); err != nil {
		return models.Window{}, err
	}

	return w, nil
}

// ClearSchedule removes the persisted window.
func (r *Repository) ClearSchedule(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM maintenance_settings WHERE setting_key IN (?, ?, ?, ?)",
		keyScheduledStart, keyScheduledEnd, keyScheduledReason, keyScheduledNode)
	if err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}
	return nil
}
