package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/woozymasta/maintsync/internal/models"
)

func insertSession(ctx context.Context, q execer, s models.Session) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO maintenance_history (start_time, end_time, mode, reason, started_by, players_kicked)
		VALUES (?, ?, ?, ?, ?, ?)`,
		toMillis(s.StartTime), toMillis(s.EndTime), s.Mode.String(), s.Reason, s.StartedBy, s.PlayersKicked)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return res.LastInsertId()
}

// SaveSession appends s to history and returns its id.
func (r *Repository) SaveSession(ctx context.Context, s models.Session) (int64, error) {
	return insertSession(ctx, r.db, s)
}

// RecentSessions returns up to limit sessions, newest first.
func (r *Repository) RecentSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, mode, reason, started_by, players_kicked
		FROM maintenance_history ORDER BY end_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []models.Session
	for rows.Next() {
		var (
			s          models.Session
			start, end int64
			mode       string
		)
		if err := rows.Scan(&s.ID, &start, &end, &mode, &s.Reason, &s.StartedBy, &s.PlayersKicked); err != nil {
			return nil, err
		}

		s.StartTime = fromMillis(start)
		s.EndTime = fromMillis(end)
		if s.Mode, err = models.ParseMode(mode); err != nil {
			return nil, fmt.Errorf("history row %d: %w", s.ID, err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// PruneSessions deletes sessions that ended before the given time and returns the count.
func (r *Repository) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM maintenance_history WHERE end_time < ?", toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}
