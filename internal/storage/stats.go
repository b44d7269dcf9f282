package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/woozymasta/maintsync/internal/models"
)

// Stats returns the aggregate statistics row together with the current whitelist size.
func (r *Repository) Stats(ctx context.Context) (models.Stats, error) {
	var (
		s           models.Stats
		duration    int64
		lastStarted int64
		lastEnded   int64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT total_sessions, total_duration, last_started, last_ended, players_kicked, connections_blocked,
			(SELECT COUNT(*) FROM maintenance_whitelist)
		FROM maintenance_stats WHERE id = 1`).Scan(
		&s.TotalSessions, &duration, &lastStarted, &lastEnded,
		&s.PlayersKicked, &s.ConnectionsBlocked, &s.CurrentWhitelisted)
	if err != nil {
		return models.Stats{}, fmt.Errorf("query stats: %w", err)
	}

	s.TotalDuration = time.Duration(duration) * time.Millisecond
	s.LastStarted = fromMillis(lastStarted)
	s.LastEnded = fromMillis(lastEnded)

	return s, nil
}

func (r *Repository) updateStats(ctx context.Context, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	return nil
}

// IncrementSessions adds one to the session counter.
func (r *Repository) IncrementSessions(ctx context.Context) error {
	return r.updateStats(ctx, "UPDATE maintenance_stats SET total_sessions = total_sessions + 1 WHERE id = 1")
}

// AddDuration adds d to the accumulated maintenance duration.
func (r *Repository) AddDuration(ctx context.Context, d time.Duration) error {
	return r.updateStats(ctx, "UPDATE maintenance_stats SET total_duration = total_duration + ? WHERE id = 1", d.Milliseconds())
}

// IncrementPlayersKicked adds n to the kicked players counter.
func (r *Repository) IncrementPlayersKicked(ctx context.Context, n int) error {
	return r.updateStats(ctx, "UPDATE maintenance_stats SET players_kicked = players_kicked + ? WHERE id = 1", n)
}

// IncrementConnectionsBlocked adds one to the blocked connections counter.
func (r *Repository) IncrementConnectionsBlocked(ctx context.Context) error {
	return r.updateStats(ctx, "UPDATE maintenance_stats SET connections_blocked = connections_blocked + 1 WHERE id = 1")
}

// SetLastStarted records the time maintenance was last enabled.
func (r *Repository) SetLastStarted(ctx context.Context, t time.Time) error {
	return r.updateStats(ctx, "UPDATE maintenance_stats SET last_started = ? WHERE id = 1", toMillis(t))
}

// SetLastEnded records the time maintenance was last disabled.
func (r *Repository) SetLastEnded(ctx context.Context, t time.Time) error {
	return r.updateStats(ctx, "UPDATE maintenance_stats SET last_ended = ? WHERE id = 1", toMillis(t))
}
