package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/woozymasta/maintsync/internal/models"
)

// IsWhitelisted reports whether a row exists for id.
func (r *Repository) IsWhitelisted(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM maintenance_whitelist WHERE uuid = ?", id.String()).Scan(&n); err != nil {
		return false, fmt.Errorf("query whitelist: %w", err)
	}
	return n > 0, nil
}

// WhitelistedPlayers returns every whitelist entry ordered by name.
func (r *Repository) WhitelistedPlayers(ctx context.Context) ([]models.WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT uuid, name, reason, added_at, added_by FROM maintenance_whitelist ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.WhitelistEntry
	for rows.Next() {
		var (
			e       models.WhitelistEntry
			rawID   string
			addedAt int64
		)
		if err := rows.Scan(&rawID, &e.Name, &e.Reason, &addedAt, &e.AddedBy); err != nil {
			return nil, err
		}

		if e.UUID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("whitelist row %q: %w", rawID, err)
		}
		e.AddedAt = fromMillis(addedAt)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// AddToWhitelist inserts entry, replacing any existing row with the same UUID.
func (r *Repository) AddToWhitelist(ctx context.Context, e models.WhitelistEntry) error {
	_, err := r.db.ExecContext(ctx, r.dialect.upsertWhitelist,
		e.UUID.String(), e.Name, e.Reason, toMillis(e.AddedAt), e.AddedBy)
	if err != nil {
		return fmt.Errorf("upsert whitelist %s: %w", e.UUID, err)
	}
	return nil
}

// RemoveFromWhitelist deletes the row for id. Removing an absent id is not an error.
func (r *Repository) RemoveFromWhitelist(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM maintenance_whitelist WHERE uuid = ?", id.String()); err != nil {
		return fmt.Errorf("delete whitelist %s: %w", id, err)
	}
	return nil
}

// ClearWhitelist deletes every whitelist row.
func (r *Repository) ClearWhitelist(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM maintenance_whitelist"); err != nil {
		return fmt.Errorf("clear whitelist: %w", err)
	}
	return nil
}
