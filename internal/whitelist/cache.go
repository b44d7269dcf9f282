// Package whitelist keeps an in-memory copy of the maintenance whitelist for fast lookups
// on the connection path, backed by the shared store.
package whitelist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/message"
	"github.com/woozymasta/maintsync/internal/models"
	"github.com/woozymasta/maintsync/internal/storage"
	"github.com/woozymasta/maintsync/internal/transport"
)

// Cache is the per-node whitelist. Lookups never touch the store.
type Cache struct {
	store     storage.Store
	broadcast *transport.Broadcaster
	entries   map[uuid.UUID]models.WhitelistEntry
	now       func() time.Time
	logger    zerolog.Logger
	// writeMu serializes mutations, including their store I/O.
	writeMu sync.Mutex
	// mu guards entries only and is never held across I/O.
	mu sync.RWMutex
}

// New returns an empty cache. b may be nil for single-node operation.
func New(store storage.Store, b *transport.Broadcaster) *Cache {
	return &Cache{
		store:     store,
		broadcast: b,
		entries:   make(map[uuid.UUID]models.WhitelistEntry),
		now:       time.Now,
		logger:    logger.Component("whitelist"),
	}
}

// Load fills the cache from the store at startup.
func (c *Cache) Load(ctx context.Context) error {
	return c.Refresh(ctx)
}

// Refresh replaces the cache contents with the full set from the store.
// On error the previous contents are kept.
func (c *Cache) Refresh(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	list, err := c.store.WhitelistedPlayers(ctx)
	if err != nil {
		return fmt.Errorf("refresh whitelist: %w", err)
	}

	fresh := make(map[uuid.UUID]models.WhitelistEntry, len(list))
	for _, e := range list {
		fresh[e.UUID] = e
	}

	c.mu.Lock()
	c.entries = fresh
	c.mu.Unlock()

	c.logger.Debug().Int("entries", len(fresh)).Msg("Whitelist refreshed")
	return nil
}

// IsWhitelisted reports whether id is exempt from maintenance.
func (c *Cache) IsWhitelisted(id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[id]
	return ok
}

// Get returns the entry for id.
func (c *Cache) Get(id uuid.UUID) (models.WhitelistEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Entries returns a snapshot of all entries sorted by name.
func (c *Cache) Entries() []models.WhitelistEntry {
	c.mu.RLock()
	out := make([]models.WhitelistEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a == b {
			return out[i].UUID.String() < out[j].UUID.String()
		}
		return a < b
	})
	return out
}

// Add whitelists a player. It returns false without error when id is already cached.
func (c *Cache) Add(ctx context.Context, id uuid.UUID, name, reason, addedBy string) (bool, error) {
	c.writeMu.Lock()

	if c.IsWhitelisted(id) {
		c.writeMu.Unlock()
		return false, nil
	}

	entry := models.WhitelistEntry{
		UUID:    id,
		Name:    name,
		Reason:  reason,
		AddedAt: c.now(),
		AddedBy: addedBy,
	}

	if err := c.store.AddToWhitelist(ctx, entry); err != nil {
		c.writeMu.Unlock()
		return false, fmt.Errorf("add %s to whitelist: %w", id, err)
	}

	c.mu.Lock()
	c.entries[id] = entry
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.logger.Info().Str("uuid", id.String()).Str("name", name).Str("added_by", addedBy).Msg("Player whitelisted")
	c.broadcast.Send(ctx, message.WhitelistAdded, map[string]string{
		message.KeyUUID:   id.String(),
		message.KeyName:   name,
		message.KeyReason: reason,
	})
	return true, nil
}

// Remove drops a player from the whitelist. It returns false without error when id is not cached.
func (c *Cache) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	c.writeMu.Lock()

	entry, ok := c.Get(id)
	if !ok {
		c.writeMu.Unlock()
		return false, nil
	}

	if err := c.store.RemoveFromWhitelist(ctx, id); err != nil {
		c.writeMu.Unlock()
		return false, fmt.Errorf("remove %s from whitelist: %w", id, err)
	}

	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.logger.Info().Str("uuid", id.String()).Str("name", entry.Name).Msg("Player removed from whitelist")
	c.broadcast.Send(ctx, message.WhitelistRemoved, map[string]string{
		message.KeyUUID: id.String(),
		message.KeyName: entry.Name,
	})
	return true, nil
}

// Clear empties the whitelist.
func (c *Cache) Clear(ctx context.Context) error {
	c.writeMu.Lock()

	if err := c.store.ClearWhitelist(ctx); err != nil {
		c.writeMu.Unlock()
		return fmt.Errorf("clear whitelist: %w", err)
	}

	c.mu.Lock()
	c.entries = make(map[uuid.UUID]models.WhitelistEntry)
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.logger.Info().Msg("Whitelist cleared")
	c.broadcast.Send(ctx, message.WhitelistCleared, nil)
	return nil
}
