// Package fake provides utilities for generating random whitelist data for testing and development purposes.
package fake

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Whitelist accepts generated entries.
type Whitelist interface {
	Add(ctx context.Context, id uuid.UUID, name, reason, addedBy string) (bool, error)
}

var (
	prefixes = []string{"Steve", "Alex", "Creeper", "Ender", "Redstone", "Diamond", "Notch", "Blaze", "Pixel", "Nether"}
	suffixes = []string{"Miner", "Crafter", "Builder", "_HD", "King", "Slayer", "Pro", "_x", "Fan", ""}
	reasons  = []string{"staff", "builder", "tester", "content creator", "", ""}
	addedBy  = []string{"console", "admin", "moderator"}
)

// Name returns a random player name that satisfies Minecraft username rules.
func Name() string {
	name := prefixes[rand.Intn(len(prefixes))] + suffixes[rand.Intn(len(suffixes))]

	// 50% chance for a numeric tail
	if rand.Float32() < 0.5 {
		name += fmt.Sprintf("%d", rand.Intn(1000))
	}
	if len(name) > 16 {
		name = name[:16]
	}

	return name
}

// GenerateWhitelist adds count random players to wl and returns how many were added.
func GenerateWhitelist(ctx context.Context, wl Whitelist, count int) int {
	added := 0
	for range count {
		ok, err := wl.Add(ctx, uuid.New(), Name(),
			reasons[rand.Intn(len(reasons))],
			addedBy[rand.Intn(len(addedBy))])
		if err != nil {
			log.Warn().Err(err).Msg("Failed to generate fake whitelist entry")
			continue
		}
		if ok {
			added++
		}
	}

	log.Info().Int("requested", count).Int("added", added).Msg("Fake whitelist generated")
	return added
}
