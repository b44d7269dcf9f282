// Package validate checks operator input: player names, node names and player UUIDs.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	playerNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)
	nodeNameRe   = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)
)

// PlayerName reports whether name is a valid Minecraft username.
func PlayerName(name string) bool {
	return playerNameRe.MatchString(name)
}

// NodeName reports whether name can identify a node on the sync channel.
func NodeName(name string) bool {
	return nodeNameRe.MatchString(name)
}

// PlayerUUID parses a player UUID in dashed or undashed form.
func PlayerUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid player uuid %q: %w", s, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid player uuid %q: nil uuid", s)
	}
	return id, nil
}

// Sanitize strips control characters and surrounding whitespace from free text such as reasons.
func Sanitize(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s))
}
