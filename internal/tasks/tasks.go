// Package tasks runs one-shot maintenance jobs against the store: history pruning,
// whitelist import and fake data generation.
package tasks

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/duration"
	"github.com/woozymasta/maintsync/internal/fake"
	"github.com/woozymasta/maintsync/internal/storage"
	"github.com/woozymasta/maintsync/internal/validate"
)

// ImportedBy is recorded as the initiator of imported whitelist entries.
const ImportedBy = "import"

// Whitelist is where imported players are added.
type Whitelist interface {
	Add(ctx context.Context, id uuid.UUID, name, reason, addedBy string) (bool, error)
}

// Report summarizes an import.
type Report struct {
	Added   int
	Present int
	Invalid int
	Failed  int
}

// Run checks if any task flags are set and executes the corresponding task.
// Returns true if a task was executed (indicating the program should exit).
func Run(ctx context.Context, cfg config.Tasks, store storage.Store, wl Whitelist) bool {
	switch {
	case cfg.PruneHistory != "":
		age, err := duration.Parse(cfg.PruneHistory)
		if err != nil {
			log.Error().Err(err).Msg("Invalid prune age")
			return true
		}

		log.Info().Str("older_than", duration.Format(age)).Msg("Pruning session history...")
		count, err := PruneHistory(ctx, store, time.Now().Add(-age))
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune history")
			return true
		}
		log.Info().Int64("deleted", count).Msg("Prune finished")

	case cfg.ImportWhitelist != "":
		f, err := os.Open(cfg.ImportWhitelist)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open whitelist import file")
			return true
		}
		defer func() { _ = f.Close() }()

		log.Info().Str("path", cfg.ImportWhitelist).Int("workers", cfg.Workers).Msg("Importing whitelist...")
		r, err := ImportWhitelist(ctx, f, wl, cfg.Workers)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read whitelist import file")
			return true
		}
		log.Info().
			Int("added", r.Added).
			Int("present", r.Present).
			Int("invalid", r.Invalid).
			Int("failed", r.Failed).
			Msg("Import finished")

	case cfg.GenerateCount > 0:
		fake.GenerateWhitelist(ctx, wl, cfg.GenerateCount)

	default:
		return false
	}

	return true
}

// PruneHistory deletes sessions that ended before cutoff.
func PruneHistory(ctx context.Context, store storage.Store, cutoff time.Time) (int64, error) {
	return store.PruneSessions(ctx, cutoff)
}

type importLine struct {
	name   string
	reason string
	id     uuid.UUID
	number int
}

// ImportWhitelist reads uuid,name[,reason] lines from r and adds them to wl using a pool
// of workers. Blank lines and lines starting with # are ignored.
func ImportWhitelist(ctx context.Context, r io.Reader, wl Whitelist, workers int) (Report, error) {
	var (
		report Report
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	jobs := make(chan importLine, max(workers, 1)*4)

	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	for range max(workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for line := range jobs {
				ok, err := wl.Add(ctx, line.id, line.name, line.reason, ImportedBy)
				switch {
				case err != nil:
					log.Warn().Err(err).Int("line", line.number).Msg("Failed to import whitelist entry")
					count(&report.Failed)
				case !ok:
					count(&report.Present)
				default:
					count(&report.Added)
				}
			}
		}()
	}

	scanner := bufio.NewScanner(r)
	number := 0
	for scanner.Scan() {
		number++
		line, err := parseLine(scanner.Text())
		if err != nil {
			log.Warn().Err(err).Int("line", number).Msg("Skipping whitelist line")
			report.Invalid++
			continue
		}
		if line == nil {
			continue
		}

		line.number = number
		jobs <- *line
	}
	close(jobs)
	wg.Wait()

	return report, scanner.Err()
}

// parseLine returns nil for blank and comment lines.
func parseLine(text string) (*importLine, error) {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "#") {
		return nil, nil
	}

	fields := strings.SplitN(text, ",", 3)
	if len(fields) < 2 {
		return nil, fmt.Errorf("expected uuid,name[,reason], got %q", text)
	}

	id, err := validate.PlayerUUID(fields[0])
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(fields[1])
	if !validate.PlayerName(name) {
		return nil, fmt.Errorf("invalid player name %q", name)
	}

	line := &importLine{id: id, name: name}
	if len(fields) == 3 {
		line.reason = validate.Sanitize(fields[2])
	}

	return line, nil
}
