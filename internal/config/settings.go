package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/maintsync/internal/duration"
	"github.com/woozymasta/maintsync/internal/logger"
	"go.uber.org/atomic"
	"gopkg.in/ini.v1"
)

// TimePlaceholder is replaced by the formatted remaining time in warning messages.
const TimePlaceholder = "{time}"

// Settings are operator-facing texts and timer defaults that can be reloaded at runtime.
type Settings struct {
	Maintenance MaintenanceSettings `ini:"maintenance"`
	MOTD        MOTDSettings        `ini:"motd"`
	Timer       TimerSettings       `ini:"timer"`
}

// MaintenanceSettings are the messages shown to players while maintenance is active.
type MaintenanceSettings struct {
	KickMessage       string `ini:"kick_message" json:"kick_message"`
	BypassJoinMessage string `ini:"bypass_join_message" json:"bypass_join_message"`
}

// MOTDSettings describe the server-list banner during maintenance.
type MOTDSettings struct {
	Line1       string `ini:"line1" json:"line1"`
	Line2       string `ini:"line2" json:"line2"`
	VersionText string `ini:"version_text" json:"version_text,omitempty"`
	MaxPlayers  int    `ini:"max_players" json:"max_players,omitempty"`
}

// TimerSettings hold the default warning offsets of scheduled maintenance.
type TimerSettings struct {
	WarningMessage string   `ini:"warning_message"`
	Warnings       []string `ini:"warnings" delim:","`

	offsets []time.Duration `ini:"-"`
}

// DefaultSettings returns the settings written on first start.
func DefaultSettings() Settings {
	s := Settings{
		Maintenance: MaintenanceSettings{
			KickMessage:       "Server Under Maintenance\n\nWe are currently performing maintenance.\nPlease check back later!",
			BypassJoinMessage: "You have bypass permission!\nServer is in maintenance mode",
		},
		MOTD: MOTDSettings{
			Line1:       "MAINTENANCE MODE",
			Line2:       "Scheduled maintenance in progress",
			VersionText: "Maintenance",
		},
		Timer: TimerSettings{
			WarningMessage: "Server maintenance starts in " + TimePlaceholder,
			Warnings:       []string{"5m", "3m", "1m", "30s", "10s"},
		},
	}
	_ = s.normalize()
	return s
}

// WarningOffsets returns the parsed warning offsets.
func (s Settings) WarningOffsets() []time.Duration {
	return append([]time.Duration(nil), s.Timer.offsets...)
}

// WarningText renders the warning message for the given remaining time.
func (s Settings) WarningText(remaining time.Duration) string {
	return strings.ReplaceAll(s.Timer.WarningMessage, TimePlaceholder, duration.Format(remaining))
}

// normalize unescapes line breaks and parses warning offsets.
func (s *Settings) normalize() error {
	unescape := strings.NewReplacer(`\n`, "\n")
	s.Maintenance.KickMessage = unescape.Replace(s.Maintenance.KickMessage)
	s.Maintenance.BypassJoinMessage = unescape.Replace(s.Maintenance.BypassJoinMessage)
	s.Timer.WarningMessage = unescape.Replace(s.Timer.WarningMessage)

	offsets, err := duration.ParseList(strings.Join(s.Timer.Warnings, ","))
	if err != nil {
		return fmt.Errorf("timer warnings: %w", err)
	}
	s.Timer.offsets = offsets

	if s.MOTD.MaxPlayers < 0 {
		return errors.New("motd max_players must not be negative")
	}
	return nil
}

// escaped returns a copy suitable for writing to a single-line INI value.
func (s Settings) escaped() Settings {
	escape := strings.NewReplacer("\n", `\n`)
	s.Maintenance.KickMessage = escape.Replace(s.Maintenance.KickMessage)
	s.Maintenance.BypassJoinMessage = escape.Replace(s.Maintenance.BypassJoinMessage)
	s.Timer.WarningMessage = escape.Replace(s.Timer.WarningMessage)
	return s
}

// Loader reads Settings from an INI file and keeps the last good copy.
type Loader struct {
	current *atomic.Pointer[Settings]
	logger  zerolog.Logger
	path    string
	mu      sync.Mutex
}

// NewLoader returns a loader for path holding the default settings until Load is called.
func NewLoader(path string) *Loader {
	defaults := DefaultSettings()
	return &Loader{
		path:    path,
		current: atomic.NewPointer(&defaults),
		logger:  logger.Component("settings"),
	}
}

// Settings returns the current settings snapshot.
func (l *Loader) Settings() Settings {
	return *l.current.Load()
}

// Load reads the settings file, writing the defaults first when it does not exist.
// On error the previous settings stay in effect.
func (l *Loader) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return nil
	}

	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		if err := writeSettings(l.path, DefaultSettings()); err != nil {
			return err
		}
		l.logger.Info().Str("path", l.path).Msg("Default settings written")
	}

	s, err := readSettings(l.path)
	if err != nil {
		return err
	}

	l.current.Store(&s)
	l.logger.Debug().Str("path", l.path).Int("warnings", len(s.Timer.offsets)).Msg("Settings loaded")
	return nil
}

// Reload re-reads the settings file.
func (l *Loader) Reload() error {
	return l.Load()
}

func readSettings(path string) (Settings, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}

	s := DefaultSettings()
	if err := f.MapTo(&s); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := s.normalize(); err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}

	return s, nil
}

func writeSettings(path string, s Settings) error {
	f := ini.Empty()
	esc := s.escaped()
	if err := ini.ReflectFrom(f, &esc); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := f.SaveTo(path); err != nil {
		return fmt.Errorf("write settings %s: %w", path, err)
	}
	return nil
}
