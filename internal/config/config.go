// Package config handles the parsing and validation of node configuration
// from command-line arguments, environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/validate"
	"github.com/woozymasta/maintsync/internal/vars"
)

// Transport kinds accepted by --sync-transport.
const (
	TransportNone  = "none"
	TransportRedis = "redis"
	TransportNATS  = "nats"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Node      Node          `group:"Node Options" env-namespace:"MAINTSYNC"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"MAINTSYNC_DB"`
	Sync      Sync          `group:"Sync Options" namespace:"sync" env-namespace:"MAINTSYNC_SYNC"`
	Server    Server        `group:"Server Options" env-namespace:"MAINTSYNC"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"MAINTSYNC_RATE_LIMIT"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"MAINTSYNC_GEOIP"`
	Tasks     Tasks         `group:"Task Options" namespace:"task" env-namespace:"MAINTSYNC_TASK"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"MAINTSYNC_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Node identifies this process on the sync channel.
type Node struct {
	// betteralign:ignore

	Name         string `short:"n" long:"node" env:"NODE" description:"Node name, unique across the fleet (default: hostname)"`
	Settings     string `short:"s" long:"settings" env:"SETTINGS" description:"Path to reloadable INI settings" default:"maintsync.ini"`
	ReplayWrites bool   `long:"replay-writes" env:"REPLAY_WRITES" description:"Repeat store writes for maintenance changes received from other nodes"`
}

// Storage holds database configuration.
type Storage struct {
	// betteralign:ignore

	Driver string `long:"driver" env:"DRIVER" description:"Database driver" choice:"sqlite" choice:"mysql" default:"sqlite"`
	Path   string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"maintsync.db"`
	DSN    string `long:"dsn" env:"DSN" description:"MySQL DSN, e.g. user:pass@tcp(host:3306)/maintenance"`
}

// Source returns the driver-specific data source.
func (s Storage) Source() string {
	if s.Driver == "mysql" {
		return s.DSN
	}
	return s.Path
}

// Sync holds pub/sub transport configuration.
type Sync struct {
	// betteralign:ignore

	Transport string `long:"transport" env:"TRANSPORT" description:"Pub/sub transport for cross-node sync" choice:"none" choice:"redis" choice:"nats" default:"none"`
	Redis     Redis  `group:"Redis Options" namespace:"redis" env-namespace:"REDIS"`
	NATS      NATS   `group:"NATS Options" namespace:"nats" env-namespace:"NATS"`
}

// Redis holds Redis pub/sub options.
type Redis struct {
	// betteralign:ignore

	Addr     string `long:"addr" env:"ADDR" description:"Redis address" default:"127.0.0.1:6379"`
	Username string `long:"username" env:"USERNAME" description:"Redis ACL username"`
	Password string `long:"password" env:"PASSWORD" description:"Redis password"`
	DB       int    `long:"db" env:"DB" description:"Redis database index" default:"0"`
	Channel  string `long:"channel" env:"CHANNEL" description:"Pub/sub channel" default:"maintenance:sync"`
}

// NATS holds NATS options.
type NATS struct {
	// betteralign:ignore

	URL     string `long:"url" env:"URL" description:"NATS server URL" default:"nats://127.0.0.1:4222"`
	Subject string `long:"subject" env:"SUBJECT" description:"Subject for sync messages" default:"maintenance.sync"`
}

// Server holds operator API configuration.
type Server struct {
	// betteralign:ignore

	Address     string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address, empty disables the API" default:":8080"`
	AuthToken   string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Operator authentication token"`
	MaxBodySize int64  `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming requests" default:"4096"`
	TrustProxy  bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
}

// RateLimit holds gate rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Hard IP limit: requests count" default:"30"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Hard IP limit: window duration" default:"1m"`
	SoftLimitDur   time.Duration `long:"soft" env:"SOFT" description:"Soft limit: count a blocked player once within duration" default:"1m"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file, empty disables country lookup"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Redownload the database when older than this" default:"168h"`
}

// Tasks holds one-shot task flags. When any is set the process runs it and exits.
type Tasks struct {
	// betteralign:ignore

	PruneHistory    string `long:"prune-history" description:"Delete session history older than duration (e.g. 30d)"`
	ImportWhitelist string `long:"import-whitelist" description:"Import whitelist entries from a uuid,name[,reason] file"`
	Workers         int    `long:"workers" description:"Workers for import tasks" default:"10"`
	GenerateCount   int    `long:"gen-fake-whitelist" hidden:"true"`
}

// Any reports whether a task flag is set.
func (t Tasks) Any() bool {
	return t.PruneHistory != "" || t.ImportWhitelist != "" || t.GenerateCount > 0
}

// Parse loads an optional .env file, then reads the configuration from flags and environment.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Failed to load .env file:", err)
		os.Exit(1)
	}

	cfg, err := parse(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	return cfg
}

func parse(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.Version {
		return &cfg, nil
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Node.Name == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("node name not set and hostname unavailable: %w", err)
		}
		c.Node.Name, _, _ = strings.Cut(host, ".")
	}
	if !validate.NodeName(c.Node.Name) {
		return fmt.Errorf("invalid node name %q: use up to 32 letters, digits, '-' or '_'", c.Node.Name)
	}

	if c.Storage.Driver == "mysql" && c.Storage.DSN == "" {
		return errors.New("required flag `--db-dsn' or environment variable `MAINTSYNC_DB_DSN` must be set for the mysql driver")
	}

	if c.Server.Address != "" && c.Server.AuthToken == "" && !c.Tasks.Any() {
		return errors.New("required flag `-t, --auth-token' or environment variable `MAINTSYNC_AUTH_TOKEN` was not specified")
	}

	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = 1
	}

	return nil
}
