// Package storage persists maintenance state, the whitelist, aggregate statistics, session
// history and the scheduled window in SQLite or MySQL through database/sql.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/woozymasta/maintsync/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// ErrUnsupportedDriver is returned by New for drivers other than sqlite and mysql.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Store is the durable, shared backend every node reads and writes.
// Implementations must be safe for concurrent use.
type Store interface {
	IsMaintenanceEnabled(ctx context.Context) (bool, error)
	SetMaintenanceEnabled(ctx context.Context, enabled bool) error
	Mode(ctx context.Context) (models.Mode, error)
	SetMode(ctx context.Context, mode models.Mode) error
	Reason(ctx context.Context) (string, error)
	SetReason(ctx context.Context, reason string) error

	IsWhitelisted(ctx context.Context, id uuid.UUID) (bool, error)
	WhitelistedPlayers(ctx context.Context) ([]models.WhitelistEntry, error)
	AddToWhitelist(ctx context.Context, entry models.WhitelistEntry) error
	RemoveFromWhitelist(ctx context.Context, id uuid.UUID) error
	ClearWhitelist(ctx context.Context) error

	Stats(ctx context.Context) (models.Stats, error)
	IncrementSessions(ctx context.Context) error
	AddDuration(ctx context.Context, d time.Duration) error
	IncrementPlayersKicked(ctx context.Context, n int) error
	IncrementConnectionsBlocked(ctx context.Context) error
	SetLastStarted(ctx context.Context, t time.Time) error
	SetLastEnded(ctx context.Context, t time.Time) error

	SaveSession(ctx context.Context, s models.Session) (int64, error)
	RecentSessions(ctx context.Context, limit int) ([]models.Session, error)
	PruneSessions(ctx context.Context, before time.Time) (int64, error)

	ScheduledStart(ctx context.Context) (time.Time, error)
	ScheduledEnd(ctx context.Context) (time.Time, error)
	SetScheduledStart(ctx context.Context, t time.Time) error
	SetScheduledEnd(ctx context.Context, t time.Time) error
	ClearSchedule(ctx context.Context) error

	// StartSession records an enable transition in one transaction.
	StartSession(ctx context.Context, state models.State) error
	// FinishSession records a disable transition and appends the session in one transaction.
	FinishSession(ctx context.Context, s models.Session) (int64, error)
	// SaveSchedule persists a window in one transaction.
	SaveSchedule(ctx context.Context, w models.Window) error
	// LoadSchedule returns the persisted window, zero when none is stored.
	LoadSchedule(ctx context.Context) (models.Window, error)

	Close() error
}

// dialect holds the statements that differ between SQLite and MySQL.
type dialect struct {
	name            string
	upsertSetting   string
	upsertWhitelist string
	migrationTable  string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name: DriverSQLite,
		upsertSetting: `INSERT INTO maintenance_settings (setting_key, setting_value) VALUES (?, ?)
			ON CONFLICT(setting_key) DO UPDATE SET setting_value = excluded.setting_value`,
		upsertWhitelist: `INSERT INTO maintenance_whitelist (uuid, name, reason, added_at, added_by) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(uuid) DO UPDATE SET
				name = excluded.name,
				reason = excluded.reason,
				added_at = excluded.added_at,
				added_by = excluded.added_by`,
		migrationTable: `CREATE TABLE IF NOT EXISTS maintenance_schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`,
	},
	DriverMySQL: {
		name: DriverMySQL,
		upsertSetting: `INSERT INTO maintenance_settings (setting_key, setting_value) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value)`,
		upsertWhitelist: `INSERT INTO maintenance_whitelist (uuid, name, reason, added_at, added_by) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				name = VALUES(name),
				reason = VALUES(reason),
				added_at = VALUES(added_at),
				added_by = VALUES(added_by)`,
		migrationTable: `CREATE TABLE IF NOT EXISTS maintenance_schema_migrations (
			version VARCHAR(255) NOT NULL PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`,
	},
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is the database/sql implementation of Store.
type Repository struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*Repository)(nil)

// New opens a connection for driver ("sqlite" or "mysql"), sets pool parameters and runs migrations.
// For sqlite the dsn is a file path; for mysql it is a go-sql-driver DSN.
func New(ctx context.Context, driver, dsn string) (*Repository, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := open(d, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", d.name, err)
	}

	if err := runMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db, dialect: d}, nil
}

func open(d dialect, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch d.name {
	case DriverSQLite:
		db, err = sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
		if err != nil {
			return nil, err
		}

	case DriverMySQL:
		cfg, perr := mysql.ParseDSN(dsn)
		if perr != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", perr)
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = 5 * time.Second
		}

		connector, cerr := mysql.NewConnector(cfg)
		if cerr != nil {
			return nil, cerr
		}
		db = sql.OpenDB(connector)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	return db, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Driver returns the name of the SQL dialect in use.
func (r *Repository) Driver() string {
	return r.dialect.name
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Times are stored as unix milliseconds, zero meaning unset.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
