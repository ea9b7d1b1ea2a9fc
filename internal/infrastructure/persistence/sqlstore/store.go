// Package sqlstore implements the repository ports on database/sql, with
// SQLite as the default driver and Postgres through pgx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"twitchbot/internal/domain"
)

var ErrUnsupportedDriver = errors.New("sqlstore: unsupported driver")

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type dialect struct {
	autoID    string
	timestamp string
	boolean   string
}

var dialects = map[string]dialect{
	DriverSQLite:   {autoID: "INTEGER PRIMARY KEY AUTOINCREMENT", timestamp: "TIMESTAMP", boolean: "BOOLEAN"},
	DriverPostgres: {autoID: "BIGSERIAL PRIMARY KEY", timestamp: "TIMESTAMPTZ", boolean: "BOOLEAN"},
}

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to dsn with driver and runs the schema migration.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: empty dsn")
	}

	if driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("sqlstore: creating dir: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Driver() string { return s.driver }

func (s *Store) migrate(ctx context.Context) error {
	d := dialects[s.driver]
	tables := []struct {
		name   string
		schema string
	}{
		{"custom_commands", `
CREATE TABLE IF NOT EXISTS custom_commands (
	channel TEXT NOT NULL,
	name TEXT NOT NULL,
	response TEXT NOT NULL,
	updated_at ` + d.timestamp + ` NOT NULL,
	PRIMARY KEY (channel, name)
)`},
		{"quotes", `
CREATE TABLE IF NOT EXISTS quotes (
	id ` + d.autoID + `,
	channel TEXT NOT NULL,
	alias TEXT,
	text TEXT NOT NULL,
	username TEXT,
	created_at ` + d.timestamp + ` NOT NULL
)`},
		{"counters", `
CREATE TABLE IF NOT EXISTS counters (
	channel TEXT NOT NULL,
	name TEXT NOT NULL,
	value INTEGER NOT NULL,
	PRIMARY KEY (channel, name)
)`},
		{"balances", `
CREATE TABLE IF NOT EXISTS balances (
	channel TEXT NOT NULL,
	username TEXT NOT NULL,
	amount BIGINT NOT NULL,
	PRIMARY KEY (channel, username)
)`},
		{"currency_names", `
CREATE TABLE IF NOT EXISTS currency_names (
	channel TEXT PRIMARY KEY,
	name TEXT NOT NULL
)`},
		{"message_timers", `
CREATE TABLE IF NOT EXISTS message_timers (
	channel TEXT NOT NULL,
	name TEXT NOT NULL,
	message TEXT NOT NULL,
	interval_seconds INTEGER NOT NULL,
	active ` + d.boolean + ` NOT NULL,
	PRIMARY KEY (channel, name)
)`},
		{"settings", `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at ` + d.timestamp + ` NOT NULL
)`},
		{"notifications", `
CREATE TABLE IF NOT EXISTS notifications (
	id ` + d.autoID + `,
	type TEXT NOT NULL,
	channel TEXT,
	username TEXT,
	amount REAL,
	message TEXT,
	metadata TEXT,
	created_at ` + d.timestamp + ` NOT NULL
)`},
	}

	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, t.schema); err != nil {
			return fmt.Errorf("sqlstore: migrate %s: %w", t.name, err)
		}
	}

	const idx = `CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at DESC)`
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("sqlstore: migrate notifications index: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func key(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func encodeMetadata(data map[string]string) any {
	if len(data) == 0 {
		return nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return string(encoded)
}

func decodeMetadata(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil
	}
	return metadata
}

var _ interface {
	domain.CustomCommandRepository
	domain.QuoteRepository
	domain.CounterRepository
	domain.BalanceRepository
	domain.CurrencyRepository
	domain.MessageTimerRepository
	domain.ToggleRepository
	domain.NotificationRepository
} = (*Store)(nil)
