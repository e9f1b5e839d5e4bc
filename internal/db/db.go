package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/tripboard/tripstats/internal/timeutil"
)

//go:embed schema.sql
var schemaSQL string

// schemaPresence is the optional session store. Deployments
// without presence tracking simply lack the table.
const schemaPresence = `
CREATE TABLE IF NOT EXISTS user_sessions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id          TEXT NOT NULL REFERENCES users(id),
    started_at       TEXT NOT NULL,
    ended_at         TEXT,
    last_seen_at     TEXT,
    duration_seconds INTEGER
);

CREATE INDEX IF NOT EXISTS idx_user_sessions_user_started
    ON user_sessions(user_id, started_at);
`

// ErrUnavailable reports that the store could not be reached.
var ErrUnavailable = errors.New("storage unavailable")

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "pgx"
)

// DB manages a write connection and a read-only pool. For
// PostgreSQL both point at the same pool and no schema is
// created; the application's migrations own it.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	driver string
	mu     sync.Mutex // serializes writes
}

type options struct {
	presence bool
}

// Option configures Open.
type Option func(*options)

// WithoutPresence skips creating the user_sessions table, for
// stores that do not track presence.
func WithoutPresence() Option {
	return func(o *options) { o.presence = false }
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_cache_size", "-64000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens a SQLite database at the given path
// with separate writer and reader connections.
func Open(path string, opts ...Option) (*DB, error) {
	o := options{presence: true}
	for _, opt := range opts {
		opt(&o)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open(driverSQLite, makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	db := &DB{writer: writer, driver: driverSQLite}
	if err := db.init(o); err != nil {
		writer.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	// The read-only pool is opened after init so that the file
	// exists when mode=ro is applied.
	reader, err := sql.Open(driverSQLite, makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	db.reader = reader
	return db, nil
}

// OpenPostgres connects to an existing PostgreSQL store through
// the pgx database/sql driver and verifies it is reachable.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	pool, err := sql.Open(driverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	pool.SetMaxOpenConns(16)
	pool.SetMaxIdleConns(4)
	pool.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{writer: pool, reader: pool, driver: driverPostgres}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) init(o options) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(schemaSQL); err != nil {
		return err
	}
	if o.presence {
		if _, err := db.writer.Exec(schemaPresence); err != nil {
			return fmt.Errorf("creating presence schema: %w", err)
		}
	}
	return nil
}

// Ping verifies the read pool can reach the store.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.reader.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging %s: %w", db.driver, classify(err))
	}
	return nil
}

// HasPresence reports whether the store carries session rows.
func (db *DB) HasPresence(ctx context.Context) (bool, error) {
	query := `SELECT count(*) FROM sqlite_master
		WHERE type = 'table' AND name = 'user_sessions'`
	if db.driver == driverPostgres {
		query = `SELECT count(*) FROM information_schema.tables
			WHERE table_schema = current_schema()
			AND table_name = 'user_sessions'`
	}
	var n int
	if err := db.reader.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return false, fmt.Errorf("checking presence table: %w", classify(err))
	}
	return n > 0, nil
}

// Close closes both writer and reader connections.
func (db *DB) Close() error {
	if db.reader == nil || db.reader == db.writer {
		return db.writer.Close()
	}
	return errors.Join(db.writer.Close(), db.reader.Close())
}

// Update executes fn within a write lock and transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (db *DB) Update(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Reader returns the read-only connection pool.
func (db *DB) Reader() *sql.DB {
	return db.reader
}

// rebind rewrites ? placeholders to $N for PostgreSQL. Queries
// in this package never contain a literal question mark.
func (db *DB) rebind(query string) string {
	if db.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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

// bindTime renders a bound timestamp for the active driver.
// SQLite stores timestamps as text, so bounds compare lexically.
// Midnight bounds bind as a bare date: it sorts before every
// timestamp of that day in both the RFC 3339 and the space-separated
// form, whatever the fractional seconds.
func (db *DB) bindTime(t time.Time) any {
	t = t.UTC()
	if db.driver == driverPostgres {
		return t
	}
	if t.Equal(timeutil.Day(t)) {
		return timeutil.FormatDate(t)
	}
	return timeutil.Format(t)
}

func (db *DB) query(
	ctx context.Context, query string, args ...any,
) (*sql.Rows, error) {
	rows, err := db.reader.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (db *DB) queryRow(
	ctx context.Context, query string, args ...any,
) *sql.Row {
	return db.reader.QueryRowContext(ctx, db.rebind(query), args...)
}

// classify marks connectivity failures with ErrUnavailable so
// callers can tell an outage from a bad query.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrBusy,
			sqlite3.ErrLocked, sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// nullTime scans a timestamp column from either driver: pgx
// yields time.Time, SQLite yields RFC3339 text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*n = nullTime{}
		return nil
	case time.Time:
		*n = nullTime{Time: x.UTC(), Valid: true}
		return nil
	case string:
		return n.parse(x)
	case []byte:
		return n.parse(string(x))
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func (n *nullTime) parse(s string) error {
	if s == "" {
		*n = nullTime{}
		return nil
	}
	t, ok := timeutil.Parse(s)
	if !ok {
		return fmt.Errorf("parsing timestamp %q", s)
	}
	*n = nullTime{Time: t, Valid: true}
	return nil
}

// Ptr returns nil for NULL.
func (n nullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
