// Package store persists the reconciliation ledger: which local paths have
// been published as which remote pages and attachments, plus per-project
// sync state and run history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// LookupBatchSize bounds the number of paths bound into one IN (...) query.
const LookupBatchSize = 100

type dialect struct {
	name       string
	driver     string
	numbered   bool // $1, $2 placeholders
	autoIDType string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name:       DriverSQLite,
		driver:     "sqlite",
		autoIDType: "INTEGER PRIMARY KEY AUTOINCREMENT",
	},
	DriverPostgres: {
		name:       DriverPostgres,
		driver:     "postgres",
		numbered:   true,
		autoIDType: "BIGSERIAL PRIMARY KEY",
	},
}

// Drivers lists the supported database drivers in sorted order.
func Drivers() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// rebind rewrites '?' placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
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

// Store wraps the ledger database.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the ledger database and applies pending migrations.
// For sqlite the DSN is a file path; its directory is created if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	connStr := dsn
	if d.name == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = "file:" + dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open(d.driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.name == DriverSQLite {
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the dialect name in use.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ledger returns a ledger bound to the database outside any transaction.
// With sqlite it must not be used while a transaction is open.
func (s *Store) Ledger() *Ledger {
	return &Ledger{q: s.db, d: s.dialect}
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*Ledger) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Ledger{q: tx, d: s.dialect}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger exposes the ledger operations on either the database or an open
// transaction.
type Ledger struct {
	q queryer
	d dialect
}

func (l *Ledger) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return l.q.ExecContext(ctx, l.d.rebind(query), args...)
}

func (l *Ledger) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return l.q.QueryContext(ctx, l.d.rebind(query), args...)
}

func (l *Ledger) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return l.q.QueryRowContext(ctx, l.d.rebind(query), args...)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
