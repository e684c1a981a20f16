// Package storage owns the single SQLite connection used by the bot.
// User and message repositories are stateless and run their statements
// through an Engine (or a Querier bound to one of its transactions).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"assistant-bot/internal/logging"
)

// ErrNotConnected is returned by every operation issued before Connect
// or after Disconnect.
var ErrNotConnected = errors.New("storage: not connected")

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc decodes one result row.
type ScanFunc func(Scanner) error

// Querier runs parameterized statements. Engine implements it with
// one transaction per Execute; the Querier passed to WithTx runs
// everything inside the surrounding transaction.
type Querier interface {
	Execute(ctx context.Context, query string, args ...any) (int64, error)
	FetchOne(ctx context.Context, scan ScanFunc, query string, args ...any) (bool, error)
	FetchAll(ctx context.Context, scan ScanFunc, query string, args ...any) error
}

// Engine holds the process-wide database handle.
type Engine struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// New returns an unconnected Engine for the given location. Both plain
// file paths and sqlite URLs (sqlite:///bot.db, sqlite+aiosqlite:///bot.db)
// are accepted.
func New(location string) *Engine {
	return &Engine{path: PathFromURL(location)}
}

// PathFromURL strips a sqlite URL scheme, leaving the file path.
func PathFromURL(location string) string {
	for _, prefix := range []string{"sqlite+aiosqlite:///", "sqlite:///", "file:"} {
		if strings.HasPrefix(location, prefix) {
			return strings.TrimPrefix(location, prefix)
		}
	}
	return location
}

// Path returns the database file path.
func (e *Engine) Path() string { return e.path }

// Connect opens the database and applies the schema migrations.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return nil
	}

	if dir := filepath.Dir(e.path); dir != "" && e.path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	dsn := e.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open db at %s: %w", e.path, err)
	}
	// One connection for the whole process: database/sql queues concurrent
	// callers, which gives SQLite the single writer it wants.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping db at %s: %w", e.path, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	e.db = db
	slog.Info("connected to database", "path", e.path)
	return nil
}

// Disconnect closes the connection. It is a no-op when not connected.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	slog.Info("database connection closed")
	return err
}

// IsConnected reports whether Connect succeeded and Disconnect has not run.
func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.db != nil
}

func (e *Engine) handle() (*sql.DB, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, ErrNotConnected
	}
	return e.db, nil
}

// Execute runs a single statement in its own transaction and returns
// the number of affected rows. The transaction is rolled back on failure.
func (e *Engine) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := e.WithTx(ctx, func(q Querier) error {
		n, err := q.Execute(ctx, query, args...)
		affected = n
		return err
	})
	return affected, err
}

// FetchOne scans the first row of the result. It reports false when the
// query matched nothing.
func (e *Engine) FetchOne(ctx context.Context, scan ScanFunc, query string, args ...any) (bool, error) {
	db, err := e.handle()
	if err != nil {
		return false, err
	}
	return fetchOne(ctx, db, scan, query, args...)
}

// FetchAll calls scan for every row of the result.
func (e *Engine) FetchAll(ctx context.Context, scan ScanFunc, query string, args ...any) error {
	db, err := e.handle()
	if err != nil {
		return err
	}
	return fetchAll(ctx, db, scan, query, args...)
}

// WithTx runs fn inside one transaction, committing when fn returns nil.
// fn must only use the Querier it is given: the engine has a single
// connection and calling back into the Engine from fn would block forever.
func (e *Engine) WithTx(ctx context.Context, fn func(q Querier) error) error {
	db, err := e.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(txQuerier{tx: tx}); err != nil {
		log := logging.FromContext(ctx)
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback failed", "error", rbErr)
		}
		log.Error("database error", "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txQuerier struct{ tx *sql.Tx }

func (q txQuerier) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	return execute(ctx, q.tx, query, args...)
}

func (q txQuerier) FetchOne(ctx context.Context, scan ScanFunc, query string, args ...any) (bool, error) {
	return fetchOne(ctx, q.tx, scan, query, args...)
}

func (q txQuerier) FetchAll(ctx context.Context, scan ScanFunc, query string, args ...any) error {
	return fetchAll(ctx, q.tx, scan, query, args...)
}

func execute(ctx context.Context, db queryer, query string, args ...any) (int64, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func fetchOne(ctx context.Context, db queryer, scan ScanFunc, query string, args ...any) (bool, error) {
	err := scan(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch one: %w", err)
	}
	return true, nil
}

func fetchAll(ctx context.Context, db queryer, scan ScanFunc, query string, args ...any) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("fetch all: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}
