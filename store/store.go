// Package store is the device-side durable state of notesync: the local note
// table and the queue of operations still owed to the remote authority.
//
// Both live in one embedded SQLite database so that every user mutation and
// its queue entry commit in a single transaction, and every sync confirmation
// (server id write-back plus queue removal) does too.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

// Store wraps the SQLite connection holding notes and operations.
type Store struct {
	conn   *sql.DB
	path   string
	policy UnsyncedDeletePolicy
	now    func() time.Time
	log    *zap.SugaredLogger
}

// Option configures a Store.
type Option func(*Store)

// WithUnsyncedDeletePolicy selects how deletes of never-synced notes touch the queue.
func WithUnsyncedDeletePolicy(p UnsyncedDeletePolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithClock overrides the clock used for operation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (creating if needed) the store at path and initializes its schema.
//
// The caller must call Close when done.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// One writer per device. A single connection also serializes the
	// transactions below without relying on SQLITE_BUSY retries.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{
		conn:   conn,
		path:   path,
		policy: DeleteCancelPending,
		now:    time.Now,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Policy returns the configured unsynced delete policy.
func (s *Store) Policy() UnsyncedDeletePolicy {
	return s.policy
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warnf("failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		client_id TEXT PRIMARY KEY,
		server_id INTEGER UNIQUE,
		content TEXT NOT NULL,
		created INTEGER NOT NULL,
		updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL CHECK (type IN ('create', 'update', 'delete')),
		client_id TEXT NOT NULL,
		server_id INTEGER,
		content TEXT NOT NULL DEFAULT '',
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		enqueued_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_lease (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		owner TEXT NOT NULL,
		expires INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_server_id ON notes(server_id);
	CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated);
	CREATE INDEX IF NOT EXISTS idx_operations_client_id ON operations(client_id);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return int64Ptr(n.Int64)
}
