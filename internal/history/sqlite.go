package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base filesystem and dialect in package globals.
var gooseMu sync.Mutex

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Version returns the applied migration version.
func (s *SQLiteStore) Version() (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.GetDBVersion(s.db)
}

func (s *SQLiteStore) Load(ctx context.Context, identity string) (*Entry, bool, error) {
	if s.db == nil {
		return nil, false, ErrClosed
	}
	var (
		e        Entry
		snapshot string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, transform, input_snapshot, results FROM executions WHERE identity = ?`,
		identity,
	).Scan(&e.Identity, &e.Transform, &snapshot, &e.Results)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load execution %s: %w", identity, err)
	}
	if err := json.Unmarshal([]byte(snapshot), &e.InputSnapshot); err != nil {
		return nil, false, fmt.Errorf("failed to decode input snapshot of %s: %w", identity, err)
	}
	if e.InputSnapshot == nil {
		e.InputSnapshot = map[string]string{}
	}
	return &e, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, entry Entry) error {
	if s.db == nil {
		return ErrClosed
	}
	if entry.Identity == "" {
		return errors.New("history entry identity is required")
	}
	snap := entry.InputSnapshot
	if snap == nil {
		snap = map[string]string{}
	}
	snapshot, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode input snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (identity, transform, input_snapshot, results, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET
		   transform = excluded.transform,
		   input_snapshot = excluded.input_snapshot,
		   results = excluded.results,
		   updated_at = excluded.updated_at`,
		entry.Identity, entry.Transform, string(snapshot), entry.Results, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", entry.Identity, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, identity string) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("failed to remove execution %s: %w", identity, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
