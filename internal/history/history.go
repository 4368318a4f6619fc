// Package history keeps a local SQLite log of agent turns.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for unknown ids
var ErrNotFound = errors.New("history entry not found")

// Entry is one recorded turn
type Entry struct {
	ID        string        `json:"id"`
	Query     string        `json:"query"`
	Server    string        `json:"server,omitempty"`
	Tool      string        `json:"tool,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
	Response  string        `json:"response"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Store provides access to the history database
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and runs migrations
func New(dbPath string) (*Store, error) {
	dbPath, err := internal.ExpandHome(dbPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		server TEXT,
		tool TEXT,
		arguments TEXT,
		output TEXT,
		response TEXT NOT NULL,
		error_kind TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores e, assigning its ID and timestamp when unset
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, query, server, tool, arguments, output, response, error_kind, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Query, e.Server, e.Tool, e.Arguments, e.Output, e.Response, e.ErrorKind, e.Error,
		e.Duration.Milliseconds(), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// List returns up to limit turns, newest first. A limit of zero or less
// returns every turn.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, server, tool, arguments, output, response, error_kind, error, duration_ms, created_at
		 FROM turns ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Get returns the turn with the given id
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, server, tool, arguments, output, response, error_kind, error, duration_ms, created_at
		 FROM turns WHERE id = ?`,
		id,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                                     Entry
		server, tool, args, output, kind, msg sql.NullString
		durationMS                            int64
	)
	if err := row.Scan(&e.ID, &e.Query, &server, &tool, &args, &output, &e.Response, &kind, &msg, &durationMS, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan turn: %w", err)
	}
	e.Server = server.String
	e.Tool = tool.String
	e.Arguments = args.String
	e.Output = output.String
	e.ErrorKind = kind.String
	e.Error = msg.String
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return &e, nil
}
