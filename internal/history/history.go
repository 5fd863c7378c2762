// Package history persists one row per reaped worker in a SQLite database
// so completions can be inspected after the daemon exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

const sqlInsertCompletion = `INSERT INTO completions
	(session_id, source, target, filename, operation, worker_pid, exit_code,
	 status, details, error_count, errors, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqlRecentCompletions = `SELECT session_id, source, target, filename,
	operation, worker_pid, exit_code, status, details, error_count, errors,
	finished_at
	FROM completions
	WHERE (? = '' OR source = ?)
	ORDER BY finished_at DESC, id DESC
	LIMIT ?`

// Record is one worker completion.
type Record struct {
	Session    string
	Source     string
	Target     string
	Filename   string
	Op         string
	Pid        int
	ExitCode   int
	Status     string
	Details    string
	Errors     []string
	FinishedAt time.Time
}

// Store is the completion history database. The daemon is its only writer.
type Store struct {
	db      *sql.DB
	session string
	logger  *slog.Logger
}

// Open opens (creating if needed) the database at path and applies
// migrations. Each Store gets a fresh session id stamped on its rows.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: creating database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, session: uuid.NewString(), logger: logger}
	logger.Debug("history store opened", slog.String("path", path), slog.String("session", s.session))

	return s, nil
}

// Session returns the id stamped on rows written by this Store.
func (s *Store) Session() string {
	return s.session
}

// Record inserts one completion row.
func (s *Store) Record(ctx context.Context, rec Record) error {
	errs := rec.Errors
	if errs == nil {
		errs = []string{}
	}

	encoded, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("history: encoding errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, sqlInsertCompletion,
		s.session, rec.Source, rec.Target, rec.Filename, rec.Op, rec.Pid,
		rec.ExitCode, rec.Status, rec.Details, len(rec.Errors), string(encoded),
		rec.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: inserting completion for %s: %w", rec.Source, err)
	}

	return nil
}

// Recent returns up to limit completions, newest first. An empty source
// matches every directory.
func (s *Store) Recent(ctx context.Context, source string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentCompletions, source, source, limit)
	if err != nil {
		return nil, fmt.Errorf("history: querying completions: %w", err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		var (
			rec        Record
			errCount   int
			encoded    string
			finishedNs int64
		)

		if err := rows.Scan(&rec.Session, &rec.Source, &rec.Target, &rec.Filename,
			&rec.Op, &rec.Pid, &rec.ExitCode, &rec.Status, &rec.Details,
			&errCount, &encoded, &finishedNs); err != nil {
			return nil, fmt.Errorf("history: scanning completion: %w", err)
		}

		if err := json.Unmarshal([]byte(encoded), &rec.Errors); err != nil {
			return nil, fmt.Errorf("history: decoding errors: %w", err)
		}

		rec.FinishedAt = time.Unix(0, finishedNs)
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating completions: %w", err)
	}

	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
