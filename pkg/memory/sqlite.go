package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite persists context events in a SQLite database.
type SQLite struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens (or creates) the database file at path and ensures the
// schema. The returned store owns the connection.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent personas.
	db.SetMaxOpenConns(1)
	s, err := NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLite wraps an existing database handle and ensures schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureContextSchema(db); err != nil {
		return nil, fmt.Errorf("ensure context schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO context_events (id, persona, kind, payload_json, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Persona, string(e.Kind), string(payload), e.Timestamp.UTC().UnixNano(), e.Seq)
	return err
}

// Append implements Persistence.
func (s *SQLite) Append(ctx context.Context, e Event) error {
	return insertEvent(ctx, s.db, e)
}

// Replace implements Persistence. The delete and the insert share one
// transaction.
func (s *SQLite) Replace(ctx context.Context, persona string, e Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_events WHERE persona = ?`, persona); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return tx.Commit()
}

const selectEvents = `
	SELECT id, persona, kind, payload_json, created_at, seq
	FROM context_events
	WHERE persona = ?
`

// Latest implements Persistence.
func (s *SQLite) Latest(ctx context.Context, persona string) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx, selectEvents+` ORDER BY created_at DESC, seq DESC, rowid DESC LIMIT 1`, persona)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return e, true, nil
}

// List implements Persistence.
func (s *SQLite) List(ctx context.Context, persona string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` ORDER BY created_at ASC, seq ASC, rowid ASC`, persona)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteAll implements Persistence.
func (s *SQLite) DeleteAll(ctx context.Context, persona string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM context_events WHERE persona = ?`, persona)
	return err
}

// CountUnsummarized implements Persistence.
func (s *SQLite) CountUnsummarized(ctx context.Context, persona string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM context_events WHERE persona = ? AND kind <> ?`,
		persona, string(KindSummary),
	).Scan(&n)
	return n, err
}

// Close implements Persistence. Borrowed handles are left open.
func (s *SQLite) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (Event, error) {
	var (
		e           Event
		kind        string
		payloadJSON string
		created     int64
	)
	if err := sc.Scan(&e.ID, &e.Persona, &kind, &payloadJSON, &created, &e.Seq); err != nil {
		return Event{}, err
	}
	e.Kind = Kind(kind)
	e.Timestamp = time.Unix(0, created).UTC()
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return Event{}, fmt.Errorf("decode payload of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func ensureContextSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS context_events (
			id TEXT PRIMARY KEY,
			persona TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload_json TEXT,
			created_at INTEGER NOT NULL,
			seq INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_context_events_persona ON context_events(persona, created_at, seq);
	`)
	return err
}

var _ Persistence = (*SQLite)(nil)
