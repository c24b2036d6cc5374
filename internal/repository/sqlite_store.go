package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"support-agent/internal/domain"
)

// SQLiteStore is the session transcript on a local SQLite file, used when the
// service runs outside AWS.
type SQLiteStore struct {
	db    *sql.DB
	clock *monotonicClock
}

// NewSQLiteStore opens dsn and creates the chat_history table if needed.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: sqlite dsn must not be empty")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// Each in-memory connection is its own database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db, clock: newMonotonicClock(time.Now)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id, created_at, id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append writes one immutable message to the session log.
func (s *SQLiteStore) Append(ctx context.Context, sessionID, role, content string) error {
	if err := validateAppend(sessionID, role); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	ts := s.clock.next()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, ts.Format(skTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// ReadOrdered returns every message of the session in ascending creation order.
func (s *SQLiteStore) ReadOrdered(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, role, content, created_at FROM chat_history
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: ReadOrdered query: %w", err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			msg   domain.Message
			rawTS string
		)
		if err := rows.Scan(&msg.SessionID, &msg.Role, &msg.Content, &rawTS); err != nil {
			return nil, fmt.Errorf("repository: ReadOrdered scan: %w", err)
		}
		msg.CreatedAt, err = time.Parse(skTimeLayout, rawTS)
		if err != nil {
			return nil, fmt.Errorf("repository: ReadOrdered parse created_at: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ReadOrdered rows: %w", err)
	}
	return msgs, nil
}

// DeleteSession removes every message of the session. Deleting an unknown
// session succeeds.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	return nil
}
