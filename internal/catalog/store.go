package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"support-agent/internal/domain"
)

// Store is the SQLite-backed product catalog.
type Store struct {
	db *sql.DB
}

// NewStore opens dsn and ensures the products table exists.
func NewStore(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("catalog: dsn must not be empty")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		image TEXT NOT NULL,
		price REAL NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: create products table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindByKeywords returns up to limit products whose lowercased name contains
// any of the keywords.
func (s *Store) FindByKeywords(ctx context.Context, keywords []string, limit int) ([]domain.CatalogEntry, error) {
	if len(keywords) == 0 {
		return []domain.CatalogEntry{}, nil
	}
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}

	clauses := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords)+1)
	for _, k := range keywords {
		clauses = append(clauses, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(k)+"%")
	}
	args = append(args, limit)

	query := `SELECT id, name, price, image, created_at FROM products WHERE ` +
		strings.Join(clauses, " OR ") +
		` ORDER BY id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: FindByKeywords query: %w", err)
	}
	defer rows.Close()

	entries := []domain.CatalogEntry{}
	for rows.Next() {
		var e domain.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Price, &e.Image, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: FindByKeywords scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: FindByKeywords rows: %w", err)
	}
	return entries, nil
}

// Insert adds entries in one transaction and returns how many were written.
func (s *Store) Insert(ctx context.Context, entries []domain.CatalogEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("catalog: Insert begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO products (name, image, price) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("catalog: Insert prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Name, e.Image, e.Price); err != nil {
			return 0, fmt.Errorf("catalog: Insert %q: %w", e.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("catalog: Insert commit: %w", err)
	}
	return len(entries), nil
}
