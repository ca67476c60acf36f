package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clipsync/internal/domain"
	"clipsync/internal/repository"
)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	output_path TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

// historyCap bounds the history table; oldest rows are trimmed on append.
const historyCap = 1000

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) repository.HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createHistoryTable); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

func (r *HistoryRepository) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO history (title, url, output_path, created_at) VALUES (?, ?, ?, ?)`,
		entry.Title, entry.URL, entry.OutputPath, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}

	_, err = r.db.ExecContext(ctx, `
DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
		historyCap)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

func (r *HistoryRepository) List(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, url, output_path, created_at FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.URL, &e.OutputPath, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func (r *HistoryRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
