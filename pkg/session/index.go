package session

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	model         TEXT NOT NULL,
	provider      TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	archived      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
`

// Index is the SQLite-backed session summary catalog. It is advisory:
// the JSONL files remain the source of truth and the index can be
// rebuilt from them at any time.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Empty reports whether the index has no rows.
func (ix *Index) Empty() (bool, error) {
	var count int
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// Upsert inserts or replaces a session summary.
func (ix *Index) Upsert(s Summary) error {
	_, err := ix.db.Exec(`
		INSERT INTO sessions (id, model, provider, created_at, updated_at, message_count, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			provider = excluded.provider,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			archived = excluded.archived`,
		s.ID, s.Model, s.Provider, s.CreatedAt, s.UpdatedAt, s.MessageCount, boolToInt(s.Archived))
	return err
}

// Touch bumps a session's updated time and message count after an append.
func (ix *Index) Touch(id string, updatedAt time.Time) error {
	_, err := ix.db.Exec(`
		UPDATE sessions SET updated_at = ?, message_count = message_count + 1 WHERE id = ?`,
		updatedAt, id)
	return err
}

// Delete removes a session from the index.
func (ix *Index) Delete(id string) error {
	_, err := ix.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// Rename moves a session to a new ID, used when archiving.
func (ix *Index) Rename(oldID, newID string) error {
	_, err := ix.db.Exec(`UPDATE sessions SET id = ?, archived = 1 WHERE id = ?`, newID, oldID)
	return err
}

// Get returns one summary, or ErrSessionNotFound.
func (ix *Index) Get(id string) (Summary, error) {
	row := ix.db.QueryRow(`
		SELECT id, model, provider, created_at, updated_at, message_count, archived
		FROM sessions WHERE id = ?`, id)

	var s Summary
	var archived int
	if err := row.Scan(&s.ID, &s.Model, &s.Provider, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount, &archived); err != nil {
		if err == sql.ErrNoRows {
			return Summary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return Summary{}, err
	}
	s.Archived = archived != 0
	return s, nil
}

// List returns all summaries, most recently updated first.
func (ix *Index) List() ([]Summary, error) {
	rows, err := ix.db.Query(`
		SELECT id, model, provider, created_at, updated_at, message_count, archived
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		var archived int
		if err := rows.Scan(&s.ID, &s.Model, &s.Provider, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount, &archived); err != nil {
			return nil, err
		}
		s.Archived = archived != 0
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
