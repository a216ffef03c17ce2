package history

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id         TEXT PRIMARY KEY,
	account_id INTEGER NOT NULL,
	line       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_account ON history(account_id);
`

// SQLiteStore persists history across daemon restarts. Rows are keyed by a
// random UUID; replay order is the SQLite rowid, which follows insertion
// order for this append-only table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the history database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// The store is accessed from the protocol server goroutine and every
	// session worker. A single connection sidesteps SQLITE_BUSY handling.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(accountID int, line string) error {
	_, err := s.db.Exec(
		"INSERT INTO history (id, account_id, line) VALUES (?, ?, ?)",
		uuid.NewString(), accountID, line,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// All implements Store.
func (s *SQLiteStore) All(accountID int) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT line FROM history WHERE account_id = ? ORDER BY rowid",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return lines, nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(accountID int) error {
	if _, err := s.db.Exec("DELETE FROM history WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
