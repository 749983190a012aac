package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/nearline/nd/internal/types"
)

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the evidence database at path.
// WAL mode keeps concurrent worker reads cheap.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LookupFulltext(ctx context.Context, id types.CardID) (string, bool, error) {
	var fulltext string
	err := s.db.QueryRowContext(ctx, "SELECT fulltext FROM cards WHERE id = ?", int64(id)).Scan(&fulltext)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up card %d: %w", id, err)
	}
	return fulltext, true, nil
}

func (s *SQLiteStore) PutCard(ctx context.Context, id types.CardID, fulltext string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cards (id, fulltext) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET fulltext = excluded.fulltext",
		int64(id), fulltext)
	if err != nil {
		return fmt.Errorf("failed to store card %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) IDs(ctx context.Context) ([]types.CardID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM cards ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var ids []types.CardID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card ID: %w", err)
		}
		ids = append(ids, types.CardID(id))
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
