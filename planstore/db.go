package planstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS plan_nodes (
	id            TEXT PRIMARY KEY,
	plan_id       TEXT NOT NULL,
	parent_id     TEXT,
	kind          TEXT NOT NULL,
	ordering      INTEGER NOT NULL DEFAULT 0,
	name          TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL,
	starting      INTEGER NOT NULL DEFAULT 0,
	label         TEXT NOT NULL DEFAULT '',
	template_id   TEXT NOT NULL DEFAULT '',
	crate_storage TEXT NOT NULL DEFAULT '',
	auth_token_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_plan_nodes_plan ON plan_nodes(plan_id);
CREATE INDEX IF NOT EXISTS idx_plan_nodes_parent ON plan_nodes(parent_id);
`

// OpenDB opens a SQLite database at the given path.
// If path is ":memory:", uses an in-memory database.
// Sets WAL mode, enables foreign keys, and creates the plan schema.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating plan schema: %w", err)
	}

	return db, nil
}
