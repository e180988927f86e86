package records

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is bumped when the table layout changes.
const SchemaVersion = 1

// InitSchema creates the story tables if they do not exist. It works with
// any SQLite driver.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS stories (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt        TEXT NOT NULL,
		response      TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		style         TEXT NOT NULL DEFAULT '',
		mode          TEXT NOT NULL DEFAULT '',
		memory_added  INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		filename   TEXT NOT NULL UNIQUE,
		file_hash  TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS story_documents (
		story_id    INTEGER NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		PRIMARY KEY (story_id, document_id)
	);

	CREATE INDEX IF NOT EXISTS idx_stories_created_at ON stories(created_at);
	CREATE INDEX IF NOT EXISTS idx_stories_style ON stories(style);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
