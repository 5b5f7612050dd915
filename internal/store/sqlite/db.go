package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	// Single writer; the services serialize writes anyway.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates the chat schema. Idempotent; safe to run at every startup.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Bounded recent message window. seq doubles as the global
		// delivery order; AUTOINCREMENT keeps it monotonic even across
		// deletes so a pruned log never reuses an order slot.
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			username VARCHAR(50) NOT NULL,
			device_id VARCHAR(64) NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			reply_message_id TEXT DEFAULT NULL,
			reply_username VARCHAR(50) DEFAULT NULL,
			reply_text TEXT DEFAULT NULL
		);`,
		// Reactions; the unique constraint is what makes toggle a pure
		// insert-or-delete.
		`CREATE TABLE IF NOT EXISTS reactions (
			message_id TEXT NOT NULL,
			emoji VARCHAR(16) NOT NULL,
			device_id VARCHAR(64) NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, emoji, device_id)
		);`,
		// Device bans.
		`CREATE TABLE IF NOT EXISTS bans (
			device_id VARCHAR(64) PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			banned_by VARCHAR(50) NOT NULL,
			banned_at DATETIME NOT NULL
		);`,
		// Report queue. One report per (message, reporter device).
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			message_text TEXT NOT NULL,
			reported_username VARCHAR(50) NOT NULL,
			reported_device_id VARCHAR(64) NOT NULL,
			reporter_device_id VARCHAR(64) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			UNIQUE (message_id, reporter_device_id)
		);`,
		// Username -> device attribution, refreshed on every chat entry.
		`CREATE TABLE IF NOT EXISTS device_names (
			username VARCHAR(50) NOT NULL,
			device_id VARCHAR(64) NOT NULL,
			last_used_at DATETIME NOT NULL,
			PRIMARY KEY (username, device_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_username ON messages(username);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_device ON messages(device_id);`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_message ON reports(message_id);`,
		`CREATE INDEX IF NOT EXISTS idx_device_names_username ON device_names(username);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
