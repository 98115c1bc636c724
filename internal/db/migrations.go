package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/taskgrid/internal/logging"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: tasks",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add task_events transition log",
		SQL:         migration002SQL,
	},
	{
		Version:     3,
		Description: "add review_note column to tasks",
		SQL:         migration003SQL,
	},
}

// Timestamps are stored as RFC 3339 text; list fields as JSON arrays.
const migration001SQL = `
CREATE TABLE tasks (
    seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
    id                  TEXT NOT NULL UNIQUE,
    name                TEXT NOT NULL,
    location            TEXT NOT NULL DEFAULT '',
    agent               TEXT NOT NULL,
    status              TEXT NOT NULL,
    priority            TEXT NOT NULL,
    phase               TEXT NOT NULL DEFAULT '',
    dependencies        TEXT NOT NULL DEFAULT '[]',
    deliverables        TEXT NOT NULL DEFAULT '[]',
    acceptance_criteria TEXT NOT NULL DEFAULT '[]',
    claimed_by          TEXT NOT NULL DEFAULT '',
    claimed_at          TEXT,
    started_at          TEXT,
    completed_at        TEXT,
    files_created       TEXT NOT NULL DEFAULT '[]',
    velocity            REAL,
    estimated_hours     REAL,
    actual_minutes      REAL,
    created_at          TEXT NOT NULL
);

CREATE INDEX idx_tasks_agent_status ON tasks(agent, status);
CREATE INDEX idx_tasks_status ON tasks(status);
`

const migration002SQL = `
CREATE TABLE task_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id     TEXT NOT NULL REFERENCES tasks(id),
    from_status TEXT NOT NULL,
    to_status   TEXT NOT NULL,
    actor       TEXT NOT NULL,
    at          TEXT NOT NULL
);

CREATE INDEX idx_task_events_task ON task_events(task_id, id);
`

const migration003SQL = `
ALTER TABLE tasks ADD COLUMN review_note TEXT NOT NULL DEFAULT '';
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		logging.Component("db").Infof("applied migration %d: %s", migration.Version, migration.Description)
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
