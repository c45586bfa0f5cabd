package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create core tables",
		sql: `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	sensitive_info TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_url ON projects(url);

CREATE TABLE IF NOT EXISTS custom_tests (
	id TEXT PRIMARY KEY,
	project_id TEXT,
	name TEXT NOT NULL,
	prompt TEXT NOT NULL,
	type TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	is_active INTEGER,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_custom_tests_project_type ON custom_tests(project_id, type);
CREATE INDEX IF NOT EXISTS idx_custom_tests_type ON custom_tests(type);
CREATE INDEX IF NOT EXISTS idx_custom_tests_category ON custom_tests(category);

CREATE TABLE IF NOT EXISTS test_sessions (
	id TEXT PRIMARY KEY,
	website_url TEXT NOT NULL,
	modes TEXT NOT NULL DEFAULT '[]',
	email TEXT NOT NULL DEFAULT '',
	credentials TEXT,
	status TEXT NOT NULL,
	remote_session_id TEXT NOT NULL DEFAULT '',
	messages TEXT NOT NULL DEFAULT '[]',
	results TEXT,
	started_at TEXT,
	completed_at TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_test_sessions_website ON test_sessions(website_url, started_at);
CREATE INDEX IF NOT EXISTS idx_test_sessions_status ON test_sessions(status);

CREATE TABLE IF NOT EXISTS test_executions (
	id TEXT PRIMARY KEY,
	test_session_id TEXT NOT NULL,
	name TEXT NOT NULL,
	prompt TEXT NOT NULL,
	website_url TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	passed INTEGER,
	message TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	screenshots TEXT NOT NULL DEFAULT '[]',
	started_at TEXT,
	completed_at TEXT,
	created_at TEXT NOT NULL,
	FOREIGN KEY(test_session_id) REFERENCES test_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_test_executions_session ON test_executions(test_session_id);
CREATE INDEX IF NOT EXISTS idx_test_executions_status ON test_executions(status);

CREATE TABLE IF NOT EXISTS test_reports (
	id TEXT PRIMARY KEY,
	test_session_id TEXT NOT NULL,
	summary TEXT NOT NULL,
	issues TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	FOREIGN KEY(test_session_id) REFERENCES test_sessions(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_test_reports_session ON test_reports(test_session_id);
`,
	},
}

func RunMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migrations tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("failed to ensure _meta table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0')`); err != nil {
		return fmt.Errorf("failed to seed schema version: %w", err)
	}

	var currentRaw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&currentRaw); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	current, err := strconv.Atoi(currentRaw)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", currentRaw, err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}
