package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// migration is one forward-only schema step.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "ledger tables",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS resources (
				id {{AUTO_ID}},
				res_type TEXT NOT NULL,
				path TEXT NOT NULL,
				project TEXT NOT NULL,
				UNIQUE (project, path)
			)`,
			`CREATE TABLE IF NOT EXISTS pages (
				remote_id TEXT PRIMARY KEY,
				parent_remote_id TEXT,
				resource_id BIGINT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
				title TEXT NOT NULL,
				postfix TEXT,
				version INTEGER NOT NULL,
				checksum TEXT NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_resource ON pages(resource_id)`,
			`CREATE TABLE IF NOT EXISTS attachments (
				remote_id TEXT PRIMARY KEY,
				parent_page_remote_id TEXT NOT NULL,
				resource_id BIGINT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				checksum TEXT NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL,
				UNIQUE (parent_page_remote_id, name)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_attachments_resource ON attachments(resource_id)`,
		},
	},
	{
		version:     2,
		description: "project state and run history",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS projects (
				id TEXT PRIMARY KEY,
				last_sync_version TEXT NOT NULL DEFAULT '',
				last_sync_time BIGINT NOT NULL DEFAULT 0,
				schedule_enabled INTEGER NOT NULL DEFAULT 1,
				updated_at BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS sync_runs (
				id TEXT PRIMARY KEY,
				project TEXT NOT NULL,
				started_at BIGINT NOT NULL,
				finished_at BIGINT NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				units INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_runs_project ON sync_runs(project, started_at)`,
		},
	},
}

// migrate applies every migration newer than the recorded schema version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL,
		description TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.WithTx(ctx, func(l *Ledger) error {
			for _, stmt := range m.statements {
				stmt = strings.ReplaceAll(stmt, "{{AUTO_ID}}", s.dialect.autoIDType)
				if _, err := l.exec(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := l.exec(ctx,
				`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`,
				m.version, time.Now().UnixMilli(), m.description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
