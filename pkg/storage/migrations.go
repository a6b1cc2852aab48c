package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the ordered schema migrations. SQL stays portable
// between PostgreSQL and SQLite so tests can run against :memory:.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(64) PRIMARY KEY,
					scope VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT NOT NULL DEFAULT '{}',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(scope, name)
				);

				CREATE INDEX IF NOT EXISTS idx_roles_scope ON roles(scope);
			`,
		},
		{
			Version:     2,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id VARCHAR(64) PRIMARY KEY,
					member_id VARCHAR(255) NOT NULL,
					member_type VARCHAR(16) NOT NULL,
					reference_id VARCHAR(255) NOT NULL,
					reference_type VARCHAR(32) NOT NULL,
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id),
					source VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(member_id, member_type, reference_id, reference_type)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_member ON memberships(member_id, member_type, reference_type);
				CREATE INDEX IF NOT EXISTS idx_memberships_reference ON memberships(reference_type, reference_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_source ON memberships(source);
			`,
		},
		{
			Version:     3,
			Description: "Create groups and group default roles",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS group_default_roles (
					group_id VARCHAR(64) NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					scope VARCHAR(32) NOT NULL,
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id),
					PRIMARY KEY (group_id, scope)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create environments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS environments (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     5,
			Description: "Create audit events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id VARCHAR(64) PRIMARY KEY,
					event_type VARCHAR(64) NOT NULL,
					actor VARCHAR(255) NOT NULL DEFAULT '',
					member_id VARCHAR(255) NOT NULL DEFAULT '',
					member_type VARCHAR(16) NOT NULL DEFAULT '',
					reference_type VARCHAR(32) NOT NULL DEFAULT '',
					reference_id VARCHAR(255) NOT NULL DEFAULT '',
					role_name VARCHAR(255) NOT NULL DEFAULT '',
					source VARCHAR(255) NOT NULL DEFAULT '',
					metadata TEXT,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
			`,
		},
	}
}

// ApplyMigrations applies every pending migration, tracking progress in the
// schema_migrations table.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range Migrations() {
		var applied int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, m.Version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}

		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, CURRENT_TIMESTAMP)`, m.Version, m.Description); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return nil
}
