package accounts

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the account schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(150) NOT NULL UNIQUE,
					email VARCHAR(254) NOT NULL,
					first_name VARCHAR(150) NOT NULL DEFAULT '',
					last_name VARCHAR(150) NOT NULL DEFAULT '',
					eduperson_unique_id VARCHAR(500) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
			`,
		},
		{
			Version:     2,
			Description: "Create groups and virtual_organizations tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(500) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS virtual_organizations (
					id BIGSERIAL PRIMARY KEY,
					group_id BIGINT NOT NULL UNIQUE REFERENCES groups(id) ON DELETE CASCADE,
					eduperson_entitlement VARCHAR(500) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create group_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS group_members (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, group_id)
				);

				CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);
				CREATE INDEX IF NOT EXISTS idx_group_members_group_id ON group_members(group_id);
			`,
		},
		{
			Version:     4,
			Description: "Create aai_sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS aai_sessions (
					id VARCHAR(64) PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					eduperson_unique_id VARCHAR(500) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_aai_sessions_expires_at ON aai_sessions(expires_at);
			`,
		},
	}
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range GetMigrations() {
		var exists bool
		err := db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)
		`, m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, description) VALUES ($1, $2)
		`, m.Version, m.Description); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}
	return nil
}
