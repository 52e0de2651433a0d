package accounts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations. The DDL sticks to types and
// syntax that PostgreSQL and SQLite both accept.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and refresh_tokens tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					password_hash TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS refresh_tokens (
					token_hash TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					expires_at TIMESTAMP NOT NULL,
					revoked_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create accounts and account_users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					plan TEXT,
					trial_start TIMESTAMP,
					trial_end TIMESTAMP,
					has_had_paid_plan BOOLEAN NOT NULL DEFAULT FALSE,
					is_free_account BOOLEAN NOT NULL DEFAULT FALSE,
					stripe_customer_id TEXT,
					stripe_subscription_id TEXT,
					max_contacts INTEGER NOT NULL DEFAULT 0,
					max_locations INTEGER NOT NULL DEFAULT 0,
					max_users INTEGER NOT NULL DEFAULT 0,
					max_prompt_pages INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS account_users (
					account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (account_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_account_users_user_id ON account_users(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create businesses and admins tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS businesses (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					address_street TEXT,
					address_city TEXT,
					address_state TEXT,
					address_zip TEXT,
					address_country TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_businesses_account_id ON businesses(account_id);

				CREATE TABLE IF NOT EXISTS admins (
					user_id TEXT PRIMARY KEY,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     4,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id TEXT PRIMARY KEY,
					occurred_at TIMESTAMP NOT NULL,
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					user_id TEXT,
					email TEXT,
					account_id TEXT,
					session_id TEXT,
					request_id TEXT,
					ip_address TEXT,
					user_agent TEXT,
					message TEXT,
					error_message TEXT,
					metadata TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id, occurred_at);
				CREATE INDEX IF NOT EXISTS idx_audit_events_account_id ON audit_events(account_id, occurred_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, log *logrus.Entry) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenancy_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM tenancy_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		migrationLog := log.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		migrationLog.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tenancy_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		migrationLog.Info("Migration completed")
	}

	return nil
}
