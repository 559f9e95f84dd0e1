package config

import (
	"context"
	"fmt"
	"strings"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS admins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'admin',
		permissions_json TEXT NOT NULL DEFAULT '[]',
		is_active INTEGER NOT NULL DEFAULT 1,
		last_login_at DATETIME,
		last_logout_at DATETIME,
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		lock_until DATETIME,
		lockout_version INTEGER NOT NULL DEFAULT 0,
		created_by INTEGER,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS announcements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_pinned INTEGER NOT NULL DEFAULT 0,
		publish_date DATETIME NOT NULL,
		expiry_date DATETIME,
		attachments_json TEXT NOT NULL DEFAULT '[]',
		created_by INTEGER NOT NULL REFERENCES admins(id),
		modified_by INTEGER REFERENCES admins(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_announcements_publish ON announcements(publish_date)`,
	`CREATE INDEX IF NOT EXISTS idx_announcements_category ON announcements(category)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS admins (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'admin',
		permissions_json TEXT NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login_at TIMESTAMPTZ,
		last_logout_at TIMESTAMPTZ,
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		lock_until TIMESTAMPTZ,
		lockout_version BIGINT NOT NULL DEFAULT 0,
		created_by BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS announcements (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
		publish_date TIMESTAMPTZ NOT NULL,
		expiry_date TIMESTAMPTZ,
		attachments_json TEXT NOT NULL DEFAULT '[]',
		created_by BIGINT NOT NULL REFERENCES admins(id),
		modified_by BIGINT REFERENCES admins(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_announcements_publish ON announcements(publish_date)`,
	`CREATE INDEX IF NOT EXISTS idx_announcements_category ON announcements(category)`,
}

// MySQL cannot index unbounded TEXT or give it a default, hence VARCHAR and
// explicit values on every insert.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS admins (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(30) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL DEFAULT '',
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL DEFAULT 'admin',
		permissions_json TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login_at DATETIME(6) NULL,
		last_logout_at DATETIME(6) NULL,
		failed_attempts INT NOT NULL DEFAULT 0,
		lock_until DATETIME(6) NULL,
		lockout_version BIGINT NOT NULL DEFAULT 0,
		created_by BIGINT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS announcements (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(200) NOT NULL,
		content TEXT NOT NULL,
		category VARCHAR(32) NOT NULL,
		priority VARCHAR(16) NOT NULL DEFAULT 'medium',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
		publish_date DATETIME(6) NOT NULL,
		expiry_date DATETIME(6) NULL,
		attachments_json TEXT NOT NULL,
		created_by BIGINT NOT NULL,
		modified_by BIGINT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_announcements_publish (publish_date),
		INDEX idx_announcements_category (category),
		FOREIGN KEY (created_by) REFERENCES admins(id),
		FOREIGN KEY (modified_by) REFERENCES admins(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

func migrationsFor(dialect string) ([]string, error) {
	switch dialect {
	case DialectSQLite:
		return sqliteMigrations, nil
	case DialectPostgres:
		return postgresMigrations, nil
	case DialectMySQL:
		return mysqlMigrations, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", dialect)
	}
}

func (s *Store) migrate(ctx context.Context) error {
	migrations, err := migrationsFor(s.dialect)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			// Re-running an ALTER TABLE ADD COLUMN is a no-op.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
