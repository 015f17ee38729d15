package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables owned by the auth service. Statements are
// idempotent so EnsureSchema can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                 BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name               VARCHAR(255)    NOT NULL,
		email              VARCHAR(255)    NOT NULL,
		password_hash      VARCHAR(255)    NOT NULL,
		role               ENUM('admin','manager','employee') NOT NULL DEFAULT 'employee',
		status             ENUM('active','inactive','deleted') NOT NULL DEFAULT 'active',
		reset_token        CHAR(64)        NULL,
		reset_token_expiry DATETIME        NULL,
		last_login_at      DATETIME        NULL,
		created_at         DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_email (email),
		UNIQUE KEY uq_users_reset_token (reset_token)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token             CHAR(64)        NOT NULL PRIMARY KEY,
		user_id           BIGINT UNSIGNED NOT NULL,
		expires_at        DATETIME        NOT NULL,
		is_revoked        TINYINT(1)      NOT NULL DEFAULT 0,
		revoked_at        DATETIME        NULL,
		created_by_ip     VARCHAR(64)     NOT NULL DEFAULT '',
		revoked_by_ip     VARCHAR(64)     NULL,
		replaced_by_token CHAR(64)        NULL,
		created_at        DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_refresh_tokens_user (user_id),
		KEY idx_refresh_tokens_expires (expires_at),
		CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates missing tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
