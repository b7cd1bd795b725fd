package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables the poster position service needs.  Every
// statement is idempotent so Migrate can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            CHAR(36)     NOT NULL PRIMARY KEY,
		name          VARCHAR(120) NOT NULL,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role          VARCHAR(16)  NOT NULL,
		created_at    DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS posters (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		title      VARCHAR(255) NOT NULL,
		created_at DATETIME(6)  NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS poster_positions (
		id         CHAR(36)       NOT NULL PRIMARY KEY,
		poster_id  CHAR(36)       NOT NULL,
		latitude   DECIMAL(9, 6)  NOT NULL,
		longitude  DECIMAL(10, 6) NOT NULL,
		expires_at DATETIME(6)    NOT NULL,
		posted_at  DATETIME(6)    NULL,
		posted_by  CHAR(36)       NULL,
		removed_at DATETIME(6)    NULL,
		removed_by CHAR(36)       NULL,
		damaged    BOOLEAN        NOT NULL DEFAULT FALSE,
		image      VARCHAR(255)   NULL,
		created_at DATETIME(6)    NOT NULL,
		updated_at DATETIME(6)    NOT NULL,
		KEY idx_poster_positions_poster (poster_id, created_at),
		KEY idx_poster_positions_created (created_at, id),
		CONSTRAINT fk_poster_positions_poster FOREIGN KEY (poster_id) REFERENCES posters (id) ON DELETE CASCADE,
		CONSTRAINT fk_poster_positions_posted_by FOREIGN KEY (posted_by) REFERENCES users (id),
		CONSTRAINT fk_poster_positions_removed_by FOREIGN KEY (removed_by) REFERENCES users (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS poster_position_responsibilities (
		id          CHAR(36)    NOT NULL PRIMARY KEY,
		user_id     CHAR(36)    NOT NULL,
		position_id CHAR(36)    NOT NULL,
		created_at  DATETIME(6) NOT NULL,
		UNIQUE KEY uq_responsibility_user_position (user_id, position_id),
		KEY idx_responsibility_position (position_id),
		CONSTRAINT fk_responsibility_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
		CONSTRAINT fk_responsibility_position FOREIGN KEY (position_id) REFERENCES poster_positions (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing table.  Tables are created in dependency
// order; the first failure stops the run.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
