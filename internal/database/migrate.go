package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Uniqueness of username and email is scoped to verified accounts: any
// number of pending signups may transiently share a name that no verified
// account has claimed, so plain unique columns would be wrong. Partial
// unique indexes enforce the invariant at commit time.
var schemaIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_verified_key
		ON users (email) WHERE is_verified`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_verified_key
		ON users (username) WHERE is_verified`,
	`CREATE INDEX IF NOT EXISTS users_password_reset_token_idx
		ON users (password_reset_token) WHERE password_reset_token IS NOT NULL`,
}

// InitSchema creates the users table and its indexes if they don't exist.
func InitSchema(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*Account)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	for _, q := range schemaIndexes {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
