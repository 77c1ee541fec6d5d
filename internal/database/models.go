package database

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is the bun model for the users table.
type Account struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64  `bun:"id,pk,autoincrement"`
	Username     string `bun:"username,notnull"`
	Email        string `bun:"email,notnull"`
	PasswordHash string `bun:"password_hash,notnull"`

	IsVerified            bool       `bun:"is_verified,notnull,default:false"`
	VerificationCode      *string    `bun:"verification_code"`
	VerificationExpiresAt *time.Time `bun:"verification_expires_at"`

	PasswordResetToken     *string    `bun:"password_reset_token"`
	PasswordResetExpiresAt *time.Time `bun:"password_reset_expires_at"`

	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:now()"`
	UpdatedAt time.Time `bun:"updated_at,notnull,nullzero,default:now()"`
}
