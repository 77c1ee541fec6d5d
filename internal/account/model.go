package account

import "time"

// Account is the domain model for a user account. An account starts out
// pending and becomes verified exactly once; username and email are only
// claimed exclusively by verified accounts.
type Account struct {
	ID                     int64      `json:"id"`
	Username               string     `json:"username"`
	Email                  string     `json:"email"`
	PasswordHash           string     `json:"-"` // Never expose password material in JSON
	IsVerified             bool       `json:"is_verified"`
	VerificationCode       *string    `json:"-"`
	VerificationExpiresAt  *time.Time `json:"-"`
	PasswordResetToken     *string    `json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
