package account

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("account not found")
	ErrConflict = errors.New("account conflict")
)

// Store is the persistence contract for accounts. The conditional update
// methods (ReissuePending, MarkVerified, UpdateVerificationCode,
// ConsumePasswordReset) only touch rows still in the expected state and
// return ErrNotFound when a concurrent writer got there first, so two
// racing consumers of the same code or token never both succeed.
type Store interface {
	// RunInTx executes fn against a transaction-scoped Store. Calls are
	// not re-entrant; nested calls run in the outer transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	FindByID(ctx context.Context, id int64) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByResetToken(ctx context.Context, token string) (*Account, error)

	// Create inserts a pending account and fills in its assigned ID.
	Create(ctx context.Context, acct *Account) error

	// ReissuePending overwrites the password hash and verification code of
	// a still-pending account.
	ReissuePending(ctx context.Context, id int64, passwordHash, code string, expiresAt time.Time) error

	// MarkVerified flips a pending account to verified and clears its
	// verification code, keyed on the code value so a stale submission
	// loses to a concurrent reissue. Returns ErrConflict when the flip
	// trips a verified-uniqueness constraint.
	MarkVerified(ctx context.Context, id int64, code string) error

	// UpdateVerificationCode installs a fresh code on a pending account.
	UpdateVerificationCode(ctx context.Context, id int64, code string, expiresAt time.Time) error

	// SetPasswordResetToken installs a reset token and its expiry.
	SetPasswordResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error

	// ConsumePasswordReset writes the new password hash and clears the
	// reset token in one update, keyed on the token value. A second
	// submission of the same token returns ErrNotFound.
	ConsumePasswordReset(ctx context.Context, token, passwordHash string) error
}
