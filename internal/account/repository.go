package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/linkis-app/linkis-api/internal/database"
)

// pgUniqueViolation is the Postgres error code for unique_violation.
const pgUniqueViolation = "23505"

// Repository is the bun-backed Store implementation.
type Repository struct {
	db bun.IDB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// RunInTx runs fn against a transaction-scoped Repository. When the
// receiver is already transaction-scoped, fn runs in that transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	db, ok := r.db.(*bun.DB)
	if !ok {
		return fn(ctx, r)
	}

	return db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Repository{db: tx})
	})
}

// FindByID retrieves an account by ID
func (r *Repository) FindByID(ctx context.Context, id int64) (*Account, error) {
	dbAcct := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAcct).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find account by id: %w", err)
	}

	return mapDBAccountToModel(dbAcct), nil
}

// FindByEmail retrieves an account by email
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	dbAcct := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAcct).
		Where("email = ?", email).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}

	return mapDBAccountToModel(dbAcct), nil
}

// FindByUsername retrieves an account by username
func (r *Repository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	dbAcct := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAcct).
		Where("username = ?", username).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find account by username: %w", err)
	}

	return mapDBAccountToModel(dbAcct), nil
}

// FindByResetToken retrieves an account by its active password reset token
func (r *Repository) FindByResetToken(ctx context.Context, token string) (*Account, error) {
	dbAcct := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAcct).
		Where("password_reset_token = ?", token).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find account by reset token: %w", err)
	}

	return mapDBAccountToModel(dbAcct), nil
}

// Create inserts a new pending account and fills in the assigned ID
func (r *Repository) Create(ctx context.Context, acct *Account) error {
	dbAcct := &database.Account{
		Username:              acct.Username,
		Email:                 acct.Email,
		PasswordHash:          acct.PasswordHash,
		IsVerified:            false,
		VerificationCode:      acct.VerificationCode,
		VerificationExpiresAt: acct.VerificationExpiresAt,
	}

	_, err := r.db.NewInsert().
		Model(dbAcct).
		Returning("*").
		Exec(ctx)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	acct.ID = dbAcct.ID
	acct.CreatedAt = dbAcct.CreatedAt
	acct.UpdatedAt = dbAcct.UpdatedAt
	return nil
}

// ReissuePending overwrites credential and verification code of a pending account
func (r *Repository) ReissuePending(ctx context.Context, id int64, passwordHash, code string, expiresAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("verification_code = ?", code).
		Set("verification_expires_at = ?", expiresAt).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("is_verified = ?", false).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to reissue pending account: %w", err)
	}

	return requireRowsAffected(result)
}

// MarkVerified flips a pending account to verified, keyed on the code value
func (r *Repository) MarkVerified(ctx context.Context, id int64, code string) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("is_verified = ?", true).
		Set("verification_code = ?", nil).
		Set("verification_expires_at = ?", nil).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("is_verified = ?", false).
		Where("verification_code = ?", code).
		Exec(ctx)

	if err != nil {
		// The partial unique indexes on verified rows fire here when a
		// same-named account won the verification race.
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to mark account verified: %w", err)
	}

	return requireRowsAffected(result)
}

// UpdateVerificationCode installs a fresh code on a pending account
func (r *Repository) UpdateVerificationCode(ctx context.Context, id int64, code string, expiresAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("verification_code = ?", code).
		Set("verification_expires_at = ?", expiresAt).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Where("is_verified = ?", false).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update verification code: %w", err)
	}

	return requireRowsAffected(result)
}

// SetPasswordResetToken installs a reset token and its expiry
func (r *Repository) SetPasswordResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("password_reset_token = ?", token).
		Set("password_reset_expires_at = ?", expiresAt).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to set password reset token: %w", err)
	}

	return requireRowsAffected(result)
}

// ConsumePasswordReset replaces the password hash and clears the reset
// token in a single update keyed on the token value
func (r *Repository) ConsumePasswordReset(ctx context.Context, token, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("password_reset_token = ?", nil).
		Set("password_reset_expires_at = ?", nil).
		Set("updated_at = NOW()").
		Where("password_reset_token = ?", token).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to consume password reset token: %w", err)
	}

	return requireRowsAffected(result)
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// mapDBAccountToModel converts database model to domain model
func mapDBAccountToModel(dba *database.Account) *Account {
	return &Account{
		ID:                     dba.ID,
		Username:               dba.Username,
		Email:                  dba.Email,
		PasswordHash:           dba.PasswordHash,
		IsVerified:             dba.IsVerified,
		VerificationCode:       dba.VerificationCode,
		VerificationExpiresAt:  dba.VerificationExpiresAt,
		PasswordResetToken:     dba.PasswordResetToken,
		PasswordResetExpiresAt: dba.PasswordResetExpiresAt,
		CreatedAt:              dba.CreatedAt,
		UpdatedAt:              dba.UpdatedAt,
	}
}
