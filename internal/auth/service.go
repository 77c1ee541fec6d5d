package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/linkis-app/linkis-api/internal/account"
	"github.com/linkis-app/linkis-api/internal/logging"
)

var (
	ErrMissingFields      = errors.New("missing required fields")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrPasswordTooWeak    = errors.New("password too weak: use 8+ chars, 1 uppercase, 1 number")

	ErrEmailTaken      = errors.New("email already in use")
	ErrUsernameTaken   = errors.New("username already in use")
	ErrAccountConflict = errors.New("username or email already in use")

	ErrAccountNotFound = errors.New("account not found")
	ErrAlreadyVerified = errors.New("email already verified")
	ErrNoCodeIssued    = errors.New("no verification code set for this account")
	ErrCodeExpired     = errors.New("verification code has expired")
	ErrCodeMismatch    = errors.New("invalid verification code")

	ErrInvalidCredentials = errors.New("incorrect password")
	ErrEmailNotVerified   = errors.New("email not verified, please verify your email first")

	ErrInvalidResetToken = errors.New("invalid reset link")
	ErrResetTokenExpired = errors.New("reset link expired")
)

const (
	verificationCodeTTL   = 10 * time.Minute
	passwordResetTokenTTL = 30 * time.Minute
)

// EmailService defines the interface for outbound email. Sends happen
// after the state transition commits and their failure never rolls it
// back; a lost email is recovered by requesting a resend.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, code string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
}

// Service handles the account identity lifecycle: signup, verification,
// login, password reset and session tokens.
type Service struct {
	store                account.Store
	refreshTokens        RefreshTokenRepository
	tokenService         TokenService
	emailService         EmailService
	logger               *logging.Logger
	accessTokenDuration  time.Duration
	refreshTokenDuration time.Duration

	// now is the single clock used for every expiry decision.
	now func() time.Time
}

func NewService(
	store account.Store,
	refreshTokens RefreshTokenRepository,
	tokenService TokenService,
	emailService EmailService,
	logger *logging.Logger,
	accessTokenDuration time.Duration,
	refreshTokenDuration time.Duration,
) *Service {
	return &Service{
		store:                store,
		refreshTokens:        refreshTokens,
		tokenService:         tokenService,
		emailService:         emailService,
		logger:               logger,
		accessTokenDuration:  accessTokenDuration,
		refreshTokenDuration: refreshTokenDuration,
		now:                  time.Now,
	}
}

// SignUpResult reports how a signup resolved: a fresh pending account, or
// a reissued code for an existing pending account.
type SignUpResult struct {
	Account  *account.Account
	Reissued bool
}

// SignUp resolves a signup attempt. Precedence matters: verified-conflict
// checks run before the reissue check so a verified account's email can
// never be confused with an unrelated pending signup.
func (s *Service) SignUp(ctx context.Context, username, email, password string) (*SignUpResult, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)

	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if len(email) > 254 {
		return nil, ErrInvalidEmailFormat
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmailFormat
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	code, err := generateVerificationCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}
	expiresAt := s.now().Add(verificationCodeTTL)

	var result *SignUpResult
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx account.Store) error {
		byEmail, err := findOptional(ctx, tx.FindByEmail, email)
		if err != nil {
			return err
		}
		byUsername, err := findOptional(ctx, tx.FindByUsername, username)
		if err != nil {
			return err
		}

		if byEmail != nil && byEmail.IsVerified {
			return ErrEmailTaken
		}
		if byUsername != nil && byUsername.IsVerified {
			return ErrUsernameTaken
		}

		if byEmail != nil && byUsername != nil {
			if byEmail.ID != byUsername.ID {
				return ErrAccountConflict
			}
			// Same pending account retrying: overwrite its credential and
			// give it a fresh code.
			if err := tx.ReissuePending(ctx, byEmail.ID, passwordHash, code, expiresAt); err != nil {
				if errors.Is(err, account.ErrNotFound) {
					return ErrAccountConflict
				}
				return fmt.Errorf("failed to reissue verification code: %w", err)
			}
			result = &SignUpResult{Account: byEmail, Reissued: true}
			return nil
		}

		// A partial match against a different in-flight signup is
		// ambiguous and rejected rather than silently reused.
		if byEmail != nil || byUsername != nil {
			return ErrAccountConflict
		}

		acct := &account.Account{
			Username:              username,
			Email:                 email,
			PasswordHash:          passwordHash,
			VerificationCode:      &code,
			VerificationExpiresAt: &expiresAt,
		}
		if err := tx.Create(ctx, acct); err != nil {
			if errors.Is(err, account.ErrConflict) {
				return ErrAccountConflict
			}
			return fmt.Errorf("failed to create account: %w", err)
		}
		result = &SignUpResult{Account: acct}
		return nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		emailCtx := context.Background()
		if err := s.emailService.SendVerificationEmail(emailCtx, email, code); err != nil {
			s.logger.Warn("failed to send verification email", "email", email, "error", err)
		}
	}()

	return result, nil
}

// VerifyEmail validates a submitted code and flips the account to
// verified exactly once. Subsequent calls return ErrAlreadyVerified,
// which callers treat as success.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)

	if email == "" || code == "" {
		return ErrMissingFields
	}

	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to find account: %w", err)
	}

	if acct.IsVerified {
		return ErrAlreadyVerified
	}
	if acct.VerificationCode == nil || acct.VerificationExpiresAt == nil {
		return ErrNoCodeIssued
	}
	// The expired code stays in place; a resend replaces it.
	if s.now().After(*acct.VerificationExpiresAt) {
		return ErrCodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(*acct.VerificationCode)) != 1 {
		return ErrCodeMismatch
	}

	if err := s.store.MarkVerified(ctx, acct.ID, code); err != nil {
		switch {
		case errors.Is(err, account.ErrNotFound):
			// Lost a race: the code was consumed or replaced between the
			// read and the conditional update.
			return ErrCodeMismatch
		case errors.Is(err, account.ErrConflict):
			// A same-named pending account verified first.
			return ErrAccountConflict
		default:
			return fmt.Errorf("failed to mark account verified: %w", err)
		}
	}

	return nil
}

// ResendVerificationCode issues a fresh code for a pending account.
// Always returns nil to prevent email enumeration.
func (s *Service) ResendVerificationCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			s.logger.Warn("failed to find account for resend", "error", err)
		}
		return nil
	}
	if acct.IsVerified {
		return nil
	}

	code, err := generateVerificationCode()
	if err != nil {
		s.logger.Warn("failed to generate verification code", "error", err)
		return nil
	}

	if err := s.store.UpdateVerificationCode(ctx, acct.ID, code, s.now().Add(verificationCodeTTL)); err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			s.logger.Warn("failed to update verification code", "error", err)
		}
		return nil
	}

	go func() {
		emailCtx := context.Background()
		if err := s.emailService.SendVerificationEmail(emailCtx, email, code); err != nil {
			s.logger.Warn("failed to resend verification email", "email", email, "error", err)
		}
	}()

	return nil
}

// Login authenticates credentials and refuses unverified accounts. The
// gate order is fixed: missing account, then bad credential, then
// unverified, then success.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthTokens, *account.Account, error) {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return nil, nil, ErrMissingFields
	}

	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, nil, ErrAccountNotFound
		}
		return nil, nil, fmt.Errorf("failed to find account: %w", err)
	}

	if !verifyPassword(acct.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	if !acct.IsVerified {
		return nil, nil, ErrEmailNotVerified
	}

	tokens, err := s.generateTokens(ctx, acct.ID, acct.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	return tokens, acct, nil
}

// GetAccount loads an account by id.
func (s *Service) GetAccount(ctx context.Context, id int64) (*account.Account, error) {
	acct, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acct, nil
}

// RequestPasswordReset issues a reset token and mails a reset link.
// Always returns nil to prevent email enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			s.logger.Warn("failed to find account for password reset", "error", err)
		}
		return nil
	}

	token, err := generateResetToken()
	if err != nil {
		s.logger.Warn("failed to generate password reset token", "error", err)
		return nil
	}

	if err := s.store.SetPasswordResetToken(ctx, acct.ID, token, s.now().Add(passwordResetTokenTTL)); err != nil {
		s.logger.Warn("failed to store password reset token", "error", err)
		return nil
	}

	go func() {
		emailCtx := context.Background()
		if err := s.emailService.SendPasswordResetEmail(emailCtx, email, token); err != nil {
			s.logger.Warn("failed to send password reset email", "email", email, "error", err)
		}
	}()

	return nil
}

// ResetPassword consumes a reset token and replaces the password. The
// token is cleared in the same update that writes the new hash, so a
// retried submission fails with ErrInvalidResetToken.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	newPassword = strings.TrimSpace(newPassword)

	if token == "" {
		return ErrInvalidResetToken
	}
	if !isStrongPassword(newPassword) {
		return ErrPasswordTooWeak
	}

	acct, err := s.store.FindByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("failed to find account by reset token: %w", err)
	}

	if acct.PasswordResetExpiresAt == nil || s.now().After(*acct.PasswordResetExpiresAt) {
		return ErrResetTokenExpired
	}

	passwordHash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.store.ConsumePasswordReset(ctx, token, passwordHash); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("failed to consume password reset token: %w", err)
	}

	// Existing sessions die with the old password.
	if err := s.refreshTokens.RevokeAllAccountTokens(ctx, acct.ID); err != nil {
		s.logger.Warn("failed to revoke tokens after password reset", "error", err)
	}

	return nil
}

// RefreshAccessToken exchanges a valid refresh token for a new pair.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	rt, err := s.refreshTokens.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if !rt.IsValid() {
		if rt.IsRevoked() {
			return nil, ErrRefreshTokenRevoked
		}
		return nil, ErrRefreshTokenExpired
	}

	// Rotate: revoke the old token before issuing new ones.
	if err := s.refreshTokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to revoke old refresh token: %w", err)
	}

	acct, err := s.store.FindByID(ctx, rt.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	tokens, err := s.generateTokens(ctx, acct.ID, acct.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	return tokens, nil
}

// RevokeRefreshToken revokes a refresh token
func (s *Service) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	return s.refreshTokens.RevokeRefreshToken(ctx, refreshToken)
}

// generateTokens creates an access token and a stored refresh token
func (s *Service) generateTokens(ctx context.Context, accountID int64, email string) (*AuthTokens, error) {
	accessToken, err := s.tokenService.CreateToken(accountID, email, s.accessTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := generateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	expiresAt := s.now().Add(s.refreshTokenDuration)
	if err := s.refreshTokens.StoreRefreshToken(ctx, accountID, refreshToken, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTokenDuration.Seconds()),
	}, nil
}

// findOptional turns a store lookup miss into (nil, nil).
func findOptional(ctx context.Context, find func(context.Context, string) (*account.Account, error), key string) (*account.Account, error) {
	acct, err := find(ctx, key)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return acct, nil
}
