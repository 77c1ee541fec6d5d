package auth

import (
	"context"
	"time"
)

// TokenService defines the interface for access token creation and
// validation. PasetoService (PASETO v4.local) is the default
// implementation.
type TokenService interface {
	CreateToken(accountID int64, email string, duration time.Duration) (string, error)
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

// RefreshTokenRepository defines the interface for refresh token storage
type RefreshTokenRepository interface {
	StoreRefreshToken(ctx context.Context, accountID int64, token string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeAllAccountTokens(ctx context.Context, accountID int64) error
}
