package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository handles refresh token persistence in Redis. Tokens are
// keyed by hash; expiry is delegated to Redis TTLs.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func refreshTokenKey(tokenHash string) string {
	return fmt.Sprintf("refresh_token:%s", tokenHash)
}

func revokedTokenKey(tokenHash string) string {
	return fmt.Sprintf("refresh_token:revoked:%s", tokenHash)
}

func accountTokensKey(accountID int64) string {
	return fmt.Sprintf("account_tokens:%d", accountID)
}

// StoreRefreshToken stores a refresh token in Redis with TTL
func (r *RedisRepository) StoreRefreshToken(ctx context.Context, accountID int64, token string, expiresAt time.Time) error {
	tokenHash := hashToken(token)
	tokenKey := refreshTokenKey(tokenHash)
	accountKey := accountTokensKey(accountID)

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token expiration time is in the past")
	}

	pipe := r.client.Pipeline()

	pipe.HSet(ctx, tokenKey, map[string]interface{}{
		"account_id": accountID,
		"expires_at": expiresAt.Unix(),
		"created_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, tokenKey, ttl)

	// Track the token in the account's set so RevokeAllAccountTokens can
	// find it.
	pipe.SAdd(ctx, accountKey, tokenHash)
	pipe.Expire(ctx, accountKey, ttl)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

// GetRefreshToken retrieves a refresh token by its hash
func (r *RedisRepository) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	tokenHash := hashToken(token)
	tokenKey := refreshTokenKey(tokenHash)
	revokedKey := revokedTokenKey(tokenHash)

	revoked, err := r.client.Exists(ctx, revokedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revoked > 0 {
		return nil, ErrRefreshTokenRevoked
	}

	data, err := r.client.HGetAll(ctx, tokenKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrRefreshTokenNotFound
	}

	accountID, err := strconv.ParseInt(data["account_id"], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	expiresAtUnix, _ := strconv.ParseInt(data["expires_at"], 10, 64)
	expiresAt := time.Unix(expiresAtUnix, 0)

	if time.Now().After(expiresAt) {
		return nil, ErrRefreshTokenExpired
	}

	createdAtUnix, _ := strconv.ParseInt(data["created_at"], 10, 64)
	createdAt := time.Unix(createdAtUnix, 0)

	return &RefreshToken{
		AccountID: accountID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
		RevokedAt: nil,
	}, nil
}

// RevokeRefreshToken marks a refresh token as revoked
func (r *RedisRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	tokenHash := hashToken(token)
	tokenKey := refreshTokenKey(tokenHash)
	revokedKey := revokedTokenKey(tokenHash)

	exists, err := r.client.Exists(ctx, tokenKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check token existence: %w", err)
	}
	if exists == 0 {
		return ErrRefreshTokenNotFound
	}

	// The revocation marker lives as long as the token would have.
	ttl, err := r.client.TTL(ctx, tokenKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get token TTL: %w", err)
	}

	if ttl > 0 {
		err = r.client.Set(ctx, revokedKey, "1", ttl).Err()
	} else {
		err = r.client.Set(ctx, revokedKey, "1", 7*24*time.Hour).Err()
	}

	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return nil
}

// RevokeAllAccountTokens revokes every refresh token of an account
func (r *RedisRepository) RevokeAllAccountTokens(ctx context.Context, accountID int64) error {
	accountKey := accountTokensKey(accountID)

	tokenHashes, err := r.client.SMembers(ctx, accountKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get account tokens: %w", err)
	}

	if len(tokenHashes) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, tokenHash := range tokenHashes {
		tokenKey := refreshTokenKey(tokenHash)
		revokedKey := revokedTokenKey(tokenHash)

		ttl, _ := r.client.TTL(ctx, tokenKey).Result()
		if ttl > 0 {
			pipe.Set(ctx, revokedKey, "1", ttl)
		} else {
			pipe.Set(ctx, revokedKey, "1", 7*24*time.Hour)
		}
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke all account tokens: %w", err)
	}

	return nil
}
