package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// generateVerificationCode draws a 6-digit code uniformly from
// 100000-999999. Codes are not globally unique; lookups are always
// scoped to a single account.
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// generateResetToken creates an unguessable opaque token for password
// reset links: 32 random bytes, URL-safe encoded.
func generateResetToken() (string, error) {
	return generateOpaqueToken()
}

// generateOpaqueToken creates a cryptographically secure random token
func generateOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// hashToken returns the hex SHA-256 of a token. Refresh tokens are
// stored and looked up by hash so a leaked store never yields usable
// tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
