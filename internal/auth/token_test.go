package auth

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerificationCode_Range(t *testing.T) {
	sixDigits := regexp.MustCompile(`^\d{6}$`)

	for i := 0; i < 200; i++ {
		code, err := generateVerificationCode()
		require.NoError(t, err)
		require.True(t, sixDigits.MatchString(code), "code %q is not 6 digits", code)

		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestGenerateResetToken(t *testing.T) {
	token, err := generateResetToken()
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	other, err := generateResetToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashToken(t *testing.T) {
	hash := hashToken("some-token")

	assert.Len(t, hash, 64)
	assert.Equal(t, hash, hashToken("some-token"))
	assert.NotEqual(t, hash, hashToken("other-token"))
}
