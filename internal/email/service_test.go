package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderVerificationEmailTemplate(t *testing.T) {
	s := NewService("smtp.example.com", "587", "noreply@linkis.app", "secret", "https://linkis.app")

	body, err := s.renderVerificationEmailTemplate("123456")
	require.NoError(t, err)

	assert.Contains(t, body, "123456")
	assert.Contains(t, body, "expire in 10 minutes")
}

func TestRenderPasswordResetEmailTemplate(t *testing.T) {
	s := NewService("smtp.example.com", "587", "noreply@linkis.app", "secret", "https://linkis.app")

	body, err := s.renderPasswordResetEmailTemplate("https://linkis.app/reset-password?token=abc")
	require.NoError(t, err)

	assert.Contains(t, body, "https://linkis.app/reset-password?token=abc")
	assert.Contains(t, body, "expire in 30 minutes")
}
