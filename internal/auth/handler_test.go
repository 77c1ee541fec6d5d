package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkis-app/linkis-api/internal/httputil"
	"github.com/linkis-app/linkis-api/internal/logging"
)

func newTestHandler(t *testing.T, env *testEnv) *Handler {
	t.Helper()
	return NewHandler(env.service, logging.NewLogger(true), false, 15*time.Minute, 7*24*time.Hour)
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandler_SignUp(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	rec := postJSON(t, h.SignUp, SignUpRequest{Username: "alice", Email: "alice@example.com", Password: "Password1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	waitForMail(t, env.email.verifications)

	var created SignUpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.AccountID)
	assert.False(t, created.IsVerified)

	// Retrying the same pending signup reissues instead of duplicating.
	rec = postJSON(t, h.SignUp, SignUpRequest{Username: "alice", Email: "alice@example.com", Password: "Password1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	waitForMail(t, env.email.verifications)

	var reissued SignUpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reissued))
	assert.Equal(t, created.AccountID, reissued.AccountID)
}

func TestHandler_SignUp_Errors(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	rec := postJSON(t, h.SignUp, SignUpRequest{Username: "alice", Email: "", Password: "Password1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeMissingFields, decodeError(t, rec).Code)

	rec = postJSON(t, h.SignUp, SignUpRequest{Username: "alice", Email: "not-an-email", Password: "Password1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidEmailFormat, decodeError(t, rec).Code)

	signUpAndVerify(t, env, "bob", "bob@example.com", "Password1")

	rec = postJSON(t, h.SignUp, SignUpRequest{Username: "someone", Email: "bob@example.com", Password: "Password1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httputil.CodeEmailAlreadyExists, decodeError(t, rec).Code)

	rec = postJSON(t, h.SignUp, SignUpRequest{Username: "bob", Email: "new@example.com", Password: "Password1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, httputil.CodeUsernameAlreadyExists, decodeError(t, rec).Code)
}

func TestHandler_Verify(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	code := signUpPending(t, env, "alice", "alice@example.com", "Password1")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	rec := postJSON(t, h.Verify, VerifyRequest{Email: "alice@example.com", Code: wrong})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeVerificationFailed, decodeError(t, rec).Code)

	rec = postJSON(t, h.Verify, VerifyRequest{Email: "alice@example.com", Code: code})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Idempotent: a second submission still reports success.
	rec = postJSON(t, h.Verify, VerifyRequest{Email: "alice@example.com", Code: code})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, h.Verify, VerifyRequest{Email: "ghost@example.com", Code: "123456"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httputil.CodeAccountNotFound, decodeError(t, rec).Code)
}

func TestHandler_Verify_Expired(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	code := signUpPending(t, env, "alice", "alice@example.com", "Password1")
	env.advance(11 * time.Minute)

	rec := postJSON(t, h.Verify, VerifyRequest{Email: "alice@example.com", Code: code})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeCodeExpired, decodeError(t, rec).Code)
}

func TestHandler_ResendCode_AlwaysGenericSuccess(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	rec := postJSON(t, h.ResendCode, EmailRequest{Email: "ghost@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)

	signUpPending(t, env, "alice", "alice@example.com", "Password1")
	rec = postJSON(t, h.ResendCode, EmailRequest{Email: "alice@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	waitForMail(t, env.email.verifications)
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	signUpAndVerify(t, env, "alice", "alice@example.com", "Password1")

	rec := postJSON(t, h.Login, LoginRequest{Email: "alice@example.com", Password: "Password1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Username)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Empty(t, rec.Result().Cookies())
}

func TestHandler_Login_Errors(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	rec := postJSON(t, h.Login, LoginRequest{Email: "ghost@example.com", Password: "Password1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httputil.CodeAccountNotFound, decodeError(t, rec).Code)

	signUpPending(t, env, "alice", "alice@example.com", "Password1")

	rec = postJSON(t, h.Login, LoginRequest{Email: "alice@example.com", Password: "WrongPass1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httputil.CodeInvalidCredentials, decodeError(t, rec).Code)

	rec = postJSON(t, h.Login, LoginRequest{Email: "alice@example.com", Password: "Password1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeEmailNotVerified, decodeError(t, rec).Code)
}

func TestHandler_Login_BrowserGetsCookies(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	signUpAndVerify(t, env, "alice", "alice@example.com", "Password1")

	payload, err := json.Marshal(LoginRequest{Email: "alice@example.com", Password: "Password1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	names := make(map[string]bool)
	for _, c := range rec.Result().Cookies() {
		names[c.Name] = true
		assert.True(t, c.HttpOnly)
	}
	assert.True(t, names[accessTokenCookieName])
	assert.True(t, names[refreshTokenCookieName])
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	signUpAndVerify(t, env, "alice", "alice@example.com", "Password1")
	tokens, _, err := env.service.Login(context.Background(), "alice@example.com", "Password1")
	require.NoError(t, err)

	rec := postJSON(t, h.Refresh, RefreshRequest{RefreshToken: tokens.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	var rotated AuthTokens
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// The consumed token is gone.
	rec = postJSON(t, h.Refresh, RefreshRequest{RefreshToken: tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httputil.CodeInvalidRefreshToken, decodeError(t, rec).Code)

	rec = postJSON(t, h.Refresh, RefreshRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeRefreshTokenRequired, decodeError(t, rec).Code)

	rec = postJSON(t, h.Logout, RefreshRequest{RefreshToken: rotated.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, h.Refresh, RefreshRequest{RefreshToken: rotated.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_ForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	// Unknown address gets the same generic success.
	rec := postJSON(t, h.ForgotPassword, EmailRequest{Email: "ghost@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)

	signUpAndVerify(t, env, "alice", "alice@example.com", "Password1")

	rec = postJSON(t, h.ForgotPassword, EmailRequest{Email: "alice@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	mail := waitForMail(t, env.email.resets)

	rec = postJSON(t, h.ResetPassword, ResetPasswordRequest{Token: mail.value, NewPassword: "weak"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodePasswordTooWeak, decodeError(t, rec).Code)

	rec = postJSON(t, h.ResetPassword, ResetPasswordRequest{Token: mail.value, NewPassword: "NewPassword1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Single use.
	rec = postJSON(t, h.ResetPassword, ResetPasswordRequest{Token: mail.value, NewPassword: "OtherPass1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidResetToken, decodeError(t, rec).Code)
}

func TestHandler_Me(t *testing.T) {
	env := newTestEnv(t)
	h := newTestHandler(t, env)

	signUpAndVerify(t, env, "alice", "alice@example.com", "Password1")
	acct, err := env.store.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	ctx := context.WithValue(req.Context(), AccountIDContextKey, acct.ID)
	rec := httptest.NewRecorder()
	h.Me(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alice", body["username"])
	// Password material never leaves the API.
	assert.NotContains(t, rec.Body.String(), "password")

	// No identity in context.
	rec = httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_RequireAuth(t *testing.T) {
	tokenSvc, err := NewPasetoService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	mw := NewMiddleware(tokenSvc)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetAccountIDFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(7), id)
		w.WriteHeader(http.StatusNoContent)
	})

	token, err := tokenSvc.CreateToken(7, "alice@example.com", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.RequireAuth(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Missing credentials.
	rec = httptest.NewRecorder()
	mw.RequireAuth(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Malformed header.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	mw.RequireAuth(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Cookie fallback.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: accessTokenCookieName, Value: token})
	rec = httptest.NewRecorder()
	mw.RequireAuth(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
