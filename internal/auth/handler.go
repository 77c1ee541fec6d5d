package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/linkis-app/linkis-api/internal/httputil"
	"github.com/linkis-app/linkis-api/internal/logging"
)

// Handler contains HTTP handlers for the account lifecycle endpoints
type Handler struct {
	service         *Service
	logger          *logging.Logger
	isProduction    bool
	accessDuration  time.Duration
	refreshDuration time.Duration
}

func NewHandler(service *Service, logger *logging.Logger, isProduction bool, accessDuration, refreshDuration time.Duration) *Handler {
	return &Handler{
		service:         service,
		logger:          logger,
		isProduction:    isProduction,
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}
}

// SignUpRequest represents the signup request body
type SignUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpResponse represents the signup response
type SignUpResponse struct {
	AccountID  int64  `json:"account_id"`
	IsVerified bool   `json:"is_verified"`
	Message    string `json:"message"`
}

// VerifyRequest represents the email verification request
type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the login response for non-cookie clients
type LoginResponse struct {
	AccountID int64  `json:"account_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AuthTokens
}

// RefreshRequest represents the token refresh request body
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// EmailRequest carries just an email address (resend, forgot-password)
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SignUp handles account creation
// @Summary      Sign up
// @Description  Create a pending account and send a verification code. Retrying the same pending signup reissues a fresh code.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body SignUpRequest true "Signup fields"
// @Success      201 {object} SignUpResponse
// @Success      200 {object} SignUpResponse "Existing pending account, code reissued"
// @Failure      400 {object} ErrorResponse "Missing or invalid fields"
// @Failure      409 {object} ErrorResponse "Username or email already in use"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /auth/signup [post]
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid signup request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email, "username": req.Username})

	result, err := h.service.SignUp(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingFields):
			logger.Warn("signup failed: missing fields")
			respondError(w, "missing fields", httputil.CodeMissingFields, http.StatusBadRequest)
		case errors.Is(err, ErrInvalidEmailFormat):
			logger.Warn("signup failed: invalid email format")
			respondError(w, err.Error(), httputil.CodeInvalidEmailFormat, http.StatusBadRequest)
		case errors.Is(err, ErrEmailTaken):
			logger.Warn("signup failed: email already in use")
			respondError(w, err.Error(), httputil.CodeEmailAlreadyExists, http.StatusConflict)
		case errors.Is(err, ErrUsernameTaken):
			logger.Warn("signup failed: username already in use")
			respondError(w, err.Error(), httputil.CodeUsernameAlreadyExists, http.StatusConflict)
		case errors.Is(err, ErrAccountConflict):
			logger.Warn("signup failed: conflicting account")
			respondError(w, err.Error(), httputil.CodeAccountConflict, http.StatusConflict)
		default:
			logger.Error("signup failed: internal error", "error", err.Error())
			respondError(w, "failed to sign up", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	if result.Reissued {
		logger.Info("verification code reissued", "account_id", result.Account.ID)
		respondJSON(w, SignUpResponse{
			AccountID:  result.Account.ID,
			IsVerified: false,
			Message:    "Account exists but not verified. Sent new verification code.",
		}, http.StatusOK)
		return
	}

	logger.Info("account created", "account_id", result.Account.ID)
	respondJSON(w, SignUpResponse{
		AccountID:  result.Account.ID,
		IsVerified: false,
		Message:    "Account created successfully. Verification code sent.",
	}, http.StatusCreated)
}

// Verify handles email verification
// @Summary      Verify email
// @Description  Validate the submitted code and mark the account verified. Verifying an already-verified account succeeds.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body VerifyRequest true "Email and code"
// @Success      200 {object} map[string]string
// @Failure      400 {object} ErrorResponse "Missing fields, wrong, expired or unissued code"
// @Failure      404 {object} ErrorResponse "No account with that email"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /auth/verify [post]
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid verify request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	err := h.service.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyVerified):
			// Idempotent success under client retries.
			logger.Info("email already verified")
			respondJSON(w, map[string]string{"message": "Email already verified"}, http.StatusOK)
		case errors.Is(err, ErrMissingFields):
			logger.Warn("verification failed: missing fields")
			respondError(w, "email and code are required", httputil.CodeVerificationCodeRequired, http.StatusBadRequest)
		case errors.Is(err, ErrAccountNotFound):
			logger.Warn("verification failed: account not found")
			respondError(w, "account not found", httputil.CodeAccountNotFound, http.StatusNotFound)
		case errors.Is(err, ErrNoCodeIssued):
			logger.Warn("verification failed: no code issued")
			respondError(w, err.Error(), httputil.CodeNoCodeIssued, http.StatusBadRequest)
		case errors.Is(err, ErrCodeExpired):
			logger.Warn("verification failed: code expired")
			respondError(w, err.Error(), httputil.CodeCodeExpired, http.StatusBadRequest)
		case errors.Is(err, ErrCodeMismatch):
			logger.Warn("verification failed: code mismatch")
			respondError(w, err.Error(), httputil.CodeVerificationFailed, http.StatusBadRequest)
		case errors.Is(err, ErrAccountConflict):
			logger.Warn("verification failed: conflicting verified account")
			respondError(w, err.Error(), httputil.CodeAccountConflict, http.StatusConflict)
		default:
			logger.Error("verification failed: internal error", "error", err.Error())
			respondError(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("email verified successfully")
	respondJSON(w, map[string]string{"message": "Email verified successfully"}, http.StatusOK)
}

// ResendCode handles resending a verification code
// @Summary      Resend verification code
// @Description  Send a fresh verification code to a pending account. Always returns success to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body EmailRequest true "Email address"
// @Success      200 {object} map[string]string
// @Failure      400 {object} ErrorResponse "Invalid request body"
// @Router       /auth/resend-code [post]
func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid resend request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	_ = h.service.ResendVerificationCode(r.Context(), req.Email)

	respondJSON(w, map[string]string{
		"message": "If your email is registered and not verified, a new verification code has been sent.",
	}, http.StatusOK)
}

// Login handles user login
// @Summary      Log in
// @Description  Authenticate credentials; unverified accounts are refused.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} LoginResponse
// @Failure      400 {object} ErrorResponse "Missing fields"
// @Failure      401 {object} ErrorResponse "Unknown account or wrong password"
// @Failure      403 {object} ErrorResponse "Email not verified"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	tokens, acct, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingFields):
			logger.Warn("login failed: missing fields")
			respondError(w, "email and password are required", httputil.CodeMissingFields, http.StatusBadRequest)
		case errors.Is(err, ErrAccountNotFound):
			logger.Warn("login failed: account not found")
			respondError(w, "account not found", httputil.CodeAccountNotFound, http.StatusUnauthorized)
		case errors.Is(err, ErrInvalidCredentials):
			logger.Warn("login failed: invalid credentials")
			respondError(w, "incorrect password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
		case errors.Is(err, ErrEmailNotVerified):
			logger.Warn("login failed: email not verified")
			respondError(w, err.Error(), httputil.CodeEmailNotVerified, http.StatusForbidden)
		default:
			logger.Error("login failed: internal error", "error", err.Error())
			respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("login successful", "account_id", acct.ID)

	if ShouldUseCookies(r) {
		SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken, h.isProduction, h.accessDuration, h.refreshDuration)
		respondJSON(w, map[string]any{
			"message":    "logged in successfully",
			"account_id": acct.ID,
			"username":   acct.Username,
			"email":      acct.Email,
		}, http.StatusOK)
		return
	}

	respondJSON(w, LoginResponse{
		AccountID:  acct.ID,
		Username:   acct.Username,
		Email:      acct.Email,
		AuthTokens: *tokens,
	}, http.StatusOK)
}

// Refresh handles access token refresh
// @Summary      Refresh access token
// @Description  Use a refresh token to get a new token pair
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest false "Refresh token (cookie fallback)"
// @Success      200 {object} AuthTokens
// @Failure      400 {object} ErrorResponse "Refresh token missing"
// @Failure      401 {object} ErrorResponse "Invalid or expired refresh token"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var refreshToken string
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		refreshToken = req.RefreshToken
	}

	if refreshToken == "" {
		cookieToken, err := GetRefreshTokenFromCookie(r)
		if err == nil {
			refreshToken = cookieToken
		}
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		logger.Warn("refresh token missing from both body and cookie")
		respondError(w, "refresh token required", httputil.CodeRefreshTokenRequired, http.StatusBadRequest)
		return
	}

	tokens, err := h.service.RefreshAccessToken(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrRefreshTokenRevoked) || errors.Is(err, ErrRefreshTokenExpired) {
			logger.Warn("token refresh failed: invalid or expired token", "error", err.Error())
			respondError(w, "invalid or expired refresh token", httputil.CodeInvalidRefreshToken, http.StatusUnauthorized)
			return
		}
		logger.Error("token refresh failed: internal error", "error", err.Error())
		respondError(w, "failed to refresh token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("access token refreshed successfully")

	if ShouldUseCookies(r) {
		SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken, h.isProduction, h.accessDuration, h.refreshDuration)
		respondJSON(w, map[string]string{"message": "token refreshed successfully"}, http.StatusOK)
		return
	}

	respondJSON(w, tokens, http.StatusOK)
}

// Logout handles user logout
// @Summary      Log out
// @Description  Revoke the refresh token and clear auth cookies
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest false "Optional refresh token"
// @Success      200 {object} map[string]string
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var refreshToken string
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		refreshToken = req.RefreshToken
	}
	if refreshToken == "" {
		cookieToken, _ := GetRefreshTokenFromCookie(r)
		refreshToken = cookieToken
	}

	if refreshToken != "" {
		if err := h.service.RevokeRefreshToken(r.Context(), refreshToken); err != nil {
			logger.Warn("failed to revoke refresh token", "error", err)
		}
	}

	ClearAuthCookies(w)

	logger.Info("logged out")
	respondJSON(w, map[string]string{"message": "logged out"}, http.StatusOK)
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Send a password reset link. Always returns success to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body EmailRequest true "Email address"
// @Success      200 {object} map[string]string
// @Failure      400 {object} ErrorResponse "Invalid request body"
// @Router       /auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid forgot password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	_ = h.service.RequestPasswordReset(r.Context(), req.Email)

	respondJSON(w, map[string]string{
		"message": "If the email exists, a reset link was sent.",
	}, http.StatusOK)
}

// ResetPassword handles password reset with token
// @Summary      Reset password
// @Description  Consume a reset token and set a new password. Tokens are single-use.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Reset token and new password"
// @Success      200 {object} map[string]string
// @Failure      400 {object} ErrorResponse "Weak password, invalid or expired token"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid reset password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrPasswordTooWeak):
			logger.Warn("password reset failed: weak password")
			respondError(w, err.Error(), httputil.CodePasswordTooWeak, http.StatusBadRequest)
		case errors.Is(err, ErrInvalidResetToken):
			logger.Warn("password reset failed: invalid token")
			respondError(w, err.Error(), httputil.CodeInvalidResetToken, http.StatusBadRequest)
		case errors.Is(err, ErrResetTokenExpired):
			logger.Warn("password reset failed: token expired")
			respondError(w, err.Error(), httputil.CodeResetTokenExpired, http.StatusBadRequest)
		default:
			logger.Error("password reset failed: internal error", "error", err.Error())
			respondError(w, "failed to reset password", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("password reset successfully")
	respondJSON(w, map[string]string{
		"message": "Password updated. You can now log in with your new password.",
	}, http.StatusOK)
}

// Me returns the authenticated account
// @Summary      Current account
// @Description  Return the account identified by the access token
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} account.Account
// @Failure      401 {object} ErrorResponse "Unauthorized"
// @Failure      404 {object} ErrorResponse "Account no longer exists"
// @Router       /me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	accountID, ok := GetAccountIDFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	acct, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			respondError(w, "account not found", httputil.CodeAccountNotFound, http.StatusNotFound)
			return
		}
		logger.Error("failed to load account", "error", err.Error())
		respondError(w, "failed to load account", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, acct, http.StatusOK)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}
