package httputil

// Machine-readable error codes returned alongside human-readable messages.
// Clients should branch on these, not on the message text.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeInternalError      = "internal_error"

	CodeMissingFields      = "missing_fields"
	CodeInvalidEmailFormat = "invalid_email_format"
	CodePasswordTooWeak    = "password_too_weak"

	CodeEmailAlreadyExists    = "email_already_exists"
	CodeUsernameAlreadyExists = "username_already_exists"
	CodeAccountConflict       = "account_conflict"

	CodeInvalidCredentials = "invalid_credentials"
	CodeEmailNotVerified   = "email_not_verified"

	CodeVerificationCodeRequired = "verification_code_required"
	CodeVerificationFailed       = "verification_failed"
	CodeNoCodeIssued             = "no_code_issued"
	CodeCodeExpired              = "code_expired"
	CodeAccountNotFound          = "account_not_found"

	CodeInvalidResetToken = "invalid_reset_token"
	CodeResetTokenExpired = "reset_token_expired"

	CodeRefreshTokenRequired = "refresh_token_required"
	CodeInvalidRefreshToken  = "invalid_refresh_token"

	CodeInvalidAuthHeader = "invalid_auth_header"
	CodeMissingAuth       = "missing_auth"
	CodeTokenExpired      = "token_expired"
	CodeInvalidToken      = "invalid_token"
)
