// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired     = "auth.required"
	KeyAuthInvalidToken = "auth.invalid_token"
	KeyAuthTokenExpired = "auth.token_expired"

	// Error kinds
	KeyErrorValidation        = "error.validation"
	KeyErrorAuthorization     = "error.authorization"
	KeyErrorState             = "error.state"
	KeyErrorInsufficientFunds = "error.insufficient_funds"
	KeyErrorNotFound          = "error.not_found"
	KeyErrorInternal          = "error.internal"
	KeyRateLimited            = "error.rate_limited"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Evidence upload
	KeyFileUploadFailed = "file.upload_failed"
	KeyFileInvalidType  = "file.invalid_type"
	KeyFileTooLarge     = "file.too_large"
)
