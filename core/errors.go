package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput            = "HMRC_BAD_INPUT"
	ServiceErrorTokenNotFound       = "HMRC_TOKEN_NOT_FOUND"
	ServiceErrorStateInvalid        = "HMRC_OAUTH_STATE_INVALID"
	ServiceErrorVerifierMissing     = "HMRC_VERIFIER_MISSING"
	ServiceErrorReauthRequired      = "HMRC_REAUTHORIZATION_REQUIRED"
	ServiceErrorRefreshLocked       = "HMRC_REFRESH_LOCKED"
	ServiceErrorRateLimited         = "HMRC_RATE_LIMITED"
	ServiceErrorSuspiciousActivity  = "HMRC_SUSPICIOUS_ACTIVITY"
	ServiceErrorEncryptionFailed    = "HMRC_ENCRYPTION_FAILED"
	ServiceErrorDecryptionFailed    = "HMRC_DECRYPTION_FAILED"
	ServiceErrorProviderUnavailable = "HMRC_PROVIDER_UNAVAILABLE"
	ServiceErrorBackupConflict      = "HMRC_BACKUP_CONFLICT"
	ServiceErrorInternal            = "HMRC_INTERNAL_ERROR"
)

// MapServiceError wraps any failure in the service error envelope so
// callers outside the package get a category, HTTP status and text code.
func MapServiceError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "token not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorTokenNotFound)
	case strings.Contains(msg, "oauth callback state"), strings.Contains(msg, "oauth state"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorStateInvalid)
	case strings.Contains(msg, "verifier not found"), strings.Contains(msg, "verifier expired"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorVerifierMissing)
	case strings.Contains(msg, "reauthorization required"), strings.Contains(msg, "invalid_grant"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorReauthRequired)
	case strings.Contains(msg, "suspicious"):
		return newServiceError(err.Error(), goerrors.CategoryAuthz, ServiceErrorSuspiciousActivity)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorRefreshLocked)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case strings.Contains(msg, "master key may be incorrect"), strings.Contains(msg, "data may be corrupted"):
		return newServiceError(err.Error(), goerrors.CategoryInternal, ServiceErrorDecryptionFailed)
	case strings.Contains(msg, "encrypt"):
		return newServiceError(err.Error(), goerrors.CategoryInternal, ServiceErrorEncryptionFailed)
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "duplicate"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorBackupConflict)
	case strings.Contains(msg, "temporarily unavailable"), strings.Contains(msg, "service unavailable"):
		return newServiceError(err.Error(), goerrors.CategoryExternal, ServiceErrorProviderUnavailable)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorTokenNotFound
	case goerrors.CategoryAuth:
		return ServiceErrorReauthRequired
	case goerrors.CategoryAuthz:
		return ServiceErrorSuspiciousActivity
	case goerrors.CategoryConflict:
		return ServiceErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryExternal:
		return ServiceErrorProviderUnavailable
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
