package core

import (
	"net/http"
	"strings"
	"time"
)

// OAuthErrorType identifies the provider-level failure class.
type OAuthErrorType string

const (
	OAuthErrorInvalidRequest         OAuthErrorType = "invalid_request"
	OAuthErrorInvalidClient          OAuthErrorType = "invalid_client"
	OAuthErrorInvalidGrant           OAuthErrorType = "invalid_grant"
	OAuthErrorUnauthorizedClient     OAuthErrorType = "unauthorized_client"
	OAuthErrorUnsupportedGrantType   OAuthErrorType = "unsupported_grant_type"
	OAuthErrorInvalidScope           OAuthErrorType = "invalid_scope"
	OAuthErrorAccessDenied           OAuthErrorType = "access_denied"
	OAuthErrorServerError            OAuthErrorType = "server_error"
	OAuthErrorTemporarilyUnavailable OAuthErrorType = "temporarily_unavailable"
	OAuthErrorInsufficientScope      OAuthErrorType = "insufficient_scope"
	OAuthErrorTokenExpired           OAuthErrorType = "token_expired"
	OAuthErrorRateLimitExceeded      OAuthErrorType = "rate_limit_exceeded"
	OAuthErrorNetworkError           OAuthErrorType = "network_error"
	OAuthErrorUnknown                OAuthErrorType = "unknown_error"
)

type ErrorCategory string

const (
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryAuthorization  ErrorCategory = "authorization"
	CategoryValidation     ErrorCategory = "validation"
	CategoryRateLimiting   ErrorCategory = "rate_limiting"
	CategoryServer         ErrorCategory = "server"
	CategoryNetwork        ErrorCategory = "network"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryUnknown        ErrorCategory = "unknown"
)

type RecoveryAction string

const (
	RecoveryReauthorize        RecoveryAction = "reauthorize"
	RecoveryRefreshToken       RecoveryAction = "refresh_token"
	RecoveryRetry              RecoveryAction = "retry"
	RecoveryRetryWithBackoff   RecoveryAction = "retry_with_backoff"
	RecoveryWaitAndRetry       RecoveryAction = "wait_and_retry"
	RecoveryValidateRequest    RecoveryAction = "validate_request"
	RecoveryCheckConfiguration RecoveryAction = "check_configuration"
	RecoveryContactSupport     RecoveryAction = "contact_support"
)

type ErrorSeverity string

const (
	SeverityInfo     ErrorSeverity = "info"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// ClassifiedError is the normalized view of a provider failure, ready for
// logging, notification, and recovery selection.
type ClassifiedError struct {
	Type        OAuthErrorType
	Category    ErrorCategory
	Action      RecoveryAction
	Severity    ErrorSeverity
	Retryable   bool
	UserMessage string
	Detail      string
	StatusCode  int
	OccurredAt  time.Time
}

type taxonomyEntry struct {
	category  ErrorCategory
	action    RecoveryAction
	severity  ErrorSeverity
	retryable bool
	message   string
}

var oauthTaxonomy = map[OAuthErrorType]taxonomyEntry{
	OAuthErrorInvalidRequest: {
		category: CategoryValidation,
		action:   RecoveryValidateRequest,
		severity: SeverityError,
		message:  "The request sent to HMRC was malformed. Please try again.",
	},
	OAuthErrorInvalidClient: {
		category: CategoryConfiguration,
		action:   RecoveryCheckConfiguration,
		severity: SeverityCritical,
		message:  "The application is not configured correctly for HMRC access.",
	},
	OAuthErrorInvalidGrant: {
		category: CategoryAuthentication,
		action:   RecoveryReauthorize,
		severity: SeverityWarning,
		message:  "Your HMRC connection has expired. Please reconnect your account.",
	},
	OAuthErrorUnauthorizedClient: {
		category: CategoryConfiguration,
		action:   RecoveryCheckConfiguration,
		severity: SeverityCritical,
		message:  "The application is not authorized for this HMRC operation.",
	},
	OAuthErrorUnsupportedGrantType: {
		category: CategoryConfiguration,
		action:   RecoveryCheckConfiguration,
		severity: SeverityCritical,
		message:  "The application requested an unsupported HMRC grant type.",
	},
	OAuthErrorInvalidScope: {
		category: CategoryConfiguration,
		action:   RecoveryCheckConfiguration,
		severity: SeverityError,
		message:  "The requested HMRC permissions are not valid.",
	},
	OAuthErrorAccessDenied: {
		category: CategoryAuthorization,
		action:   RecoveryReauthorize,
		severity: SeverityWarning,
		message:  "Access to HMRC was denied. Please authorize the application again.",
	},
	OAuthErrorServerError: {
		category:  CategoryServer,
		action:    RecoveryRetryWithBackoff,
		severity:  SeverityError,
		retryable: true,
		message:   "HMRC is experiencing problems. Please try again shortly.",
	},
	OAuthErrorTemporarilyUnavailable: {
		category:  CategoryServer,
		action:    RecoveryWaitAndRetry,
		severity:  SeverityWarning,
		retryable: true,
		message:   "HMRC is temporarily unavailable. Please try again later.",
	},
	OAuthErrorInsufficientScope: {
		category: CategoryAuthorization,
		action:   RecoveryReauthorize,
		severity: SeverityWarning,
		message:  "Your HMRC connection is missing required permissions. Please reconnect.",
	},
	OAuthErrorTokenExpired: {
		category:  CategoryAuthentication,
		action:    RecoveryRefreshToken,
		severity:  SeverityInfo,
		retryable: true,
		message:   "Your HMRC session expired and is being renewed.",
	},
	OAuthErrorRateLimitExceeded: {
		category:  CategoryRateLimiting,
		action:    RecoveryWaitAndRetry,
		severity:  SeverityWarning,
		retryable: true,
		message:   "Too many requests were sent to HMRC. Please wait a moment.",
	},
	OAuthErrorNetworkError: {
		category:  CategoryNetwork,
		action:    RecoveryRetryWithBackoff,
		severity:  SeverityWarning,
		retryable: true,
		message:   "HMRC could not be reached. Check your connection and try again.",
	},
	OAuthErrorUnknown: {
		category: CategoryUnknown,
		action:   RecoveryContactSupport,
		severity: SeverityError,
		message:  "An unexpected HMRC error occurred. Contact support if it persists.",
	},
}

// ClassifyOAuthError normalizes a raw provider failure. Classification
// checks message substrings first, then the exact OAuth error code, then
// the HTTP status, and falls back to unknown.
func ClassifyOAuthError(err error, oauthCode string, statusCode int) ClassifiedError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}

	errType := classifyBySubstring(detail)
	if errType == "" {
		errType = classifyByCode(oauthCode)
	}
	if errType == "" {
		errType = classifyByStatus(statusCode)
	}
	if errType == "" {
		errType = OAuthErrorUnknown
	}

	entry := oauthTaxonomy[errType]
	return ClassifiedError{
		Type:        errType,
		Category:    entry.category,
		Action:      entry.action,
		Severity:    entry.severity,
		Retryable:   entry.retryable,
		UserMessage: entry.message,
		Detail:      detail,
		StatusCode:  statusCode,
		OccurredAt:  time.Now().UTC(),
	}
}

func classifyBySubstring(detail string) OAuthErrorType {
	msg := strings.ToLower(detail)
	switch {
	case msg == "":
		return ""
	case strings.Contains(msg, "invalid_grant"), strings.Contains(msg, "invalid grant"):
		return OAuthErrorInvalidGrant
	case strings.Contains(msg, "token") && strings.Contains(msg, "expired"):
		return OAuthErrorTokenExpired
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return OAuthErrorRateLimitExceeded
	case strings.Contains(msg, "insufficient") && strings.Contains(msg, "scope"):
		return OAuthErrorInsufficientScope
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "access_denied"):
		return OAuthErrorAccessDenied
	case strings.Contains(msg, "temporarily_unavailable"), strings.Contains(msg, "temporarily unavailable"):
		return OAuthErrorTemporarilyUnavailable
	case strings.Contains(msg, "invalid_client"):
		return OAuthErrorInvalidClient
	case strings.Contains(msg, "unauthorized_client"):
		return OAuthErrorUnauthorizedClient
	case strings.Contains(msg, "unsupported_grant_type"):
		return OAuthErrorUnsupportedGrantType
	case strings.Contains(msg, "invalid_scope"):
		return OAuthErrorInvalidScope
	case strings.Contains(msg, "server_error"):
		return OAuthErrorServerError
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "network_error"):
		return OAuthErrorNetworkError
	}
	return ""
}

func classifyByCode(code string) OAuthErrorType {
	candidate := OAuthErrorType(strings.ToLower(strings.TrimSpace(code)))
	if _, ok := oauthTaxonomy[candidate]; ok && candidate != OAuthErrorUnknown {
		return candidate
	}
	return ""
}

func classifyByStatus(status int) OAuthErrorType {
	switch status {
	case http.StatusUnauthorized:
		return OAuthErrorInvalidGrant
	case http.StatusForbidden:
		return OAuthErrorInsufficientScope
	case http.StatusBadRequest:
		return OAuthErrorInvalidRequest
	case http.StatusTooManyRequests:
		return OAuthErrorRateLimitExceeded
	case http.StatusInternalServerError, http.StatusBadGateway:
		return OAuthErrorServerError
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return OAuthErrorTemporarilyUnavailable
	}
	return ""
}
