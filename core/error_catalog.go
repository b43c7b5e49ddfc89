package core

import (
	"strings"
	"time"
)

// CatalogEntry is the user-facing description registered for a known
// provider error code.
type CatalogEntry struct {
	Code      string
	Title     string
	Message   string
	Guidance  string
	Category  ErrorCategory
	Action    RecoveryAction
	Severity  ErrorSeverity
	Retryable bool
}

const (
	CodeInvalidCredentials            = "INVALID_CREDENTIALS"
	CodeInvalidToken                  = "INVALID_TOKEN"
	CodeTokenExpired                  = "TOKEN_EXPIRED"
	CodeInsufficientPermissions       = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimitExceeded             = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavailable            = "SERVICE_UNAVAILABLE"
	CodeValidationFailed              = "VALIDATION_FAILED"
	CodeDuplicateSubmission           = "DUPLICATE_SUBMISSION"
	CodeFraudPreventionHeadersMissing = "FRAUD_PREVENTION_HEADERS_MISSING"
	CodeQuotaExceeded                 = "QUOTA_EXCEEDED"
	CodeInvalidRequest                = "INVALID_REQUEST"
	CodeMissingRequiredField          = "MISSING_REQUIRED_FIELD"
	CodeInvalidDateFormat             = "INVALID_DATE_FORMAT"
	CodeInvalidAmount                 = "INVALID_AMOUNT"
	CodeSubmissionDeadlinePassed      = "SUBMISSION_DEADLINE_PASSED"
	CodeCalculationError              = "CALCULATION_ERROR"
	CodeInternalServerError           = "INTERNAL_SERVER_ERROR"
	CodeGatewayTimeout                = "GATEWAY_TIMEOUT"
	CodeNetworkError                  = "NETWORK_ERROR"
	CodeTimeout                       = "TIMEOUT"
	CodeAntiVirusCheckFailed          = "ANTI_VIRUS_CHECK_FAILED"
)

var errorCatalog = map[string]CatalogEntry{
	CodeInvalidCredentials: {
		Code:     CodeInvalidCredentials,
		Title:    "Sign-in failed",
		Message:  "HMRC rejected the application credentials.",
		Guidance: "Check the configured client id and secret.",
		Category: CategoryConfiguration,
		Action:   RecoveryCheckConfiguration,
		Severity: SeverityCritical,
	},
	CodeInvalidToken: {
		Code:      CodeInvalidToken,
		Title:     "Session invalid",
		Message:   "Your HMRC session is no longer valid.",
		Guidance:  "The session will be renewed automatically.",
		Category:  CategoryAuthentication,
		Action:    RecoveryRefreshToken,
		Severity:  SeverityInfo,
		Retryable: true,
	},
	CodeTokenExpired: {
		Code:      CodeTokenExpired,
		Title:     "Session expired",
		Message:   "Your HMRC session has expired.",
		Guidance:  "The session will be renewed automatically.",
		Category:  CategoryAuthentication,
		Action:    RecoveryRefreshToken,
		Severity:  SeverityInfo,
		Retryable: true,
	},
	CodeInsufficientPermissions: {
		Code:     CodeInsufficientPermissions,
		Title:    "Missing permissions",
		Message:  "Your HMRC connection does not allow this operation.",
		Guidance: "Reconnect your HMRC account to grant the required permissions.",
		Category: CategoryAuthorization,
		Action:   RecoveryReauthorize,
		Severity: SeverityWarning,
	},
	CodeRateLimitExceeded: {
		Code:      CodeRateLimitExceeded,
		Title:     "Too many requests",
		Message:   "HMRC is limiting requests from this application.",
		Guidance:  "Wait a minute before retrying.",
		Category:  CategoryRateLimiting,
		Action:    RecoveryWaitAndRetry,
		Severity:  SeverityWarning,
		Retryable: true,
	},
	CodeServiceUnavailable: {
		Code:      CodeServiceUnavailable,
		Title:     "HMRC unavailable",
		Message:   "HMRC services are temporarily unavailable.",
		Guidance:  "Your work is saved locally and will sync when HMRC recovers.",
		Category:  CategoryServer,
		Action:    RecoveryWaitAndRetry,
		Severity:  SeverityWarning,
		Retryable: true,
	},
	CodeValidationFailed: {
		Code:     CodeValidationFailed,
		Title:    "Submission rejected",
		Message:  "HMRC rejected the submission contents.",
		Guidance: "Review the highlighted fields and resubmit.",
		Category: CategoryValidation,
		Action:   RecoveryValidateRequest,
		Severity: SeverityError,
	},
	CodeDuplicateSubmission: {
		Code:     CodeDuplicateSubmission,
		Title:    "Already submitted",
		Message:  "HMRC already holds a submission for this period.",
		Guidance: "Resolve the conflict before syncing again.",
		Category: CategoryValidation,
		Action:   RecoveryContactSupport,
		Severity: SeverityWarning,
	},
	CodeFraudPreventionHeadersMissing: {
		Code:     CodeFraudPreventionHeadersMissing,
		Title:    "Request headers missing",
		Message:  "The request is missing mandatory fraud prevention headers.",
		Guidance: "Check the client header configuration.",
		Category: CategoryConfiguration,
		Action:   RecoveryCheckConfiguration,
		Severity: SeverityCritical,
	},
	CodeQuotaExceeded: {
		Code:     CodeQuotaExceeded,
		Title:    "Quota exceeded",
		Message:  "The application has used its HMRC request quota.",
		Guidance: "Try again after the quota window resets.",
		Category: CategoryRateLimiting,
		Action:   RecoveryWaitAndRetry,
		Severity: SeverityWarning,
	},
	CodeInvalidRequest: {
		Code:     CodeInvalidRequest,
		Title:    "Request rejected",
		Message:  "HMRC could not process the request.",
		Guidance: "Review the submission and try again.",
		Category: CategoryValidation,
		Action:   RecoveryValidateRequest,
		Severity: SeverityError,
	},
	CodeMissingRequiredField: {
		Code:     CodeMissingRequiredField,
		Title:    "Missing information",
		Message:  "A required field is missing from the submission.",
		Guidance: "Complete the highlighted fields and resubmit.",
		Category: CategoryValidation,
		Action:   RecoveryValidateRequest,
		Severity: SeverityError,
	},
	CodeInvalidDateFormat: {
		Code:     CodeInvalidDateFormat,
		Title:    "Invalid date",
		Message:  "A date in the submission is not in the expected format.",
		Guidance: "Use the YYYY-MM-DD format.",
		Category: CategoryValidation,
		Action:   RecoveryValidateRequest,
		Severity: SeverityError,
	},
	CodeInvalidAmount: {
		Code:     CodeInvalidAmount,
		Title:    "Invalid amount",
		Message:  "An amount in the submission is not valid.",
		Guidance: "Amounts must be positive with at most two decimal places.",
		Category: CategoryValidation,
		Action:   RecoveryValidateRequest,
		Severity: SeverityError,
	},
	CodeSubmissionDeadlinePassed: {
		Code:     CodeSubmissionDeadlinePassed,
		Title:    "Deadline passed",
		Message:  "The filing deadline for this period has passed.",
		Guidance: "Contact HMRC about late filing options.",
		Category: CategoryValidation,
		Action:   RecoveryContactSupport,
		Severity: SeverityCritical,
	},
	CodeCalculationError: {
		Code:      CodeCalculationError,
		Title:     "Calculation failed",
		Message:   "HMRC could not calculate the liability for this submission.",
		Guidance:  "Check the figures and try again.",
		Category:  CategoryServer,
		Action:    RecoveryRetry,
		Severity:  SeverityError,
		Retryable: true,
	},
	CodeInternalServerError: {
		Code:      CodeInternalServerError,
		Title:     "HMRC error",
		Message:   "HMRC reported an internal error.",
		Guidance:  "Try again shortly.",
		Category:  CategoryServer,
		Action:    RecoveryRetryWithBackoff,
		Severity:  SeverityError,
		Retryable: true,
	},
	CodeGatewayTimeout: {
		Code:      CodeGatewayTimeout,
		Title:     "HMRC timed out",
		Message:   "HMRC took too long to respond.",
		Guidance:  "Try again shortly.",
		Category:  CategoryServer,
		Action:    RecoveryRetryWithBackoff,
		Severity:  SeverityWarning,
		Retryable: true,
	},
	CodeNetworkError: {
		Code:      CodeNetworkError,
		Title:     "Connection problem",
		Message:   "The connection to HMRC failed.",
		Guidance:  "Check your connection. Your work is saved locally.",
		Category:  CategoryNetwork,
		Action:    RecoveryRetryWithBackoff,
		Severity:  SeverityWarning,
		Retryable: true,
	},
	CodeTimeout: {
		Code:      CodeTimeout,
		Title:     "Request timed out",
		Message:   "The request to HMRC timed out.",
		Guidance:  "Try again shortly.",
		Category:  CategoryNetwork,
		Action:    RecoveryRetryWithBackoff,
		Severity:  SeverityWarning,
		Retryable: true,
	},
	CodeAntiVirusCheckFailed: {
		Code:     CodeAntiVirusCheckFailed,
		Title:    "Attachment rejected",
		Message:  "HMRC rejected an attachment during virus scanning.",
		Guidance: "Re-export the attachment and try again.",
		Category: CategoryValidation,
		Action:   RecoveryValidateRequest,
		Severity: SeverityError,
	},
}

// LookupCatalogEntry returns the catalog entry for a code, falling back
// to a generic unknown entry.
func LookupCatalogEntry(code string) CatalogEntry {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if entry, ok := errorCatalog[normalized]; ok {
		return entry
	}
	return CatalogEntry{
		Code:     normalized,
		Title:    "Unexpected error",
		Message:  "An unexpected HMRC error occurred.",
		Guidance: "Contact support if the problem persists.",
		Category: CategoryUnknown,
		Action:   RecoveryContactSupport,
		Severity: SeverityError,
	}
}

// MapHTTPStatus maps a provider HTTP status and response body to a
// catalog code. Bodies disambiguate the 400 and 403 families.
func MapHTTPStatus(status int, body string) string {
	lowered := strings.ToLower(body)
	switch status {
	case 400:
		switch {
		case strings.Contains(lowered, "required"):
			return CodeMissingRequiredField
		case strings.Contains(lowered, "date"):
			return CodeInvalidDateFormat
		case strings.Contains(lowered, "amount"):
			return CodeInvalidAmount
		default:
			return CodeInvalidRequest
		}
	case 401:
		if strings.Contains(lowered, "client") || strings.Contains(lowered, "credential") {
			return CodeInvalidCredentials
		}
		return CodeInvalidToken
	case 403:
		switch {
		case strings.Contains(lowered, "duplicate"):
			return CodeDuplicateSubmission
		case strings.Contains(lowered, "scope") || strings.Contains(lowered, "permission"):
			return CodeInsufficientPermissions
		case strings.Contains(lowered, "fraud"):
			return CodeFraudPreventionHeadersMissing
		default:
			return CodeInvalidCredentials
		}
	case 409:
		return CodeDuplicateSubmission
	case 422:
		return CodeValidationFailed
	case 429:
		if strings.Contains(lowered, "quota") {
			return CodeQuotaExceeded
		}
		return CodeRateLimitExceeded
	case 503:
		return CodeServiceUnavailable
	case 504:
		return CodeGatewayTimeout
	}
	if status >= 500 {
		return CodeInternalServerError
	}
	return ""
}

// CatalogCodes lists the registered catalog codes.
func CatalogCodes() []string {
	codes := make([]string, 0, len(errorCatalog))
	for code := range errorCatalog {
		codes = append(codes, code)
	}
	return codes
}

// RecoveryStep is one step in a recovery workflow. Automatic steps run
// without user interaction.
type RecoveryStep struct {
	Action    RecoveryAction
	Wait      time.Duration
	Automatic bool
}

type RecoveryWorkflow struct {
	Code  string
	Steps []RecoveryStep
}

var recoveryWorkflows = map[string]RecoveryWorkflow{
	CodeInvalidToken: {
		Code: CodeInvalidToken,
		Steps: []RecoveryStep{
			{Action: RecoveryRefreshToken, Automatic: true},
			{Action: RecoveryRetry, Automatic: true},
		},
	},
	CodeTokenExpired: {
		Code: CodeTokenExpired,
		Steps: []RecoveryStep{
			{Action: RecoveryRefreshToken, Automatic: true},
			{Action: RecoveryRetry, Automatic: true},
		},
	},
	CodeRateLimitExceeded: {
		Code: CodeRateLimitExceeded,
		Steps: []RecoveryStep{
			{Action: RecoveryWaitAndRetry, Wait: 60 * time.Second, Automatic: true},
		},
	},
	CodeServiceUnavailable: {
		Code: CodeServiceUnavailable,
		Steps: []RecoveryStep{
			{Action: RecoveryWaitAndRetry, Wait: 300 * time.Second, Automatic: true},
		},
	},
	CodeInvalidCredentials: {
		Code: CodeInvalidCredentials,
		Steps: []RecoveryStep{
			{Action: RecoveryReauthorize},
		},
	},
	CodeInvalidRequest: {
		Code: CodeInvalidRequest,
		Steps: []RecoveryStep{
			{Action: RecoveryValidateRequest},
			{Action: RecoveryRetry},
		},
	},
}

// LookupRecoveryWorkflow returns the workflow for a catalog code if one
// is registered.
func LookupRecoveryWorkflow(code string) (RecoveryWorkflow, bool) {
	workflow, ok := recoveryWorkflows[strings.ToUpper(strings.TrimSpace(code))]
	return workflow, ok
}
