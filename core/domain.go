package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTokenNotFound              = errors.New("core: token not found")
	ErrInvalidTokenStatusChange   = errors.New("core: invalid token status transition")
	ErrInvalidBackupStatusChange  = errors.New("core: invalid backup status transition")
	ErrInvalidSubmissionType      = errors.New("core: invalid submission type")
	ErrInvalidBackupPriority      = errors.New("core: invalid backup priority")
	ErrInvalidConflictResolution  = errors.New("core: invalid conflict resolution")
	ErrBackupChecksumMismatch     = errors.New("core: backup checksum mismatch")
	ErrReauthorizationRequired    = errors.New("core: reauthorization required")
	ErrClientCredentialsMissing   = errors.New("core: oauth client credentials are not configured")
	ErrVerifierNotFound           = errors.New("core: authorization verifier not found")
	ErrVerifierExpired            = errors.New("core: authorization verifier expired")
	ErrAuthAttemptsRateLimited    = errors.New("core: authorization attempts rate limited")
	ErrSuspiciousActivityDetected = errors.New("core: suspicious authorization activity detected")
)

const ProviderID = "hmrc"

// TokenSet is the decrypted OAuth token material handed to callers.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scopes       []string
	ExpiresIn    int64
	ExpiresAt    time.Time
}

func (t TokenSet) Validate() error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return fmt.Errorf("core: access token is required")
	}
	return nil
}

// Refreshable reports whether the set carries a refresh token.
func (t TokenSet) Refreshable() bool {
	return strings.TrimSpace(t.RefreshToken) != ""
}

type TokenStatus string

const (
	TokenStatusActive     TokenStatus = "active"
	TokenStatusSuperseded TokenStatus = "superseded"
	TokenStatusRevoked    TokenStatus = "revoked"
)

// TokenRecord is a persisted, encrypted token version for one user.
type TokenRecord struct {
	ID                string
	UserID            string
	Version           int
	EncryptedAccess   []byte
	EncryptedRefresh  []byte
	TokenType         string
	Scopes            []string
	ExpiresAt         time.Time
	Refreshable       bool
	Status            TokenStatus
	EncryptionKeyID   string
	EncryptionVersion int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *TokenRecord) TransitionTo(status TokenStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status {
		r.UpdatedAt = now
		return nil
	}
	if !tokenTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTokenStatusChange, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	return nil
}

func tokenTransitionAllowed(current, next TokenStatus) bool {
	allowed := map[TokenStatus]map[TokenStatus]struct{}{
		TokenStatusActive: {
			TokenStatusSuperseded: {},
			TokenStatusRevoked:    {},
		},
		TokenStatusSuperseded: {
			TokenStatusRevoked: {},
		},
		TokenStatusRevoked: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// AuditEntry records one token lifecycle operation. Audit writes are
// best-effort and must never fail the primary operation.
type AuditEntry struct {
	ID        string
	UserID    string
	Provider  string
	Action    string
	IPAddress string
	Metadata  map[string]any
	CreatedAt time.Time
}

const (
	AuditActionAuthInitiated   = "auth_initiated"
	AuditActionTokenReceived   = "token_received"
	AuditActionTokenStored     = "token_stored"
	AuditActionTokenRefreshed  = "token_refreshed"
	AuditActionTokensCleared   = "tokens_cleared"
	AuditActionRefreshError    = "refresh_error"
	AuditActionCallbackError   = "callback_error"
	AuditActionAPIRetry        = "api_retry"
	AuditActionAPICallFailed   = "api_call_failed"
	AuditActionTokenRevocation = "token_revocation"
	AuditActionDisconnect      = "disconnect"
	AuditActionRotation        = "encryption_rotated"
)

// SecurityEvent is an out-of-band security signal, e.g. repeated auth
// failures inside the sliding window.
type SecurityEvent struct {
	ID        string
	UserID    string
	EventType string
	Severity  string
	Details   map[string]any
	CreatedAt time.Time
}

const SecurityEventSuspiciousAuthActivity = "suspicious_auth_activity"

type SubmissionType string

const (
	SubmissionTypePersonal SubmissionType = "personal"
	SubmissionTypeCompany  SubmissionType = "company"
)

func (t SubmissionType) Validate() error {
	switch t {
	case SubmissionTypePersonal, SubmissionTypeCompany:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidSubmissionType, string(t))
}

type BackupStatus string

const (
	BackupStatusPending  BackupStatus = "pending"
	BackupStatusSyncing  BackupStatus = "syncing"
	BackupStatusSynced   BackupStatus = "synced"
	BackupStatusFailed   BackupStatus = "failed"
	BackupStatusConflict BackupStatus = "conflict"
)

type BackupPriority string

const (
	BackupPriorityHigh   BackupPriority = "high"
	BackupPriorityMedium BackupPriority = "medium"
	BackupPriorityLow    BackupPriority = "low"
)

// PriorityRank orders priorities for sync scheduling; lower sorts first.
func PriorityRank(p BackupPriority) int {
	switch p {
	case BackupPriorityHigh:
		return 0
	case BackupPriorityMedium:
		return 1
	case BackupPriorityLow:
		return 2
	}
	return 3
}

type BackupSource string

const (
	BackupSourceAuto     BackupSource = "auto"
	BackupSourceManual   BackupSource = "manual"
	BackupSourceRecovery BackupSource = "recovery"
)

type BackupMetadata struct {
	FormVersion string
	UserAgent   string
	Source      BackupSource
}

// BackupSubmission is a durably queued draft submission awaiting sync.
type BackupSubmission struct {
	ID              string
	UserID          string
	SubmissionType  SubmissionType
	TaxYear         string
	Data            map[string]any
	Status          BackupStatus
	SyncAttempts    int
	LastSyncAttempt *time.Time
	ErrorMessage    string
	Checksum        string
	Priority        BackupPriority
	HMRCReference   string
	Metadata        BackupMetadata
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *BackupSubmission) TransitionTo(status BackupStatus, now time.Time) error {
	if b == nil {
		return nil
	}
	if b.Status == status {
		b.UpdatedAt = now
		return nil
	}
	if !backupTransitionAllowed(b.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidBackupStatusChange, b.Status, status)
	}
	b.Status = status
	b.UpdatedAt = now
	return nil
}

func backupTransitionAllowed(current, next BackupStatus) bool {
	allowed := map[BackupStatus]map[BackupStatus]struct{}{
		BackupStatusPending: {
			BackupStatusSyncing: {},
			BackupStatusFailed:  {},
		},
		BackupStatusSyncing: {
			BackupStatusSynced:   {},
			BackupStatusFailed:   {},
			BackupStatusConflict: {},
		},
		BackupStatusFailed: {
			BackupStatusPending: {},
			BackupStatusSyncing: {},
		},
		BackupStatusConflict: {
			BackupStatusPending: {},
			BackupStatusSynced:  {},
		},
		BackupStatusSynced: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type ConflictResolution string

const (
	ConflictKeepLocal  ConflictResolution = "keep_local"
	ConflictKeepRemote ConflictResolution = "keep_remote"
	ConflictMerge      ConflictResolution = "merge"
)

func (r ConflictResolution) Validate() error {
	switch r {
	case ConflictKeepLocal, ConflictKeepRemote, ConflictMerge:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidConflictResolution, string(r))
}

// Event is the integration event shape published on the bus and queued in
// the notification outbox.
type Event struct {
	ID         string
	Name       string
	UserID     string
	Source     string
	OccurredAt time.Time
	Payload    map[string]any
	Metadata   map[string]any
}

const (
	EventTokenRefreshed     = "hmrc.token.refreshed"
	EventTokensCleared      = "hmrc.tokens.cleared"
	EventAuthDisconnected   = "hmrc.auth.disconnected"
	EventSuspiciousActivity = "hmrc.security.suspicious_activity"
	EventBackupCreated      = "hmrc.backup.created"
	EventBackupSynced       = "hmrc.backup.synced"
	EventBackupConflict     = "hmrc.backup.conflict"
	EventServiceDegraded    = "hmrc.health.degraded"
	EventServiceRecovered   = "hmrc.health.recovered"
)

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneStrings(in []string) []string {
	return append([]string(nil), in...)
}
