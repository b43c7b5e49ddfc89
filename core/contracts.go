package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// MetricsRecorder receives counters and duration samples. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// SecretProvider wraps token payloads with envelope encryption.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	KeyID() string
	Version() int
}

// SaveTokenInput carries the encrypted payloads for a new token version.
type SaveTokenInput struct {
	UserID            string
	EncryptedAccess   []byte
	EncryptedRefresh  []byte
	TokenType         string
	Scopes            []string
	ExpiresAt         time.Time
	Refreshable       bool
	EncryptionKeyID   string
	EncryptionVersion int
}

// TokenStore persists encrypted token versions. Saving a new version
// supersedes the previous active one in the same transaction.
type TokenStore interface {
	SaveNewVersion(ctx context.Context, input SaveTokenInput) (TokenRecord, error)
	GetActive(ctx context.Context, userID string) (TokenRecord, error)
	ListVersions(ctx context.Context, userID string, limit int) ([]TokenRecord, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// TokenBackupStore mirrors the active token version into a secondary
// location. Writes are best-effort; the primary save never waits on it.
type TokenBackupStore interface {
	Upsert(ctx context.Context, record TokenRecord) error
}

type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]AuditEntry, error)
}

type SecurityEventStore interface {
	Append(ctx context.Context, event SecurityEvent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]SecurityEvent, error)
}

// BackupFilter narrows backup submission listings.
type BackupFilter struct {
	UserID   string
	Statuses []BackupStatus
	Limit    int
}

type BackupStats struct {
	Total          int
	ByStatus       map[BackupStatus]int
	OldestUnsynced *time.Time
}

type BackupStore interface {
	Create(ctx context.Context, submission BackupSubmission) (BackupSubmission, error)
	Get(ctx context.Context, id string) (BackupSubmission, error)
	Update(ctx context.Context, submission BackupSubmission) (BackupSubmission, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter BackupFilter) ([]BackupSubmission, error)
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context, userID string) (BackupStats, error)
}

// AuthCodeURLRequest carries everything the provider needs to build the
// user-facing authorization URL.
type AuthCodeURLRequest struct {
	State         string
	CodeChallenge string
	RedirectURI   string
	Scopes        []string
}

// OAuthClient talks to the provider's OAuth endpoints.
type OAuthClient interface {
	AuthCodeURL(ctx context.Context, req AuthCodeURLRequest) (string, error)
	Exchange(ctx context.Context, code, verifier, redirectURI string) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string, scopes []string) (TokenSet, error)
	Revoke(ctx context.Context, token, tokenTypeHint string) error
}

// VerifierStore holds PKCE verifiers keyed by state until the callback
// consumes them. Consume is single-use.
type VerifierStore interface {
	Save(ctx context.Context, state, verifier string, expiresAt time.Time) error
	Consume(ctx context.Context, state string) (string, error)
}

// LockHandle releases a held user lock. Unlock is idempotent.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// UserLocker serializes refresh attempts per user.
type UserLocker interface {
	Acquire(ctx context.Context, userID string, ttl time.Duration) (LockHandle, error)
}

// RefreshBackoffScheduler yields the wait before the given 1-based attempt.
type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// AttemptLimiter throttles authorization attempts per user. Allow reports
// false when the caller should be rejected.
type AttemptLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// FailureTracker records auth failures into a sliding window and reports
// when the window crosses the suspicious-activity threshold.
type FailureTracker interface {
	RecordFailure(ctx context.Context, userID, reason string) (suspicious bool, err error)
	FailureCount(ctx context.Context, userID string) int
}

type EventHandler func(ctx context.Context, event Event) error

// EventBus fans events out to in-process subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(name string, handler EventHandler) (unsubscribe func())
}

// OutboxStore queues events for durable delivery. Claimed events carry
// their attempt count in metadata; Retry with a zero nextAttemptAt marks
// the event dead.
type OutboxStore interface {
	Enqueue(ctx context.Context, event Event) error
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error
}

// EventProjector consumes dispatched outbox events.
type EventProjector interface {
	Handle(ctx context.Context, event Event) error
}

type ProjectorRegistry interface {
	Handlers() []EventProjector
}

type EventDispatcher interface {
	DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error)
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

// RateLimitState is the persisted window for one limiter key.
type RateLimitState struct {
	Key         string
	WindowStart time.Time
	Count       int
	UpdatedAt   time.Time
}

type RateLimitStateStore interface {
	Get(ctx context.Context, key string) (RateLimitState, bool, error)
	Upsert(ctx context.Context, state RateLimitState) error
	Delete(ctx context.Context, key string) error
}

// HTTPDoer matches *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SubmissionSender pushes a backed-up submission to the upstream API.
// The returned reference is the upstream receipt identifier.
type SubmissionSender interface {
	Send(ctx context.Context, submission BackupSubmission) (reference string, err error)
}
