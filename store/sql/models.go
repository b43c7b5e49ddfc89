package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:hmrc_tokens,alias:ht"`

	ID                string    `bun:"id,pk"`
	UserID            string    `bun:"user_id,notnull"`
	Version           int       `bun:"version,notnull"`
	EncryptedAccess   []byte    `bun:"encrypted_access,notnull"`
	EncryptedRefresh  []byte    `bun:"encrypted_refresh"`
	TokenType         string    `bun:"token_type,notnull"`
	Scopes            []string  `bun:"scopes,type:jsonb,notnull"`
	ExpiresAt         time.Time `bun:"expires_at,notnull"`
	Refreshable       bool      `bun:"refreshable,notnull"`
	Status            string    `bun:"status,notnull"`
	EncryptionKeyID   string    `bun:"encryption_key_id,notnull"`
	EncryptionVersion int       `bun:"encryption_version,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type tokenBackupRecord struct {
	bun.BaseModel `bun:"table:hmrc_token_backups,alias:htb"`

	ID                string    `bun:"id,pk"`
	UserID            string    `bun:"user_id,notnull"`
	Version           int       `bun:"version,notnull"`
	EncryptedAccess   []byte    `bun:"encrypted_access,notnull"`
	EncryptedRefresh  []byte    `bun:"encrypted_refresh"`
	TokenType         string    `bun:"token_type,notnull"`
	Scopes            []string  `bun:"scopes,type:jsonb,notnull"`
	ExpiresAt         time.Time `bun:"expires_at,notnull"`
	Refreshable       bool      `bun:"refreshable,notnull"`
	EncryptionKeyID   string    `bun:"encryption_key_id,notnull"`
	EncryptionVersion int       `bun:"encryption_version,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:hmrc_audit_log,alias:hal"`

	ID        string         `bun:"id,pk"`
	UserID    string         `bun:"user_id,notnull"`
	Provider  string         `bun:"provider,notnull"`
	Action    string         `bun:"action,notnull"`
	IPAddress string         `bun:"ip_address"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type securityEventRecord struct {
	bun.BaseModel `bun:"table:hmrc_security_events,alias:hse"`

	ID        string         `bun:"id,pk"`
	UserID    string         `bun:"user_id,notnull"`
	EventType string         `bun:"event_type,notnull"`
	Severity  string         `bun:"severity,notnull"`
	Details   map[string]any `bun:"details,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type backupSubmissionRecord struct {
	bun.BaseModel `bun:"table:hmrc_backup_submissions,alias:hbs"`

	ID              string         `bun:"id,pk"`
	UserID          string         `bun:"user_id,notnull"`
	SubmissionType  string         `bun:"submission_type,notnull"`
	TaxYear         string         `bun:"tax_year,notnull"`
	Data            map[string]any `bun:"data,type:jsonb,notnull"`
	Status          string         `bun:"status,notnull"`
	SyncAttempts    int            `bun:"sync_attempts,notnull"`
	LastSyncAttempt *time.Time     `bun:"last_sync_attempt,nullzero"`
	ErrorMessage    string         `bun:"error_message"`
	Checksum        string         `bun:"checksum,notnull"`
	Priority        string         `bun:"priority,notnull"`
	HMRCReference   string         `bun:"hmrc_reference"`
	FormVersion     string         `bun:"form_version"`
	UserAgent       string         `bun:"user_agent"`
	Source          string         `bun:"source,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type outboxEventRecord struct {
	bun.BaseModel `bun:"table:hmrc_notification_outbox,alias:hno"`

	ID            string         `bun:"id,pk"`
	EventID       string         `bun:"event_id,notnull"`
	EventName     string         `bun:"event_name,notnull"`
	UserID        string         `bun:"user_id"`
	Source        string         `bun:"source,notnull"`
	Payload       map[string]any `bun:"payload,type:jsonb,notnull"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	LastError     string         `bun:"last_error,notnull"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:hmrc_rate_limit_states,alias:hrl"`

	ID          string    `bun:"id,pk"`
	BucketKey   string    `bun:"bucket_key,notnull"`
	WindowStart time.Time `bun:"window_start,notnull"`
	Count       int       `bun:"count,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
