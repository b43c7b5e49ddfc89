package query

import "strings"

const (
	TypeAuthStatus   = "hmrc.query.auth.status"
	TypeAuditLogs    = "hmrc.query.audit.list"
	TypeBackupStats  = "hmrc.query.backup.stats"
	TypeSystemHealth = "hmrc.query.health.system"
)

type AuthStatusMessage struct {
	UserID string
}

func (AuthStatusMessage) Type() string { return TypeAuthStatus }

func (m AuthStatusMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type AuditLogsMessage struct {
	UserID string
	Limit  int
}

func (AuditLogsMessage) Type() string { return TypeAuditLogs }

func (m AuditLogsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type BackupStatsMessage struct {
	UserID string
}

func (BackupStatsMessage) Type() string { return TypeBackupStats }

func (m BackupStatsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type SystemHealthMessage struct{}

func (SystemHealthMessage) Type() string { return TypeSystemHealth }

func (SystemHealthMessage) Validate() error { return nil }
