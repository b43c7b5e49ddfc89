package command

import (
	"strings"

	"github.com/goliatone/go-hmrc/backup"
	"github.com/goliatone/go-hmrc/core"
)

const (
	TypeInitiateAuth          = "hmrc.command.auth.initiate"
	TypeCompleteCallback      = "hmrc.command.auth.callback"
	TypeRefresh               = "hmrc.command.auth.refresh"
	TypeDisconnect            = "hmrc.command.auth.disconnect"
	TypeRotateEncryption      = "hmrc.command.tokens.rotate_encryption"
	TypeCreateBackup          = "hmrc.command.backup.create"
	TypeSyncBackups           = "hmrc.command.backup.sync"
	TypeResolveBackupConflict = "hmrc.command.backup.resolve_conflict"
)

type InitiateAuthMessage struct {
	UserID string
}

func (InitiateAuthMessage) Type() string { return TypeInitiateAuth }

func (m InitiateAuthMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

type CompleteCallbackMessage struct {
	Input core.CallbackInput
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Input.State) == "" {
		return commandValidationError("state", "callback state is required")
	}
	if strings.TrimSpace(m.Input.Code) == "" && strings.TrimSpace(m.Input.ErrorParam) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type RefreshMessage struct {
	UserID string
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

type DisconnectMessage struct {
	UserID string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

type RotateTokenEncryptionMessage struct {
	UserID string
}

func (RotateTokenEncryptionMessage) Type() string { return TypeRotateEncryption }

func (m RotateTokenEncryptionMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

type CreateBackupMessage struct {
	Input backup.CreateInput
}

func (CreateBackupMessage) Type() string { return TypeCreateBackup }

func (m CreateBackupMessage) Validate() error {
	if strings.TrimSpace(m.Input.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if err := m.Input.SubmissionType.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid submission type")
	}
	if strings.TrimSpace(m.Input.TaxYear) == "" {
		return commandValidationError("tax_year", "tax year is required")
	}
	if len(m.Input.Data) == 0 {
		return commandValidationError("data", "submission data is required")
	}
	return nil
}

// SyncBackupsMessage with an empty user id syncs every user's queue.
type SyncBackupsMessage struct {
	UserID string
	Force  bool
}

func (SyncBackupsMessage) Type() string { return TypeSyncBackups }

func (SyncBackupsMessage) Validate() error { return nil }

type ResolveBackupConflictMessage struct {
	BackupID   string
	Resolution core.ConflictResolution
	MergedData map[string]any
}

func (ResolveBackupConflictMessage) Type() string { return TypeResolveBackupConflict }

func (m ResolveBackupConflictMessage) Validate() error {
	if strings.TrimSpace(m.BackupID) == "" {
		return commandValidationError("backup_id", "backup id is required")
	}
	if err := m.Resolution.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid conflict resolution")
	}
	return nil
}
