package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-hmrc/backup"
	"github.com/goliatone/go-hmrc/core"
)

type AuthMutator interface {
	InitiateAuthorization(ctx context.Context, userID string) (core.AuthorizationIntent, error)
	CompleteCallback(ctx context.Context, input core.CallbackInput) (core.CallbackResult, error)
	RefreshTokens(ctx context.Context, userID string) (core.TokenSet, error)
	Disconnect(ctx context.Context, userID string) error
}

type TokenRotator interface {
	RotateEncryption(ctx context.Context, userID string) (core.TokenRecord, error)
}

type BackupMutator interface {
	Create(ctx context.Context, input backup.CreateInput) (core.BackupSubmission, error)
	SyncPending(ctx context.Context, userID string) (backup.SyncResult, error)
	ForceSyncAll(ctx context.Context, userID string) (backup.SyncResult, error)
	ResolveConflict(ctx context.Context, id string, resolution core.ConflictResolution, mergedData map[string]any) (core.BackupSubmission, error)
}

type InitiateAuthCommand struct {
	service AuthMutator
}

func NewInitiateAuthCommand(service AuthMutator) *InitiateAuthCommand {
	return &InitiateAuthCommand{service: service}
}

func (c *InitiateAuthCommand) Execute(ctx context.Context, msg InitiateAuthMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: auth service is required")
	}
	out, err := c.service.InitiateAuthorization(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service AuthMutator
}

func NewCompleteCallbackCommand(service AuthMutator) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.CompleteCallback(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCommand struct {
	service AuthMutator
}

func NewRefreshCommand(service AuthMutator) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.RefreshTokens(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service AuthMutator
}

func NewDisconnectCommand(service AuthMutator) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.UserID)
}

type RotateTokenEncryptionCommand struct {
	service TokenRotator
}

func NewRotateTokenEncryptionCommand(service TokenRotator) *RotateTokenEncryptionCommand {
	return &RotateTokenEncryptionCommand{service: service}
}

func (c *RotateTokenEncryptionCommand) Execute(ctx context.Context, msg RotateTokenEncryptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	out, err := c.service.RotateEncryption(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateBackupCommand struct {
	service BackupMutator
}

func NewCreateBackupCommand(service BackupMutator) *CreateBackupCommand {
	return &CreateBackupCommand{service: service}
}

func (c *CreateBackupCommand) Execute(ctx context.Context, msg CreateBackupMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: backup service is required")
	}
	out, err := c.service.Create(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SyncBackupsCommand struct {
	service BackupMutator
}

func NewSyncBackupsCommand(service BackupMutator) *SyncBackupsCommand {
	return &SyncBackupsCommand{service: service}
}

func (c *SyncBackupsCommand) Execute(ctx context.Context, msg SyncBackupsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: backup service is required")
	}
	var (
		out backup.SyncResult
		err error
	)
	if msg.Force {
		out, err = c.service.ForceSyncAll(ctx, msg.UserID)
	} else {
		out, err = c.service.SyncPending(ctx, msg.UserID)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResolveBackupConflictCommand struct {
	service BackupMutator
}

func NewResolveBackupConflictCommand(service BackupMutator) *ResolveBackupConflictCommand {
	return &ResolveBackupConflictCommand{service: service}
}

func (c *ResolveBackupConflictCommand) Execute(ctx context.Context, msg ResolveBackupConflictMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: backup service is required")
	}
	out, err := c.service.ResolveConflict(ctx, msg.BackupID, msg.Resolution, msg.MergedData)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
