package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[InitiateAuthMessage]          = (*InitiateAuthCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage]      = (*CompleteCallbackCommand)(nil)
	_ gocmd.Commander[RefreshMessage]               = (*RefreshCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]            = (*DisconnectCommand)(nil)
	_ gocmd.Commander[RotateTokenEncryptionMessage] = (*RotateTokenEncryptionCommand)(nil)
	_ gocmd.Commander[CreateBackupMessage]          = (*CreateBackupCommand)(nil)
	_ gocmd.Commander[SyncBackupsMessage]           = (*SyncBackupsCommand)(nil)
	_ gocmd.Commander[ResolveBackupConflictMessage] = (*ResolveBackupConflictCommand)(nil)
)
