package hmrc

import (
	"fmt"

	hmrccommand "github.com/goliatone/go-hmrc/command"
	hmrcquery "github.com/goliatone/go-hmrc/query"
)

// FacadeDependencies wires the services the command and query handlers
// delegate to. Auth is required; the rest degrade to handlers that
// report a missing dependency.
type FacadeDependencies struct {
	Auth interface {
		hmrccommand.AuthMutator
		hmrcquery.ConnectionReader
	}
	Tokens  hmrccommand.TokenRotator
	Backups interface {
		hmrccommand.BackupMutator
		hmrcquery.BackupStatsReader
	}
	Audit  hmrcquery.AuditReader
	Health hmrcquery.HealthReader
}

type Commands struct {
	InitiateAuth          *hmrccommand.InitiateAuthCommand
	CompleteCallback      *hmrccommand.CompleteCallbackCommand
	Refresh               *hmrccommand.RefreshCommand
	Disconnect            *hmrccommand.DisconnectCommand
	RotateTokenEncryption *hmrccommand.RotateTokenEncryptionCommand
	CreateBackup          *hmrccommand.CreateBackupCommand
	SyncBackups           *hmrccommand.SyncBackupsCommand
	ResolveBackupConflict *hmrccommand.ResolveBackupConflictCommand
}

type Queries struct {
	AuthStatus   *hmrcquery.AuthStatusQuery
	AuditLogs    *hmrcquery.AuditLogsQuery
	BackupStats  *hmrcquery.BackupStatsQuery
	SystemHealth *hmrcquery.SystemHealthQuery
}

// Facade groups the full command and query surface behind one
// constructor so callers register handlers from a single place.
type Facade struct {
	deps     FacadeDependencies
	commands Commands
	queries  Queries
}

func NewFacade(deps FacadeDependencies) (*Facade, error) {
	if deps.Auth == nil {
		return nil, fmt.Errorf("hmrc: auth service is required")
	}

	facade := &Facade{deps: deps}
	facade.commands = Commands{
		InitiateAuth:          hmrccommand.NewInitiateAuthCommand(deps.Auth),
		CompleteCallback:      hmrccommand.NewCompleteCallbackCommand(deps.Auth),
		Refresh:               hmrccommand.NewRefreshCommand(deps.Auth),
		Disconnect:            hmrccommand.NewDisconnectCommand(deps.Auth),
		RotateTokenEncryption: hmrccommand.NewRotateTokenEncryptionCommand(deps.Tokens),
		CreateBackup:          hmrccommand.NewCreateBackupCommand(deps.Backups),
		SyncBackups:           hmrccommand.NewSyncBackupsCommand(deps.Backups),
		ResolveBackupConflict: hmrccommand.NewResolveBackupConflictCommand(deps.Backups),
	}
	facade.queries = Queries{
		AuthStatus:   hmrcquery.NewAuthStatusQuery(deps.Auth),
		AuditLogs:    hmrcquery.NewAuditLogsQuery(deps.Audit),
		BackupStats:  hmrcquery.NewBackupStatsQuery(deps.Backups),
		SystemHealth: hmrcquery.NewSystemHealthQuery(deps.Health),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}
