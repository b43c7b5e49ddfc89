package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-hmrc/core"
)

var (
	_ gocmd.Querier[AuthStatusMessage, AuthStatus]           = (*AuthStatusQuery)(nil)
	_ gocmd.Querier[AuditLogsMessage, []core.AuditEntry]     = (*AuditLogsQuery)(nil)
	_ gocmd.Querier[BackupStatsMessage, core.BackupStats]    = (*BackupStatsQuery)(nil)
	_ gocmd.Querier[SystemHealthMessage, SystemHealthReport] = (*SystemHealthQuery)(nil)
)
