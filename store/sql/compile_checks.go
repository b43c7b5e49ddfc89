package sqlstore

import "github.com/goliatone/go-hmrc/core"

var (
	_ core.TokenStore          = (*TokenStore)(nil)
	_ core.TokenBackupStore    = (*TokenBackupStore)(nil)
	_ core.AuditStore          = (*AuditStore)(nil)
	_ core.SecurityEventStore  = (*SecurityEventStore)(nil)
	_ core.BackupStore         = (*BackupStore)(nil)
	_ core.OutboxStore         = (*OutboxStore)(nil)
	_ core.RateLimitStateStore = (*RateLimitStateStore)(nil)
	_ core.RateLimitStateStore = (*CachedRateLimitStateStore)(nil)
)
