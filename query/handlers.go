package query

import (
	"context"

	"github.com/goliatone/go-hmrc/core"
	"github.com/goliatone/go-hmrc/health"
)

type ConnectionReader interface {
	IsConnected(ctx context.Context, userID string) (bool, error)
}

type AuditReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]core.AuditEntry, error)
}

type BackupStatsReader interface {
	Stats(ctx context.Context, userID string) (core.BackupStats, error)
}

type HealthReader interface {
	SystemHealth() health.SystemStatus
	Snapshot() []health.State
}

type AuthStatus struct {
	UserID    string
	Connected bool
}

type AuthStatusQuery struct {
	reader ConnectionReader
}

func NewAuthStatusQuery(reader ConnectionReader) *AuthStatusQuery {
	return &AuthStatusQuery{reader: reader}
}

func (q *AuthStatusQuery) Query(ctx context.Context, msg AuthStatusMessage) (AuthStatus, error) {
	if q == nil || q.reader == nil {
		return AuthStatus{}, queryDependencyError("query: connection reader is required")
	}
	connected, err := q.reader.IsConnected(ctx, msg.UserID)
	if err != nil {
		return AuthStatus{}, err
	}
	return AuthStatus{UserID: msg.UserID, Connected: connected}, nil
}

type AuditLogsQuery struct {
	reader AuditReader
}

func NewAuditLogsQuery(reader AuditReader) *AuditLogsQuery {
	return &AuditLogsQuery{reader: reader}
}

func (q *AuditLogsQuery) Query(ctx context.Context, msg AuditLogsMessage) ([]core.AuditEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: audit reader is required")
	}
	return q.reader.ListByUser(ctx, msg.UserID, msg.Limit)
}

type BackupStatsQuery struct {
	reader BackupStatsReader
}

func NewBackupStatsQuery(reader BackupStatsReader) *BackupStatsQuery {
	return &BackupStatsQuery{reader: reader}
}

func (q *BackupStatsQuery) Query(ctx context.Context, msg BackupStatsMessage) (core.BackupStats, error) {
	if q == nil || q.reader == nil {
		return core.BackupStats{}, queryDependencyError("query: backup stats reader is required")
	}
	return q.reader.Stats(ctx, msg.UserID)
}

type SystemHealthReport struct {
	Status   health.SystemStatus
	Services []health.State
}

type SystemHealthQuery struct {
	reader HealthReader
}

func NewSystemHealthQuery(reader HealthReader) *SystemHealthQuery {
	return &SystemHealthQuery{reader: reader}
}

func (q *SystemHealthQuery) Query(_ context.Context, _ SystemHealthMessage) (SystemHealthReport, error) {
	if q == nil || q.reader == nil {
		return SystemHealthReport{}, queryDependencyError("query: health reader is required")
	}
	return SystemHealthReport{
		Status:   q.reader.SystemHealth(),
		Services: q.reader.Snapshot(),
	}, nil
}
