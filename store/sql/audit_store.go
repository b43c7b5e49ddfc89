package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-hmrc/core"
)

type AuditStore struct {
	repo repository.Repository[*auditEntryRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEntryRecord](db, auditHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{repo: repo}, nil
}

func (s *AuditStore) Append(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(entry.UserID) == "" {
		return fmt.Errorf("sqlstore: audit user id is required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("sqlstore: audit action is required")
	}

	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	provider := strings.TrimSpace(entry.Provider)
	if provider == "" {
		provider = core.ProviderID
	}
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	record := &auditEntryRecord{
		ID:        id,
		UserID:    strings.TrimSpace(entry.UserID),
		Provider:  provider,
		Action:    strings.TrimSpace(entry.Action),
		IPAddress: strings.TrimSpace(entry.IPAddress),
		Metadata:  RedactMetadata(entry.Metadata),
		CreatedAt: createdAt,
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *AuditStore) ListByUser(ctx context.Context, userID string, limit int) ([]core.AuditEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		out = append(out, core.AuditEntry{
			ID:        record.ID,
			UserID:    record.UserID,
			Provider:  record.Provider,
			Action:    record.Action,
			IPAddress: record.IPAddress,
			Metadata:  copyAnyMap(record.Metadata),
			CreatedAt: record.CreatedAt,
		})
	}
	return out, nil
}

type SecurityEventStore struct {
	repo repository.Repository[*securityEventRecord]
}

func NewSecurityEventStore(db *bun.DB) (*SecurityEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*securityEventRecord](db, securityEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid security event repository wiring: %w", err)
		}
	}
	return &SecurityEventStore{repo: repo}, nil
}

func (s *SecurityEventStore) Append(ctx context.Context, event core.SecurityEvent) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: security event store is not configured")
	}
	if strings.TrimSpace(event.UserID) == "" {
		return fmt.Errorf("sqlstore: security event user id is required")
	}
	if strings.TrimSpace(event.EventType) == "" {
		return fmt.Errorf("sqlstore: security event type is required")
	}

	id := strings.TrimSpace(event.ID)
	if id == "" {
		id = uuid.NewString()
	}
	severity := strings.TrimSpace(event.Severity)
	if severity == "" {
		severity = string(core.SeverityWarning)
	}
	createdAt := event.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	record := &securityEventRecord{
		ID:        id,
		UserID:    strings.TrimSpace(event.UserID),
		EventType: strings.TrimSpace(event.EventType),
		Severity:  severity,
		Details:   RedactMetadata(event.Details),
		CreatedAt: createdAt,
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *SecurityEventStore) ListByUser(ctx context.Context, userID string, limit int) ([]core.SecurityEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: security event store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.SecurityEvent, 0, len(records))
	for _, record := range records {
		out = append(out, core.SecurityEvent{
			ID:        record.ID,
			UserID:    record.UserID,
			EventType: record.EventType,
			Severity:  record.Severity,
			Details:   copyAnyMap(record.Details),
			CreatedAt: record.CreatedAt,
		})
	}
	return out, nil
}
