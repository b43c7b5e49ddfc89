package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-hmrc/core"
)

type BackupStore struct {
	db   *bun.DB
	repo repository.Repository[*backupSubmissionRecord]
}

func NewBackupStore(db *bun.DB) (*BackupStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*backupSubmissionRecord](db, backupHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid backup repository wiring: %w", err)
		}
	}
	return &BackupStore{db: db, repo: repo}, nil
}

func (s *BackupStore) Create(ctx context.Context, submission core.BackupSubmission) (core.BackupSubmission, error) {
	if s == nil || s.repo == nil {
		return core.BackupSubmission{}, fmt.Errorf("sqlstore: backup store is not configured")
	}
	if strings.TrimSpace(submission.ID) == "" {
		return core.BackupSubmission{}, fmt.Errorf("sqlstore: backup submission id is required")
	}
	record := newBackupRecord(submission)
	inserted, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.BackupSubmission{}, err
	}
	return inserted.toDomain(), nil
}

func (s *BackupStore) Get(ctx context.Context, id string) (core.BackupSubmission, error) {
	if s == nil || s.db == nil {
		return core.BackupSubmission{}, fmt.Errorf("sqlstore: backup store is not configured")
	}
	record := &backupSubmissionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BackupSubmission{}, fmt.Errorf("sqlstore: backup submission %s not found", strings.TrimSpace(id))
		}
		return core.BackupSubmission{}, err
	}
	return record.toDomain(), nil
}

func (s *BackupStore) Update(ctx context.Context, submission core.BackupSubmission) (core.BackupSubmission, error) {
	if s == nil || s.db == nil {
		return core.BackupSubmission{}, fmt.Errorf("sqlstore: backup store is not configured")
	}
	if strings.TrimSpace(submission.ID) == "" {
		return core.BackupSubmission{}, fmt.Errorf("sqlstore: backup submission id is required")
	}
	record := newBackupRecord(submission)
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	result, err := s.db.NewUpdate().
		Model(record).
		WherePK().
		Exec(ctx)
	if err != nil {
		return core.BackupSubmission{}, err
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return core.BackupSubmission{}, fmt.Errorf("sqlstore: backup submission %s not found", submission.ID)
	}
	return record.toDomain(), nil
}

func (s *BackupStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: backup store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: backup submission id is required")
	}
	_, err := s.db.NewDelete().
		Model((*backupSubmissionRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (s *BackupStore) List(ctx context.Context, filter core.BackupFilter) ([]core.BackupSubmission, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: backup store is not configured")
	}
	query := s.db.NewSelect().
		Model((*backupSubmissionRecord)(nil)).
		Order("created_at ASC")
	if trimmed := strings.TrimSpace(filter.UserID); trimmed != "" {
		query = query.Where("?TableAlias.user_id = ?", trimmed)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query = query.Where("?TableAlias.status IN (?)", bun.In(statuses))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []backupSubmissionRecord
	if err := query.Scan(ctx, &records); err != nil {
		return nil, err
	}
	out := make([]core.BackupSubmission, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *BackupStore) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: backup store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*backupSubmissionRecord)(nil)).
		Where("status = ?", string(core.BackupStatusSynced)).
		Where("updated_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (s *BackupStore) Stats(ctx context.Context, userID string) (core.BackupStats, error) {
	if s == nil || s.db == nil {
		return core.BackupStats{}, fmt.Errorf("sqlstore: backup store is not configured")
	}
	userID = strings.TrimSpace(userID)

	type statusCount struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	var counts []statusCount
	query := s.db.NewSelect().
		Model((*backupSubmissionRecord)(nil)).
		ColumnExpr("?TableAlias.status AS status").
		ColumnExpr("COUNT(*) AS count").
		GroupExpr("?TableAlias.status")
	if userID != "" {
		query = query.Where("?TableAlias.user_id = ?", userID)
	}
	if err := query.Scan(ctx, &counts); err != nil {
		return core.BackupStats{}, err
	}

	stats := core.BackupStats{ByStatus: map[core.BackupStatus]int{}}
	for _, row := range counts {
		stats.ByStatus[core.BackupStatus(row.Status)] = row.Count
		stats.Total += row.Count
	}

	oldest := s.db.NewSelect().
		Model((*backupSubmissionRecord)(nil)).
		ColumnExpr("MIN(?TableAlias.created_at)").
		Where("?TableAlias.status != ?", string(core.BackupStatusSynced))
	if userID != "" {
		oldest = oldest.Where("?TableAlias.user_id = ?", userID)
	}
	var oldestUnsynced *time.Time
	if err := oldest.Scan(ctx, &oldestUnsynced); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.BackupStats{}, err
	}
	if oldestUnsynced != nil && !oldestUnsynced.IsZero() {
		value := oldestUnsynced.UTC()
		stats.OldestUnsynced = &value
	}
	return stats, nil
}

func newBackupRecord(submission core.BackupSubmission) *backupSubmissionRecord {
	data := copyAnyMap(submission.Data)
	record := &backupSubmissionRecord{
		ID:             strings.TrimSpace(submission.ID),
		UserID:         strings.TrimSpace(submission.UserID),
		SubmissionType: string(submission.SubmissionType),
		TaxYear:        strings.TrimSpace(submission.TaxYear),
		Data:           data,
		Status:         string(submission.Status),
		SyncAttempts:   submission.SyncAttempts,
		ErrorMessage:   submission.ErrorMessage,
		Checksum:       submission.Checksum,
		Priority:       string(submission.Priority),
		HMRCReference:  submission.HMRCReference,
		FormVersion:    submission.Metadata.FormVersion,
		UserAgent:      submission.Metadata.UserAgent,
		Source:         string(submission.Metadata.Source),
		CreatedAt:      submission.CreatedAt.UTC(),
		UpdatedAt:      submission.UpdatedAt.UTC(),
	}
	if submission.LastSyncAttempt != nil {
		value := submission.LastSyncAttempt.UTC()
		record.LastSyncAttempt = &value
	}
	return record
}

func (r *backupSubmissionRecord) toDomain() core.BackupSubmission {
	if r == nil {
		return core.BackupSubmission{}
	}
	submission := core.BackupSubmission{
		ID:             r.ID,
		UserID:         r.UserID,
		SubmissionType: core.SubmissionType(r.SubmissionType),
		TaxYear:        r.TaxYear,
		Data:           copyAnyMap(r.Data),
		Status:         core.BackupStatus(r.Status),
		SyncAttempts:   r.SyncAttempts,
		ErrorMessage:   r.ErrorMessage,
		Checksum:       r.Checksum,
		Priority:       core.BackupPriority(r.Priority),
		HMRCReference:  r.HMRCReference,
		Metadata: core.BackupMetadata{
			FormVersion: r.FormVersion,
			UserAgent:   r.UserAgent,
			Source:      core.BackupSource(r.Source),
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.LastSyncAttempt != nil {
		value := r.LastSyncAttempt.UTC()
		submission.LastSyncAttempt = &value
	}
	return submission
}
