package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-hmrc/core"
)

type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key string) (core.RateLimitState, bool, error) {
	if s == nil || s.db == nil {
		return core.RateLimitState{}, false, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return core.RateLimitState{}, false, fmt.Errorf("sqlstore: rate-limit key is required")
	}

	record := &rateLimitStateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.bucket_key = ?", key).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.RateLimitState{}, false, nil
		}
		return core.RateLimitState{}, false, err
	}
	return core.RateLimitState{
		Key:         record.BucketKey,
		WindowStart: record.WindowStart,
		Count:       record.Count,
		UpdatedAt:   record.UpdatedAt,
	}, true, nil
}

func (s *RateLimitStateStore) Upsert(ctx context.Context, state core.RateLimitState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key := strings.TrimSpace(state.Key)
	if key == "" {
		return fmt.Errorf("sqlstore: rate-limit key is required")
	}
	updatedAt := state.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findRateLimitStateTx(ctx, tx, key)
		if err != nil {
			return err
		}
		created := false
		if record == nil {
			created = true
			record = &rateLimitStateRecord{
				ID:        uuid.NewString(),
				BucketKey: key,
				CreatedAt: updatedAt,
			}
		}
		record.WindowStart = state.WindowStart.UTC()
		record.Count = state.Count
		record.UpdatedAt = updatedAt

		if created {
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
}

func (s *RateLimitStateStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: rate-limit key is required")
	}
	_, err := s.db.NewDelete().
		Model((*rateLimitStateRecord)(nil)).
		Where("bucket_key = ?", key).
		Exec(ctx)
	return err
}

func findRateLimitStateTx(ctx context.Context, tx bun.Tx, key string) (*rateLimitStateRecord, error) {
	record := &rateLimitStateRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.bucket_key = ?", key).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

var _ core.RateLimitStateStore = (*RateLimitStateStore)(nil)
