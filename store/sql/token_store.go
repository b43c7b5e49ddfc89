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

type TokenStore struct {
	db   *bun.DB
	repo repository.Repository[*tokenRecord]
}

func NewTokenStore(db *bun.DB) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tokenRecord](db, tokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid token repository wiring: %w", err)
		}
	}
	return &TokenStore{db: db, repo: repo}, nil
}

// SaveNewVersion supersedes the current active token and inserts the next
// version in one transaction, so there is never more than one active row
// per user.
func (s *TokenStore) SaveNewVersion(ctx context.Context, in core.SaveTokenInput) (core.TokenRecord, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: user id is required")
	}
	if len(in.EncryptedAccess) == 0 {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: encrypted access token is required")
	}

	now := time.Now().UTC()
	var created core.TokenRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		nextVersion, versionErr := s.nextVersion(ctx, tx, userID)
		if versionErr != nil {
			return versionErr
		}

		_, updateErr := tx.NewUpdate().
			Model((*tokenRecord)(nil)).
			Set("status = ?", string(core.TokenStatusSuperseded)).
			Set("updated_at = ?", now).
			Where("user_id = ?", userID).
			Where("status = ?", string(core.TokenStatusActive)).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}

		record := newTokenRecord(in, userID, nextVersion, now)
		inserted, createErr := s.repo.CreateTx(ctx, tx, record)
		if createErr != nil {
			return createErr
		}
		created = inserted.toDomain()
		return nil
	})
	if err != nil {
		return core.TokenRecord{}, err
	}
	return created, nil
}

func (s *TokenStore) GetActive(ctx context.Context, userID string) (core.TokenRecord, error) {
	if s == nil || s.repo == nil {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("status", "=", string(core.TokenStatusActive)),
		repository.OrderBy("version DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.TokenRecord{}, err
	}
	if len(records) == 0 {
		return core.TokenRecord{}, core.ErrTokenNotFound
	}
	return records[0].toDomain(), nil
}

func (s *TokenStore) ListVersions(ctx context.Context, userID string, limit int) ([]core.TokenRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: token store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("version DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.TokenRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *TokenStore) DeleteByUser(ctx context.Context, userID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("sqlstore: user id is required")
	}
	_, err := s.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (s *TokenStore) nextVersion(ctx context.Context, tx bun.Tx, userID string) (int, error) {
	var maxVersion int
	if err := tx.NewSelect().
		Model((*tokenRecord)(nil)).
		ColumnExpr("COALESCE(MAX(version), 0)").
		Where("?TableAlias.user_id = ?", userID).
		Scan(ctx, &maxVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 1, nil
		}
		return 0, err
	}
	return maxVersion + 1, nil
}

func newTokenRecord(in core.SaveTokenInput, userID string, version int, now time.Time) *tokenRecord {
	tokenType := strings.TrimSpace(in.TokenType)
	if tokenType == "" {
		tokenType = "Bearer"
	}
	scopes := append([]string(nil), in.Scopes...)
	if scopes == nil {
		scopes = []string{}
	}
	return &tokenRecord{
		ID:                uuid.NewString(),
		UserID:            userID,
		Version:           version,
		EncryptedAccess:   in.EncryptedAccess,
		EncryptedRefresh:  in.EncryptedRefresh,
		TokenType:         tokenType,
		Scopes:            scopes,
		ExpiresAt:         in.ExpiresAt.UTC(),
		Refreshable:       in.Refreshable,
		Status:            string(core.TokenStatusActive),
		EncryptionKeyID:   strings.TrimSpace(in.EncryptionKeyID),
		EncryptionVersion: in.EncryptionVersion,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *tokenRecord) toDomain() core.TokenRecord {
	if r == nil {
		return core.TokenRecord{}
	}
	return core.TokenRecord{
		ID:                r.ID,
		UserID:            r.UserID,
		Version:           r.Version,
		EncryptedAccess:   r.EncryptedAccess,
		EncryptedRefresh:  r.EncryptedRefresh,
		TokenType:         r.TokenType,
		Scopes:            append([]string(nil), r.Scopes...),
		ExpiresAt:         r.ExpiresAt,
		Refreshable:       r.Refreshable,
		Status:            core.TokenStatus(r.Status),
		EncryptionKeyID:   r.EncryptionKeyID,
		EncryptionVersion: r.EncryptionVersion,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}
