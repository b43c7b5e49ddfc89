package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-hmrc/core"
)

// TokenBackupStore keeps one mirrored row per user with that user's
// active token version. Writes upsert on user_id so the mirror never
// grows beyond one row per user.
type TokenBackupStore struct {
	db *bun.DB
}

func NewTokenBackupStore(db *bun.DB) (*TokenBackupStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &TokenBackupStore{db: db}, nil
}

func (s *TokenBackupStore) Upsert(ctx context.Context, record core.TokenRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token backup store is not configured")
	}
	userID := strings.TrimSpace(record.UserID)
	if userID == "" {
		return fmt.Errorf("sqlstore: user id is required")
	}
	if len(record.EncryptedAccess) == 0 {
		return fmt.Errorf("sqlstore: encrypted access token is required")
	}

	now := time.Now().UTC()
	scopes := append([]string(nil), record.Scopes...)
	if scopes == nil {
		scopes = []string{}
	}
	row := &tokenBackupRecord{
		ID:                uuid.NewString(),
		UserID:            userID,
		Version:           record.Version,
		EncryptedAccess:   record.EncryptedAccess,
		EncryptedRefresh:  record.EncryptedRefresh,
		TokenType:         record.TokenType,
		Scopes:            scopes,
		ExpiresAt:         record.ExpiresAt.UTC(),
		Refreshable:       record.Refreshable,
		EncryptionKeyID:   record.EncryptionKeyID,
		EncryptionVersion: record.EncryptionVersion,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (user_id) DO UPDATE").
		Set("version = EXCLUDED.version").
		Set("encrypted_access = EXCLUDED.encrypted_access").
		Set("encrypted_refresh = EXCLUDED.encrypted_refresh").
		Set("token_type = EXCLUDED.token_type").
		Set("scopes = EXCLUDED.scopes").
		Set("expires_at = EXCLUDED.expires_at").
		Set("refreshable = EXCLUDED.refreshable").
		Set("encryption_key_id = EXCLUDED.encryption_key_id").
		Set("encryption_version = EXCLUDED.encryption_version").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert token backup: %w", err)
	}
	return nil
}

// GetByUser loads the mirrored token for one user.
func (s *TokenBackupStore) GetByUser(ctx context.Context, userID string) (core.TokenRecord, error) {
	if s == nil || s.db == nil {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: token backup store is not configured")
	}
	row := new(tokenBackupRecord)
	err := s.db.NewSelect().
		Model(row).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.TokenRecord{}, core.ErrTokenNotFound
		}
		return core.TokenRecord{}, err
	}
	return core.TokenRecord{
		ID:                row.ID,
		UserID:            row.UserID,
		Version:           row.Version,
		EncryptedAccess:   row.EncryptedAccess,
		EncryptedRefresh:  row.EncryptedRefresh,
		TokenType:         row.TokenType,
		Scopes:            append([]string(nil), row.Scopes...),
		ExpiresAt:         row.ExpiresAt,
		Refreshable:       row.Refreshable,
		Status:            core.TokenStatusActive,
		EncryptionKeyID:   row.EncryptionKeyID,
		EncryptionVersion: row.EncryptionVersion,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}
