package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenService persists token material through the secret provider and
// records the audit trail. Token payloads are encrypted before they reach
// the store and decrypted on the way out.
type TokenService struct {
	store   TokenStore
	secrets SecretProvider
	audit   AuditStore
	backup  TokenBackupStore
	obs     *observer
	config  Config
	nowFn   func() time.Time
}

func NewTokenService(store TokenStore, secrets SecretProvider, options ...TokenServiceOption) (*TokenService, error) {
	if store == nil {
		return nil, fmt.Errorf("core: token store is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("core: secret provider is required")
	}
	service := &TokenService{
		store:   store,
		secrets: secrets,
		config:  DefaultConfig(),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.obs == nil {
		service.obs = newObserver(nil, NopMetricsRecorder{})
	}
	return service, nil
}

type TokenServiceOption func(*TokenService)

func WithTokenAuditStore(store AuditStore) TokenServiceOption {
	return func(s *TokenService) { s.audit = store }
}

func WithTokenBackupStore(store TokenBackupStore) TokenServiceOption {
	return func(s *TokenService) { s.backup = store }
}

func WithTokenObservability(logger Logger, recorder MetricsRecorder) TokenServiceOption {
	return func(s *TokenService) { s.obs = newObserver(logger, recorder) }
}

func WithTokenConfig(config Config) TokenServiceOption {
	return func(s *TokenService) { s.config = config }
}

// StoreTokens encrypts and persists a new token version for the user.
func (s *TokenService) StoreTokens(ctx context.Context, userID string, set TokenSet) (TokenRecord, error) {
	startedAt := time.Now()
	record, err := s.storeTokens(ctx, userID, set)
	s.obs.observeOperation(ctx, startedAt, "token_store", err, map[string]any{
		"user_id": strings.TrimSpace(userID),
	})
	return record, err
}

func (s *TokenService) storeTokens(ctx context.Context, userID string, set TokenSet) (TokenRecord, error) {
	if s == nil {
		return TokenRecord{}, fmt.Errorf("core: token service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TokenRecord{}, mapServiceError(fmt.Errorf("core: user id is required"))
	}
	if err := set.Validate(); err != nil {
		return TokenRecord{}, mapServiceError(err)
	}

	encryptedAccess, err := s.secrets.Encrypt(ctx, []byte(set.AccessToken))
	if err != nil {
		return TokenRecord{}, mapServiceError(fmt.Errorf("core: encrypt access token: %w", err))
	}
	var encryptedRefresh []byte
	if set.Refreshable() {
		encryptedRefresh, err = s.secrets.Encrypt(ctx, []byte(set.RefreshToken))
		if err != nil {
			return TokenRecord{}, mapServiceError(fmt.Errorf("core: encrypt refresh token: %w", err))
		}
	}

	expiresAt := set.ExpiresAt
	if expiresAt.IsZero() && set.ExpiresIn > 0 {
		expiresAt = s.nowFn().Add(time.Duration(set.ExpiresIn) * time.Second)
	}

	record, err := s.store.SaveNewVersion(ctx, SaveTokenInput{
		UserID:            userID,
		EncryptedAccess:   encryptedAccess,
		EncryptedRefresh:  encryptedRefresh,
		TokenType:         normalizeTokenType(set.TokenType),
		Scopes:            cloneStrings(set.Scopes),
		ExpiresAt:         expiresAt,
		Refreshable:       set.Refreshable(),
		EncryptionKeyID:   s.secrets.KeyID(),
		EncryptionVersion: s.secrets.Version(),
	})
	if err != nil {
		return TokenRecord{}, mapServiceError(err)
	}

	s.mirrorToBackup(ctx, record)
	s.appendAudit(ctx, userID, AuditActionTokenStored, map[string]any{
		"version":     record.Version,
		"refreshable": record.Refreshable,
		"expires_at":  record.ExpiresAt,
	})
	return record, nil
}

// mirrorToBackup is best-effort; failures are logged and swallowed so
// the primary save still succeeds during a backup outage.
func (s *TokenService) mirrorToBackup(ctx context.Context, record TokenRecord) {
	if s.backup == nil {
		return
	}
	if err := s.backup.Upsert(ctx, record); err != nil {
		s.obs.logError(ctx, "token backup write failed", map[string]any{
			"user_id": record.UserID,
			"version": record.Version,
			"error":   err.Error(),
		})
	}
}

// GetTokens loads and decrypts the active token version.
func (s *TokenService) GetTokens(ctx context.Context, userID string) (TokenSet, TokenRecord, error) {
	if s == nil {
		return TokenSet{}, TokenRecord{}, fmt.Errorf("core: token service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TokenSet{}, TokenRecord{}, mapServiceError(fmt.Errorf("core: user id is required"))
	}

	record, err := s.store.GetActive(ctx, userID)
	if err != nil {
		return TokenSet{}, TokenRecord{}, mapServiceError(err)
	}

	access, err := s.secrets.Decrypt(ctx, record.EncryptedAccess)
	if err != nil {
		return TokenSet{}, TokenRecord{}, mapServiceError(fmt.Errorf("core: decrypt access token: %w", err))
	}
	var refresh []byte
	if len(record.EncryptedRefresh) > 0 {
		refresh, err = s.secrets.Decrypt(ctx, record.EncryptedRefresh)
		if err != nil {
			return TokenSet{}, TokenRecord{}, mapServiceError(fmt.Errorf("core: decrypt refresh token: %w", err))
		}
	}

	set := TokenSet{
		AccessToken:  string(access),
		RefreshToken: string(refresh),
		TokenType:    record.TokenType,
		Scopes:       cloneStrings(record.Scopes),
		ExpiresAt:    record.ExpiresAt,
	}
	return set, record, nil
}

// HasValidTokens reports whether the user holds a token that is either
// unexpired past the buffer or refreshable.
func (s *TokenService) HasValidTokens(ctx context.Context, userID string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: token service is not configured")
	}
	record, err := s.store.GetActive(ctx, strings.TrimSpace(userID))
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, mapServiceError(err)
	}
	if !s.tokenExpired(record) {
		return true, nil
	}
	return record.Refreshable, nil
}

// ClearTokens removes all token versions for the user.
func (s *TokenService) ClearTokens(ctx context.Context, userID string) error {
	startedAt := time.Now()
	err := s.clearTokens(ctx, userID)
	s.obs.observeOperation(ctx, startedAt, "token_clear", err, map[string]any{
		"user_id": strings.TrimSpace(userID),
	})
	return err
}

func (s *TokenService) clearTokens(ctx context.Context, userID string) error {
	if s == nil {
		return fmt.Errorf("core: token service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return mapServiceError(fmt.Errorf("core: user id is required"))
	}
	if err := s.store.DeleteByUser(ctx, userID); err != nil {
		return mapServiceError(err)
	}
	s.appendAudit(ctx, userID, AuditActionTokensCleared, nil)
	return nil
}

// ListHistory returns recent token versions, newest first.
func (s *TokenService) ListHistory(ctx context.Context, userID string, limit int) ([]TokenRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("core: token service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, mapServiceError(fmt.Errorf("core: user id is required"))
	}
	records, err := s.store.ListVersions(ctx, userID, limit)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return records, nil
}

// RotateEncryption re-encrypts the active token version with the current
// secret provider. Used after a master key or key id change.
func (s *TokenService) RotateEncryption(ctx context.Context, userID string) (TokenRecord, error) {
	startedAt := time.Now()
	record, err := s.rotateEncryption(ctx, userID)
	s.obs.observeOperation(ctx, startedAt, "token_rotate_encryption", err, map[string]any{
		"user_id": strings.TrimSpace(userID),
	})
	return record, err
}

func (s *TokenService) rotateEncryption(ctx context.Context, userID string) (TokenRecord, error) {
	set, current, err := s.GetTokens(ctx, userID)
	if err != nil {
		return TokenRecord{}, err
	}
	set.ExpiresAt = current.ExpiresAt
	record, err := s.storeTokens(ctx, userID, set)
	if err != nil {
		return TokenRecord{}, err
	}
	s.appendAudit(ctx, strings.TrimSpace(userID), AuditActionRotation, map[string]any{
		"from_version": current.Version,
		"to_version":   record.Version,
		"key_id":       record.EncryptionKeyID,
	})
	return record, nil
}

// tokenExpired applies the configured expiry buffer.
func (s *TokenService) tokenExpired(record TokenRecord) bool {
	if record.ExpiresAt.IsZero() {
		return false
	}
	buffer := s.config.OAuth.ExpiryBuffer
	if buffer <= 0 {
		buffer = 5 * time.Minute
	}
	// Expiring exactly at the buffer edge counts as expired.
	return !record.ExpiresAt.After(s.nowFn().Add(buffer))
}

// appendAudit is best-effort; failures are logged and swallowed.
func (s *TokenService) appendAudit(ctx context.Context, userID, action string, metadata map[string]any) {
	if s == nil || s.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  ProviderID,
		Action:    action,
		Metadata:  copyAnyMap(metadata),
		CreatedAt: s.nowFn(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.obs.logError(ctx, "audit append failed", map[string]any{
			"user_id": userID,
			"action":  action,
			"error":   err.Error(),
		})
	}
}

func normalizeTokenType(tokenType string) string {
	tokenType = strings.TrimSpace(tokenType)
	if tokenType == "" {
		return "Bearer"
	}
	return tokenType
}

func mapServiceError(err error) error {
	if err == nil {
		return nil
	}
	if mapped := serviceErrorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found")
}
