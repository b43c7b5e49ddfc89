package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OAuth.ClientID = "client-id"
	cfg.OAuth.ClientSecret = "client-secret"
	cfg.OAuth.RedirectURI = "https://app.example.com/callback"
	cfg.Encryption.MasterKeyHex = strings.Repeat("ab", 32)
	cfg.Retry.RetryDelay = 5 * time.Millisecond
	return cfg
}

type memoryTokenStore struct {
	mu      sync.Mutex
	records map[string][]TokenRecord
	saveErr error
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{records: map[string][]TokenRecord{}}
}

func (s *memoryTokenStore) SaveNewVersion(_ context.Context, input SaveTokenInput) (TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return TokenRecord{}, s.saveErr
	}
	now := time.Now().UTC()
	versions := s.records[input.UserID]
	for i := range versions {
		if versions[i].Status == TokenStatusActive {
			versions[i].Status = TokenStatusSuperseded
		}
	}
	record := TokenRecord{
		ID:                fmt.Sprintf("tok-%d", len(versions)+1),
		UserID:            input.UserID,
		Version:           len(versions) + 1,
		EncryptedAccess:   append([]byte(nil), input.EncryptedAccess...),
		EncryptedRefresh:  append([]byte(nil), input.EncryptedRefresh...),
		TokenType:         input.TokenType,
		Scopes:            append([]string(nil), input.Scopes...),
		ExpiresAt:         input.ExpiresAt,
		Refreshable:       input.Refreshable,
		Status:            TokenStatusActive,
		EncryptionKeyID:   input.EncryptionKeyID,
		EncryptionVersion: input.EncryptionVersion,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.records[input.UserID] = append(versions, record)
	return record, nil
}

func (s *memoryTokenStore) GetActive(_ context.Context, userID string) (TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records[userID] {
		if record.Status == TokenStatusActive {
			return record, nil
		}
	}
	return TokenRecord{}, ErrTokenNotFound
}

func (s *memoryTokenStore) ListVersions(_ context.Context, userID string, limit int) ([]TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := append([]TokenRecord(nil), s.records[userID]...)
	for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
		versions[i], versions[j] = versions[j], versions[i]
	}
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

func (s *memoryTokenStore) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *memoryTokenStore) versionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[userID])
}

type memoryTokenBackupStore struct {
	mu        sync.Mutex
	records   map[string]TokenRecord
	upsertErr error
}

func (s *memoryTokenBackupStore) Upsert(_ context.Context, record TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	if s.records == nil {
		s.records = map[string]TokenRecord{}
	}
	s.records[record.UserID] = record
	return nil
}

// staticSecretProvider prefixes payloads so tests can assert token
// material never reaches the store in the clear.
type staticSecretProvider struct{}

func (staticSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return append([]byte("enc:"), plaintext...), nil
}

func (staticSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if !strings.HasPrefix(string(ciphertext), "enc:") {
		return nil, fmt.Errorf("unexpected ciphertext")
	}
	return []byte(strings.TrimPrefix(string(ciphertext), "enc:")), nil
}

func (staticSecretProvider) KeyID() string { return "test-key" }

func (staticSecretProvider) Version() int { return 1 }

type memoryAuditStore struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (s *memoryAuditStore) Append(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *memoryAuditStore) ListByUser(_ context.Context, userID string, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for _, entry := range s.entries {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryAuditStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.Action)
	}
	return out
}

func (s *memoryAuditStore) hasAction(action string) bool {
	for _, recorded := range s.actions() {
		if recorded == action {
			return true
		}
	}
	return false
}

// scriptedOAuthClient returns queued results per operation.
type scriptedOAuthClient struct {
	mu sync.Mutex

	authURL string

	lastChallenge string
	lastState     string

	exchangeVerifier string
	exchangeSet      TokenSet
	exchangeErr      error

	refreshResults []refreshResult
	refreshCalls   int

	revoked []string
}

type refreshResult struct {
	set TokenSet
	err error
}

func (c *scriptedOAuthClient) AuthCodeURL(_ context.Context, req AuthCodeURLRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChallenge = req.CodeChallenge
	c.lastState = req.State
	if c.authURL != "" {
		return c.authURL, nil
	}
	return "https://auth.example.com/authorize?state=" + req.State, nil
}

func (c *scriptedOAuthClient) Exchange(_ context.Context, code, verifier, _ string) (TokenSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exchangeErr != nil {
		return TokenSet{}, c.exchangeErr
	}
	c.exchangeVerifier = verifier
	if code == "" {
		return TokenSet{}, fmt.Errorf("code is required")
	}
	return c.exchangeSet, nil
}

func (c *scriptedOAuthClient) Refresh(_ context.Context, _ string, _ []string) (TokenSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshCalls >= len(c.refreshResults) {
		return TokenSet{}, fmt.Errorf("unexpected refresh call %d", c.refreshCalls+1)
	}
	result := c.refreshResults[c.refreshCalls]
	c.refreshCalls++
	return result.set, result.err
}

func (c *scriptedOAuthClient) Revoke(_ context.Context, token, hint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked = append(c.revoked, hint+":"+token)
	return nil
}

// zeroBackoff removes waits from retry loops under test.
type zeroBackoff struct{}

func (zeroBackoff) NextDelay(int) time.Duration { return 0 }

func newTestAuthService(t interface{ Fatalf(string, ...any) }, client OAuthClient, store TokenStore, audit AuditStore, extra ...Option) *AuthService {
	options := append([]Option{
		WithOAuthClient(client),
		WithTokenStore(store),
		WithSecretProvider(staticSecretProvider{}),
		WithAuditStore(audit),
		WithRefreshBackoffScheduler(zeroBackoff{}),
	}, extra...)
	service, err := NewAuthService(testConfig(), options...)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return service
}
