package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultVerifierTTL        = 10 * time.Minute
	defaultVerifierStoreLimit = 10000
)

type verifierEntry struct {
	verifier  string
	expiresAt time.Time
}

// MemoryVerifierStore keeps PKCE verifiers in process memory. Entries are
// single-use and pruned on save once the cap is reached.
type MemoryVerifierStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]verifierEntry
}

func NewMemoryVerifierStore(ttl time.Duration) *MemoryVerifierStore {
	return NewMemoryVerifierStoreWithLimits(ttl, defaultVerifierStoreLimit)
}

func NewMemoryVerifierStoreWithLimits(ttl time.Duration, max int) *MemoryVerifierStore {
	if ttl <= 0 {
		ttl = defaultVerifierTTL
	}
	if max <= 0 {
		max = defaultVerifierStoreLimit
	}
	return &MemoryVerifierStore{
		ttl:     ttl,
		max:     max,
		entries: map[string]verifierEntry{},
	}
}

func (s *MemoryVerifierStore) Save(_ context.Context, state, verifier string, expiresAt time.Time) error {
	if s == nil {
		return fmt.Errorf("core: verifier store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return fmt.Errorf("core: oauth state is required")
	}
	if strings.TrimSpace(verifier) == "" {
		return fmt.Errorf("core: code verifier is required")
	}

	now := time.Now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.entries[state] = verifierEntry{verifier: verifier, expiresAt: expiresAt}
	return nil
}

func (s *MemoryVerifierStore) Consume(_ context.Context, state string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("core: verifier store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return "", fmt.Errorf("core: oauth state is required")
	}

	s.mu.Lock()
	entry, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return "", ErrVerifierNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().UTC().After(entry.expiresAt) {
		return "", ErrVerifierExpired
	}
	return entry.verifier, nil
}

func (s *MemoryVerifierStore) pruneLocked(now time.Time) {
	for state, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.entries, state)
		}
	}
	if len(s.entries) < s.max {
		return
	}
	// Still full after expiry pruning, shed arbitrary entries to stay
	// under the cap.
	for state := range s.entries {
		if len(s.entries) < s.max {
			return
		}
		delete(s.entries, state)
	}
}

var _ VerifierStore = (*MemoryVerifierStore)(nil)

// GenerateCodeVerifier returns a high-entropy PKCE verifier.
func GenerateCodeVerifier() (string, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// CodeChallengeS256 derives the S256 challenge for a verifier.
func CodeChallengeS256(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

type statePayload struct {
	UserID    string `json:"user_id"`
	Random    string `json:"random"`
	Timestamp int64  `json:"ts"`
}

// EncodeState packs the user id with random padding and a timestamp into
// the opaque state parameter.
func EncodeState(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("core: user id is required")
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	payload := statePayload{
		UserID:    userID,
		Random:    base64.RawURLEncoding.EncodeToString(raw),
		Timestamp: time.Now().UTC().UnixMilli(),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("core: encode oauth state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// DecodeState recovers the user id and issue time from a state value.
func DecodeState(state string) (userID string, issuedAt time.Time, err error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return "", time.Time{}, fmt.Errorf("core: oauth state is required")
	}
	decoded, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("core: oauth state is not valid base64: %w", err)
	}
	var payload statePayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("core: oauth state payload is invalid: %w", err)
	}
	if strings.TrimSpace(payload.UserID) == "" {
		return "", time.Time{}, fmt.Errorf("core: oauth state user id is required")
	}
	return payload.UserID, time.UnixMilli(payload.Timestamp).UTC(), nil
}

// HashValue returns the hex sha256 digest of a value.
func HashValue(value string) string {
	digest := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", digest[:])
}

// RandomToken returns n random bytes encoded with standard base64.
func RandomToken(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate random token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
