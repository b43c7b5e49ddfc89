package core

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config drives the integration layer. Values are resolved through
// ConfigProvider implementations; DefaultConfig supplies the baseline.
type Config struct {
	ServiceName string          `koanf:"service_name" json:"service_name"`
	OAuth       OAuthConfig     `koanf:"oauth" json:"oauth"`
	Encryption  EncryptionConfig `koanf:"encryption" json:"encryption"`
	Refresh     RefreshConfig   `koanf:"refresh" json:"refresh"`
	Retry       RetryConfig     `koanf:"retry" json:"retry"`
	RateLimit   RateLimitConfig `koanf:"rate_limit" json:"rate_limit"`
	Backup      BackupConfig    `koanf:"backup" json:"backup"`
	Health      HealthConfig    `koanf:"health" json:"health"`
	Outbox      OutboxConfig    `koanf:"outbox" json:"outbox"`
}

type OAuthConfig struct {
	ClientID     string        `koanf:"client_id" json:"client_id"`
	ClientSecret string        `koanf:"client_secret" json:"client_secret"`
	AuthURL      string        `koanf:"auth_url" json:"auth_url"`
	TokenURL     string        `koanf:"token_url" json:"token_url"`
	RevokeURL    string        `koanf:"revoke_url" json:"revoke_url"`
	RedirectURI  string        `koanf:"redirect_uri" json:"redirect_uri"`
	Scopes       []string      `koanf:"scopes" json:"scopes"`
	StateTTL     time.Duration `koanf:"state_ttl" json:"state_ttl"`
	// ExpiryBuffer is subtracted from the token expiry when deciding
	// whether a stored token still counts as valid.
	ExpiryBuffer time.Duration `koanf:"expiry_buffer" json:"expiry_buffer"`
}

type EncryptionConfig struct {
	// MasterKeyHex must decode to exactly 32 bytes.
	MasterKeyHex string `koanf:"master_key_hex" json:"master_key_hex"`
	KeyID        string `koanf:"key_id" json:"key_id"`
}

type RefreshConfig struct {
	// MaxAttempts counts retries after the initial refresh call.
	MaxAttempts    int           `koanf:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" json:"max_backoff"`
	LockTTL        time.Duration `koanf:"lock_ttl" json:"lock_ttl"`
}

type RetryConfig struct {
	// MaxRetries bounds authenticated-call retries after a token reset.
	MaxRetries int           `koanf:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay" json:"retry_delay"`
}

type RateLimitConfig struct {
	AttemptsPerMinute int           `koanf:"attempts_per_minute" json:"attempts_per_minute"`
	FailureWindow     time.Duration `koanf:"failure_window" json:"failure_window"`
	FailureThreshold  int           `koanf:"failure_threshold" json:"failure_threshold"`
}

type BackupConfig struct {
	SyncInterval    time.Duration `koanf:"sync_interval" json:"sync_interval"`
	MaxSyncAttempts int           `koanf:"max_sync_attempts" json:"max_sync_attempts"`
	BatchSize       int           `koanf:"batch_size" json:"batch_size"`
	BatchDelay      time.Duration `koanf:"batch_delay" json:"batch_delay"`
	RetentionDays   int           `koanf:"retention_days" json:"retention_days"`
}

type HealthConfig struct {
	CheckInterval   time.Duration `koanf:"check_interval" json:"check_interval"`
	MaxRetries      int           `koanf:"max_retries" json:"max_retries"`
	RetryInterval   time.Duration `koanf:"retry_interval" json:"retry_interval"`
	FallbackTimeout time.Duration `koanf:"fallback_timeout" json:"fallback_timeout"`
}

type OutboxConfig struct {
	DispatchBatch  int           `koanf:"dispatch_batch" json:"dispatch_batch"`
	InitialBackoff time.Duration `koanf:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" json:"max_backoff"`
	MaxAttempts    int           `koanf:"max_attempts" json:"max_attempts"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "hmrc",
		OAuth: OAuthConfig{
			AuthURL:      "https://test-www.tax.service.gov.uk/oauth/authorize",
			TokenURL:     "https://test-api.service.hmrc.gov.uk/oauth/token",
			RevokeURL:    "https://test-api.service.hmrc.gov.uk/oauth/revoke",
			Scopes:       []string{"read:self-assessment", "write:self-assessment"},
			StateTTL:     10 * time.Minute,
			ExpiryBuffer: 5 * time.Minute,
		},
		Encryption: EncryptionConfig{
			KeyID: "primary",
		},
		Refresh: RefreshConfig{
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     16 * time.Second,
			LockTTL:        30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			RetryDelay: time.Second,
		},
		RateLimit: RateLimitConfig{
			AttemptsPerMinute: 5,
			FailureWindow:     10 * time.Minute,
			FailureThreshold:  10,
		},
		Backup: BackupConfig{
			SyncInterval:    5 * time.Minute,
			MaxSyncAttempts: 5,
			BatchSize:       3,
			BatchDelay:      2 * time.Second,
			RetentionDays:   30,
		},
		Health: HealthConfig{
			CheckInterval:   30 * time.Second,
			MaxRetries:      3,
			RetryInterval:   5 * time.Second,
			FallbackTimeout: 10 * time.Second,
		},
		Outbox: OutboxConfig{
			DispatchBatch:  25,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     5 * time.Minute,
			MaxAttempts:    5,
		},
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("core: config is required")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service name is required")
	}
	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		return fmt.Errorf("core: oauth client id is required")
	}
	if strings.TrimSpace(c.OAuth.ClientSecret) == "" {
		return fmt.Errorf("core: oauth client secret is required")
	}
	for _, endpoint := range []struct {
		name  string
		value string
	}{
		{"auth_url", c.OAuth.AuthURL},
		{"token_url", c.OAuth.TokenURL},
		{"revoke_url", c.OAuth.RevokeURL},
		{"redirect_uri", c.OAuth.RedirectURI},
	} {
		if strings.TrimSpace(endpoint.value) == "" {
			return fmt.Errorf("core: oauth %s is required", endpoint.name)
		}
		if _, err := url.ParseRequestURI(strings.TrimSpace(endpoint.value)); err != nil {
			return fmt.Errorf("core: oauth %s is not a valid url: %w", endpoint.name, err)
		}
	}
	if err := validateMasterKey(c.Encryption.MasterKeyHex); err != nil {
		return err
	}
	if c.Refresh.MaxAttempts <= 0 {
		return fmt.Errorf("core: refresh max attempts must be positive")
	}
	if c.Refresh.InitialBackoff <= 0 || c.Refresh.MaxBackoff < c.Refresh.InitialBackoff {
		return fmt.Errorf("core: refresh backoff bounds are invalid")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("core: retry max retries must not be negative")
	}
	if c.RateLimit.AttemptsPerMinute <= 0 {
		return fmt.Errorf("core: rate limit attempts per minute must be positive")
	}
	if c.RateLimit.FailureWindow <= 0 || c.RateLimit.FailureThreshold <= 0 {
		return fmt.Errorf("core: failure window settings are invalid")
	}
	if c.Backup.BatchSize <= 0 || c.Backup.MaxSyncAttempts <= 0 {
		return fmt.Errorf("core: backup sync settings are invalid")
	}
	if c.Health.CheckInterval <= 0 || c.Health.MaxRetries <= 0 {
		return fmt.Errorf("core: health settings are invalid")
	}
	return nil
}

func validateMasterKey(keyHex string) error {
	trimmed := strings.TrimSpace(keyHex)
	if trimmed == "" {
		return fmt.Errorf("core: encryption master key is required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return fmt.Errorf("core: encryption master key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("core: encryption master key must decode to 32 bytes, got %d", len(raw))
	}
	return nil
}
