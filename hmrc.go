package hmrc

import "github.com/goliatone/go-hmrc/core"

type Config = core.Config

type OAuthConfig = core.OAuthConfig

type Option = core.Option

type AuthService = core.AuthService

type TokenService = core.TokenService
type TokenSet = core.TokenSet
type TokenRecord = core.TokenRecord
type AuthorizationIntent = core.AuthorizationIntent
type CallbackInput = core.CallbackInput
type CallbackResult = core.CallbackResult
type AuditEntry = core.AuditEntry
type SecurityEvent = core.SecurityEvent
type ConflictResolution = core.ConflictResolution

type OAuthClient = core.OAuthClient
type TokenStore = core.TokenStore
type TokenBackupStore = core.TokenBackupStore
type AuditStore = core.AuditStore
type SecurityEventStore = core.SecurityEventStore
type VerifierStore = core.VerifierStore
type SecretProvider = core.SecretProvider
type SubmissionSender = core.SubmissionSender
type OutboxStore = core.OutboxStore
type EventBus = core.EventBus

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithSecretProvider          = core.WithSecretProvider
	WithOAuthClient             = core.WithOAuthClient
	WithTokenStore              = core.WithTokenStore
	WithTokenBackup             = core.WithTokenBackup
	WithAuditStore              = core.WithAuditStore
	WithSecurityEventStore      = core.WithSecurityEventStore
	WithVerifierStore           = core.WithVerifierStore
	WithUserLocker              = core.WithUserLocker
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithAttemptLimiter          = core.WithAttemptLimiter
	WithFailureTracker          = core.WithFailureTracker
	WithEventBus                = core.WithEventBus
	WithOutboxStore             = core.WithOutboxStore
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewAuthService(cfg Config, opts ...Option) (*AuthService, error) {
	return core.NewAuthService(cfg, opts...)
}

func NewTokenService(store TokenStore, secrets SecretProvider, opts ...core.TokenServiceOption) (*TokenService, error) {
	return core.NewTokenService(store, secrets, opts...)
}
