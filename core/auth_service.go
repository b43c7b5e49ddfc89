package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// AuthService owns the OAuth authorization code flow with PKCE, token
// refresh with backoff, and retry of authenticated calls after token
// resets.
type AuthService struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	errorMapper      ErrorMapper
	obs              *observer
	tokens           *TokenService
	client           OAuthClient
	verifiers        VerifierStore
	locker           UserLocker
	refreshScheduler RefreshBackoffScheduler
	attemptLimiter   AttemptLimiter
	failureTracker   FailureTracker
	audit            AuditStore
	bus              EventBus
	outbox           OutboxStore
	nowFn            func() time.Time
}

func NewAuthService(cfg Config, options ...Option) (*AuthService, error) {
	builder := defaultServiceBuilder(cfg)
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&builder)
	}

	provider, logger := glog.Resolve("hmrc", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("hmrc"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.oauthClient == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: oauth client is required"))
	}
	if builder.tokenStore == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: token store is required"))
	}
	if builder.secretProvider == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: secret provider is required"))
	}
	if builder.verifierStore == nil {
		builder.verifierStore = NewMemoryVerifierStore(finalConfig.OAuth.StateTTL)
	}
	if builder.userLocker == nil {
		builder.userLocker = NewMemoryUserLocker()
	}
	if builder.refreshScheduler == nil {
		builder.refreshScheduler = ExponentialBackoffScheduler{
			Initial: finalConfig.Refresh.InitialBackoff,
			Max:     finalConfig.Refresh.MaxBackoff,
		}
	}
	if builder.failureTracker == nil {
		builder.failureTracker = NewSlidingWindowFailureTracker(
			finalConfig.RateLimit.FailureWindow,
			finalConfig.RateLimit.FailureThreshold,
			WithFailureEventStore(builder.securityEvents),
			WithFailureEventBus(builder.eventBus),
		)
	}

	obs := newObserver(logger, builder.metricsRecorder)

	tokens, err := NewTokenService(builder.tokenStore, builder.secretProvider,
		WithTokenAuditStore(builder.auditStore),
		WithTokenBackupStore(builder.tokenBackup),
		WithTokenObservability(logger, builder.metricsRecorder),
		WithTokenConfig(finalConfig),
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &AuthService{
		config:           finalConfig,
		logger:           logger,
		loggerProvider:   provider,
		errorMapper:      builder.errorMapper,
		obs:              obs,
		tokens:           tokens,
		client:           builder.oauthClient,
		verifiers:        builder.verifierStore,
		locker:           builder.userLocker,
		refreshScheduler: builder.refreshScheduler,
		attemptLimiter:   builder.attemptLimiter,
		failureTracker:   builder.failureTracker,
		audit:            builder.auditStore,
		bus:              builder.eventBus,
		outbox:           builder.outboxStore,
		nowFn:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper != nil {
		if mapped := mapper(err); mapped != nil {
			return mapped
		}
	}
	return err
}

// Config returns the resolved service configuration.
func (s *AuthService) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// Tokens exposes the underlying token service.
func (s *AuthService) Tokens() *TokenService {
	if s == nil {
		return nil
	}
	return s.tokens
}

// AuthorizationIntent is the result of starting the authorization flow.
type AuthorizationIntent struct {
	URL       string
	State     string
	ExpiresAt time.Time
}

// InitiateAuthorization builds the provider authorization URL with a
// fresh PKCE pair and stores the verifier against the state.
func (s *AuthService) InitiateAuthorization(ctx context.Context, userID string) (AuthorizationIntent, error) {
	startedAt := time.Now()
	intent, err := s.initiateAuthorization(ctx, userID)
	s.obs.observeOperation(ctx, startedAt, "auth_initiate", err, map[string]any{
		"user_id": strings.TrimSpace(userID),
	})
	return intent, err
}

func (s *AuthService) initiateAuthorization(ctx context.Context, userID string) (AuthorizationIntent, error) {
	if s == nil {
		return AuthorizationIntent{}, fmt.Errorf("core: auth service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AuthorizationIntent{}, s.mapError(fmt.Errorf("core: user id is required"))
	}

	if allowed := s.allowAttempt(ctx, userID); !allowed {
		return AuthorizationIntent{}, s.mapError(ErrAuthAttemptsRateLimited)
	}

	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return AuthorizationIntent{}, s.mapError(err)
	}
	state, err := EncodeState(userID)
	if err != nil {
		return AuthorizationIntent{}, s.mapError(err)
	}

	expiresAt := s.nowFn().Add(s.stateTTL())
	if err := s.verifiers.Save(ctx, state, verifier, expiresAt); err != nil {
		return AuthorizationIntent{}, s.mapError(err)
	}

	authURL, err := s.client.AuthCodeURL(ctx, AuthCodeURLRequest{
		State:         state,
		CodeChallenge: CodeChallengeS256(verifier),
		RedirectURI:   s.config.OAuth.RedirectURI,
		Scopes:        cloneStrings(s.config.OAuth.Scopes),
	})
	if err != nil {
		return AuthorizationIntent{}, s.mapError(err)
	}

	s.appendAudit(ctx, userID, AuditActionAuthInitiated, map[string]any{
		"state_hash": HashValue(state),
	})
	return AuthorizationIntent{URL: authURL, State: state, ExpiresAt: expiresAt}, nil
}

// CallbackInput carries the provider redirect parameters.
type CallbackInput struct {
	Code       string
	State      string
	ErrorParam string
	ErrorDesc  string
	IPAddress  string
}

// CallbackResult identifies the user and the stored token version.
type CallbackResult struct {
	UserID string
	Record TokenRecord
}

// CompleteCallback consumes the PKCE verifier, exchanges the code, and
// stores the resulting tokens.
func (s *AuthService) CompleteCallback(ctx context.Context, input CallbackInput) (CallbackResult, error) {
	startedAt := time.Now()
	result, err := s.completeCallback(ctx, input)
	s.obs.observeOperation(ctx, startedAt, "auth_callback", err, map[string]any{
		"user_id": result.UserID,
	})
	return result, err
}

func (s *AuthService) completeCallback(ctx context.Context, input CallbackInput) (CallbackResult, error) {
	if s == nil {
		return CallbackResult{}, fmt.Errorf("core: auth service is not configured")
	}

	userID, issuedAt, stateErr := DecodeState(input.State)

	if errParam := strings.TrimSpace(input.ErrorParam); errParam != "" {
		classified := ClassifyOAuthError(fmt.Errorf("core: authorization denied: %s %s", errParam, input.ErrorDesc), errParam, 0)
		s.recordAuthFailure(ctx, userID, string(classified.Type))
		s.appendAudit(ctx, userID, AuditActionCallbackError, map[string]any{
			"error_type": string(classified.Type),
			"ip_address": strings.TrimSpace(input.IPAddress),
		})
		return CallbackResult{UserID: userID}, s.mapError(fmt.Errorf("core: oauth callback error: %s", errParam))
	}

	if stateErr != nil {
		return CallbackResult{}, s.mapError(fmt.Errorf("core: oauth callback state invalid: %w", stateErr))
	}
	if ttl := s.stateTTL(); !issuedAt.IsZero() && s.nowFn().Sub(issuedAt) > ttl {
		s.recordAuthFailure(ctx, userID, "state_expired")
		return CallbackResult{UserID: userID}, s.mapError(fmt.Errorf("core: oauth callback state expired"))
	}
	if strings.TrimSpace(input.Code) == "" {
		return CallbackResult{UserID: userID}, s.mapError(fmt.Errorf("core: authorization code is required"))
	}

	verifier, err := s.verifiers.Consume(ctx, input.State)
	if err != nil {
		s.recordAuthFailure(ctx, userID, "verifier_missing")
		return CallbackResult{UserID: userID}, s.mapError(err)
	}

	set, err := s.client.Exchange(ctx, strings.TrimSpace(input.Code), verifier, s.config.OAuth.RedirectURI)
	if err != nil {
		s.recordAuthFailure(ctx, userID, "exchange_failed")
		s.appendAudit(ctx, userID, AuditActionCallbackError, map[string]any{
			"stage":      "exchange",
			"ip_address": strings.TrimSpace(input.IPAddress),
		})
		return CallbackResult{UserID: userID}, s.mapError(err)
	}

	s.appendAudit(ctx, userID, AuditActionTokenReceived, map[string]any{
		"refreshable": set.Refreshable(),
		"ip_address":  strings.TrimSpace(input.IPAddress),
	})

	record, err := s.tokens.StoreTokens(ctx, userID, set)
	if err != nil {
		return CallbackResult{UserID: userID}, err
	}

	s.publishEvent(ctx, Event{
		Name:   EventTokenRefreshed,
		UserID: userID,
		Source: "auth_callback",
		Payload: map[string]any{
			"version": record.Version,
		},
	})
	return CallbackResult{UserID: userID, Record: record}, nil
}

// GetValidToken returns a usable access token, refreshing first when the
// stored token is inside the expiry buffer.
func (s *AuthService) GetValidToken(ctx context.Context, userID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("core: auth service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", s.mapError(fmt.Errorf("core: user id is required"))
	}

	set, record, err := s.tokens.GetTokens(ctx, userID)
	if err != nil {
		return "", err
	}
	if !s.tokens.tokenExpired(record) {
		return set.AccessToken, nil
	}
	if !record.Refreshable {
		if clearErr := s.tokens.ClearTokens(ctx, userID); clearErr != nil {
			s.obs.logError(ctx, "token clear after expiry failed", map[string]any{
				"user_id": userID,
				"error":   clearErr.Error(),
			})
		}
		return "", s.mapError(ErrReauthorizationRequired)
	}

	refreshed, err := s.RefreshTokens(ctx, userID)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// RefreshTokens exchanges the refresh token for a new token set, holding
// the per-user lock and retrying transient failures with backoff.
func (s *AuthService) RefreshTokens(ctx context.Context, userID string) (TokenSet, error) {
	startedAt := time.Now()
	set, err := s.refreshTokens(ctx, userID)
	s.obs.observeOperation(ctx, startedAt, "token_refresh", err, map[string]any{
		"user_id": strings.TrimSpace(userID),
	})
	return set, err
}

func (s *AuthService) refreshTokens(ctx context.Context, userID string) (TokenSet, error) {
	if s == nil {
		return TokenSet{}, fmt.Errorf("core: auth service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TokenSet{}, s.mapError(fmt.Errorf("core: user id is required"))
	}

	unlock := func() {}
	if s.locker != nil {
		handle, lockErr := s.locker.Acquire(ctx, userID, s.config.Refresh.LockTTL)
		if lockErr != nil {
			return TokenSet{}, s.mapError(lockErr)
		}
		unlock = func() {
			_ = handle.Unlock(ctx)
		}
	}
	defer unlock()

	current, _, err := s.tokens.GetTokens(ctx, userID)
	if err != nil {
		return TokenSet{}, err
	}
	if !current.Refreshable() {
		return TokenSet{}, s.mapError(ErrReauthorizationRequired)
	}

	maxRetries := s.config.Refresh.MaxAttempts
	if maxRetries < 1 {
		maxRetries = defaultRefreshMaxAttempts
	}
	// MaxAttempts counts retries after the initial call.
	totalAttempts := maxRetries + 1

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= totalAttempts; attempt++ {
		attempts = attempt
		refreshed, refreshErr := s.client.Refresh(ctx, current.RefreshToken, cloneStrings(s.config.OAuth.Scopes))
		if refreshErr == nil {
			if !refreshed.Refreshable() {
				// Providers may omit the refresh token on rotation,
				// keep the previous one.
				refreshed.RefreshToken = current.RefreshToken
			}
			record, storeErr := s.tokens.StoreTokens(ctx, userID, refreshed)
			if storeErr != nil {
				return TokenSet{}, storeErr
			}
			s.appendAudit(ctx, userID, AuditActionTokenRefreshed, map[string]any{
				"attempt": attempt,
				"version": record.Version,
			})
			s.publishEvent(ctx, Event{
				Name:   EventTokenRefreshed,
				UserID: userID,
				Source: "token_refresh",
				Payload: map[string]any{
					"attempt": attempt,
					"version": record.Version,
				},
			})
			return refreshed, nil
		}
		lastErr = refreshErr

		if isUnrecoverableRefreshError(refreshErr) {
			s.failRefresh(ctx, userID, attempt, refreshErr)
			return TokenSet{}, s.mapError(ErrReauthorizationRequired)
		}
		if !isTransientRefreshError(refreshErr) {
			break
		}
		if attempt == totalAttempts {
			break
		}

		delay := s.refreshScheduler.NextDelay(attempt)
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return TokenSet{}, s.mapError(waitErr)
		}
	}

	s.appendAudit(ctx, userID, AuditActionRefreshError, map[string]any{
		"attempts": attempts,
		"error":    lastErr.Error(),
	})
	return TokenSet{}, s.mapError(lastErr)
}

func (s *AuthService) failRefresh(ctx context.Context, userID string, attempt int, cause error) {
	if clearErr := s.tokens.ClearTokens(ctx, userID); clearErr != nil {
		s.obs.logError(ctx, "token clear after refresh failure failed", map[string]any{
			"user_id": userID,
			"error":   clearErr.Error(),
		})
	}
	s.appendAudit(ctx, userID, AuditActionRefreshError, map[string]any{
		"attempt":       attempt,
		"error":         cause.Error(),
		"unrecoverable": true,
	})
	s.recordAuthFailure(ctx, userID, "refresh_unrecoverable")
	s.publishEvent(ctx, Event{
		Name:   EventTokensCleared,
		UserID: userID,
		Source: "token_refresh",
		Payload: map[string]any{
			"reason": "refresh_unrecoverable",
		},
	})
}

// Disconnect revokes both tokens upstream and clears local state.
// Revocation failures are logged but do not stop the local cleanup.
func (s *AuthService) Disconnect(ctx context.Context, userID string) error {
	startedAt := time.Now()
	err := s.disconnect(ctx, userID)
	s.obs.observeOperation(ctx, startedAt, "auth_disconnect", err, map[string]any{
		"user_id": strings.TrimSpace(userID),
	})
	return err
}

func (s *AuthService) disconnect(ctx context.Context, userID string) error {
	if s == nil {
		return fmt.Errorf("core: auth service is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return s.mapError(fmt.Errorf("core: user id is required"))
	}

	set, _, err := s.tokens.GetTokens(ctx, userID)
	if err == nil {
		if revokeErr := s.client.Revoke(ctx, set.AccessToken, "access_token"); revokeErr != nil {
			s.obs.logError(ctx, "access token revocation failed", map[string]any{
				"user_id": userID,
				"error":   revokeErr.Error(),
			})
		}
		if set.Refreshable() {
			if revokeErr := s.client.Revoke(ctx, set.RefreshToken, "refresh_token"); revokeErr != nil {
				s.obs.logError(ctx, "refresh token revocation failed", map[string]any{
					"user_id": userID,
					"error":   revokeErr.Error(),
				})
			}
		}
		s.appendAudit(ctx, userID, AuditActionTokenRevocation, nil)
	} else if !isNotFoundError(err) {
		return err
	}

	if err := s.tokens.ClearTokens(ctx, userID); err != nil {
		return err
	}
	s.appendAudit(ctx, userID, AuditActionDisconnect, nil)
	s.publishEvent(ctx, Event{
		Name:   EventAuthDisconnected,
		UserID: userID,
		Source: "auth_disconnect",
	})
	return nil
}

// IsConnected reports whether the user holds usable tokens.
func (s *AuthService) IsConnected(ctx context.Context, userID string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: auth service is not configured")
	}
	return s.tokens.HasValidTokens(ctx, strings.TrimSpace(userID))
}

// AuthedCall is an authenticated API call. The access token is resolved
// before each attempt.
type AuthedCall func(ctx context.Context, accessToken string) error

// ExecuteWithRetry runs the call, and on auth failures clears the stored
// tokens, waits the retry delay, and tries again with a freshly resolved
// token.
func (s *AuthService) ExecuteWithRetry(ctx context.Context, userID string, call AuthedCall) error {
	startedAt := time.Now()
	err := s.executeWithRetry(ctx, userID, call)
	s.obs.observeOperation(ctx, startedAt, "authed_call", err, map[string]any{
		"user_id": strings.TrimSpace(userID),
	})
	return err
}

func (s *AuthService) executeWithRetry(ctx context.Context, userID string, call AuthedCall) error {
	if s == nil {
		return fmt.Errorf("core: auth service is not configured")
	}
	if call == nil {
		return s.mapError(fmt.Errorf("core: call is required"))
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return s.mapError(fmt.Errorf("core: user id is required"))
	}

	maxRetries := s.config.Retry.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := s.config.Retry.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		token, err := s.GetValidToken(ctx, userID)
		if err != nil {
			return err
		}

		err = call(ctx, token)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isAuthFailure(err) || attempt == maxRetries {
			break
		}

		if clearErr := s.tokens.ClearTokens(ctx, userID); clearErr != nil {
			s.obs.logError(ctx, "token clear before retry failed", map[string]any{
				"user_id": userID,
				"error":   clearErr.Error(),
			})
		}
		s.appendAudit(ctx, userID, AuditActionAPIRetry, map[string]any{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		if waitErr := waitWithContext(ctx, retryDelay); waitErr != nil {
			return s.mapError(waitErr)
		}
	}

	s.appendAudit(ctx, userID, AuditActionAPICallFailed, map[string]any{
		"error": lastErr.Error(),
	})
	return s.mapError(lastErr)
}

func (s *AuthService) allowAttempt(ctx context.Context, userID string) bool {
	if s == nil || s.attemptLimiter == nil {
		return true
	}
	allowed, err := s.attemptLimiter.Allow(ctx, userID)
	if err != nil {
		// Limiter failures never block users.
		s.obs.logError(ctx, "attempt limiter check failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return true
	}
	return allowed
}

func (s *AuthService) recordAuthFailure(ctx context.Context, userID, reason string) {
	if s == nil || s.failureTracker == nil {
		return
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	suspicious, err := s.failureTracker.RecordFailure(ctx, userID, reason)
	if err != nil {
		s.obs.logError(ctx, "failure tracking failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return
	}
	if suspicious {
		s.obs.logError(ctx, "suspicious authorization activity", map[string]any{
			"user_id": userID,
			"reason":  reason,
		})
	}
}

func (s *AuthService) appendAudit(ctx context.Context, userID, action string, metadata map[string]any) {
	if s == nil || s.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		UserID:    strings.TrimSpace(userID),
		Provider:  ProviderID,
		Action:    action,
		Metadata:  copyAnyMap(metadata),
		CreatedAt: s.nowFn(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.obs.logError(ctx, "audit append failed", map[string]any{
			"user_id": entry.UserID,
			"action":  action,
			"error":   err.Error(),
		})
	}
}

// publishEvent delivers to the in-process bus and, when configured, the
// durable outbox.
func (s *AuthService) publishEvent(ctx context.Context, event Event) {
	if s == nil {
		return
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.nowFn()
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, event); err != nil {
			s.obs.logError(ctx, "event publish failed", map[string]any{
				"event": event.Name,
				"error": err.Error(),
			})
		}
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, event); err != nil {
			s.obs.logError(ctx, "outbox enqueue failed", map[string]any{
				"event": event.Name,
				"error": err.Error(),
			})
		}
	}
}

func (s *AuthService) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s != nil && s.errorMapper != nil {
		if mapped := s.errorMapper(err); mapped != nil {
			return mapped
		}
	}
	return mapServiceError(err)
}

func (s *AuthService) stateTTL() time.Duration {
	ttl := s.config.OAuth.StateTTL
	if ttl <= 0 {
		ttl = defaultVerifierTTL
	}
	return ttl
}

func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation, goerrors.CategoryNotFound:
			return true
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case "TOKEN_EXPIRED", "UNAUTHORIZED", "FORBIDDEN":
			return true
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "reauthorization required")
}

// isTransientRefreshError decides whether a failed refresh attempt is
// worth retrying. Only provider outages, network faults, and throttling
// qualify; configuration errors such as invalid_client fail immediately.
// Unclassifiable errors retry so a flaky provider does not strand users.
func isTransientRefreshError(err error) bool {
	if err == nil {
		return false
	}
	classified := ClassifyOAuthError(err, "", 0)
	switch classified.Type {
	case OAuthErrorServerError,
		OAuthErrorTemporarilyUnavailable,
		OAuthErrorNetworkError,
		OAuthErrorRateLimitExceeded,
		OAuthErrorUnknown:
		return true
	}
	return false
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Category == goerrors.CategoryAuth {
			return true
		}
		if richErr.Code == 401 {
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid_token")
}
