package hmrc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-hmrc/core"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

// fraudHeaderPrefix is the prefix HMRC mandates for fraud prevention
// headers on every API call made on behalf of a user.
const fraudHeaderPrefix = "Gov-Client-"

// RequiredFraudHeaders are the Gov-Client headers HMRC rejects requests
// without. Additional Gov-Client and Gov-Vendor headers are forwarded
// verbatim when supplied.
var RequiredFraudHeaders = []string{
	"Gov-Client-Connection-Method",
	"Gov-Client-Device-ID",
	"Gov-Client-User-IDs",
	"Gov-Client-Timezone",
}

// FraudHeaderSource supplies the Gov-Client fraud prevention headers for
// outbound requests. Implementations typically derive them from the
// calling device and session.
type FraudHeaderSource interface {
	FraudHeaders(ctx context.Context) (map[string]string, error)
}

// StaticFraudHeaders is a FraudHeaderSource backed by a fixed header map.
type StaticFraudHeaders map[string]string

func (s StaticFraudHeaders) FraudHeaders(_ context.Context) (map[string]string, error) {
	if len(s) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(s))
	for key, value := range s {
		out[key] = value
	}
	return out, nil
}

// Config configures the HMRC OAuth provider.
type Config struct {
	AuthURL             string
	TokenURL            string
	RevokeURL           string
	ClientID            string
	ClientSecret        string
	DefaultScopes       []string
	TokenTTL            time.Duration
	TokenRequestTimeout time.Duration
	Now                 func() time.Time
	HTTPClient          core.HTTPDoer
	FraudHeaders        FraudHeaderSource
}

// Provider implements core.OAuthClient against the HMRC OAuth 2.0
// endpoints. Client credentials travel in the request body, which is
// how the HMRC token endpoint expects them.
type Provider struct {
	cfg        Config
	httpClient core.HTTPDoer
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, fmt.Errorf("hmrc: auth url is required")
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("hmrc: token url is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("hmrc: client id is required")
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.DefaultScopes = normalizeScopes(cfg.DefaultScopes)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 4 * time.Hour
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = defaultTokenRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}

	return &Provider{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

// FromConfig builds a Provider from the service configuration.
func FromConfig(cfg core.Config, options ...func(*Config)) (*Provider, error) {
	providerCfg := Config{
		AuthURL:       cfg.OAuth.AuthURL,
		TokenURL:      cfg.OAuth.TokenURL,
		RevokeURL:     cfg.OAuth.RevokeURL,
		ClientID:      cfg.OAuth.ClientID,
		ClientSecret:  cfg.OAuth.ClientSecret,
		DefaultScopes: cfg.OAuth.Scopes,
	}
	for _, option := range options {
		if option != nil {
			option(&providerCfg)
		}
	}
	return New(providerCfg)
}

// WithHTTPClient overrides the HTTP client used for token requests.
func WithHTTPClient(client core.HTTPDoer) func(*Config) {
	return func(cfg *Config) {
		cfg.HTTPClient = client
	}
}

// WithFraudHeaders sets the fraud prevention header source.
func WithFraudHeaders(source FraudHeaderSource) func(*Config) {
	return func(cfg *Config) {
		cfg.FraudHeaders = source
	}
}

func (p *Provider) AuthCodeURL(_ context.Context, req core.AuthCodeURLRequest) (string, error) {
	if p == nil {
		return "", fmt.Errorf("hmrc: provider is nil")
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		return "", fmt.Errorf("hmrc: state is required")
	}
	challenge := strings.TrimSpace(req.CodeChallenge)
	if challenge == "" {
		return "", fmt.Errorf("hmrc: code challenge is required")
	}
	scopes := normalizeScopes(req.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), p.cfg.DefaultScopes...)
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", p.cfg.ClientID)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	values.Set("scope", strings.Join(scopes, " "))
	values.Set("state", state)
	values.Set("code_challenge", challenge)
	values.Set("code_challenge_method", "S256")

	authURL := p.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}
	return authURL, nil
}

func (p *Provider) Exchange(ctx context.Context, code, verifier, redirectURI string) (core.TokenSet, error) {
	if p == nil {
		return core.TokenSet{}, fmt.Errorf("hmrc: provider is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenSet{}, fmt.Errorf("hmrc: authorization code is required")
	}
	verifier = strings.TrimSpace(verifier)
	if verifier == "" {
		return core.TokenSet{}, fmt.Errorf("hmrc: code verifier is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, err
	}
	return p.toTokenSet(payload), nil
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string, scopes []string) (core.TokenSet, error) {
	if p == nil {
		return core.TokenSet{}, fmt.Errorf("hmrc: provider is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenSet{}, fmt.Errorf("hmrc: refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if normalized := normalizeScopes(scopes); len(normalized) > 0 {
		form.Set("scope", strings.Join(normalized, " "))
	}

	payload, err := p.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, err
	}
	return p.toTokenSet(payload), nil
}

// Revoke invalidates a single token at the revocation endpoint. Per
// RFC 7009 the endpoint answers 200 even for tokens it does not know,
// so only transport and auth failures surface as errors.
func (p *Provider) Revoke(ctx context.Context, token, tokenTypeHint string) error {
	if p == nil {
		return fmt.Errorf("hmrc: provider is nil")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("hmrc: token is required")
	}
	if p.cfg.RevokeURL == "" {
		return fmt.Errorf("hmrc: revoke url is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	form := url.Values{}
	form.Set("token", token)
	if hint := strings.TrimSpace(tokenTypeHint); hint != "" {
		form.Set("token_type_hint", hint)
	}
	form.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		p.cfg.RevokeURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := p.applyFraudHeaders(ctx, httpReq); err != nil {
		return err
	}

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("hmrc: revoke request failed: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, maxTokenResponseBodyBytes))

	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	return fmt.Errorf("hmrc: revoke endpoint error (%d)", response.StatusCode)
}

func (p *Provider) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if p.httpClient == nil {
		return tokenEndpointPayload{}, fmt.Errorf("hmrc: http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	for key, items := range form {
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecret != "" {
		values.Set("client_secret", p.cfg.ClientSecret)
	}

	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.TokenRequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		p.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if err := p.applyFraudHeaders(ctx, httpReq); err != nil {
		return tokenEndpointPayload{}, err
	}

	response, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("hmrc: token request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("hmrc: read token response: %w", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, fmt.Errorf("hmrc: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil && !statusOK(response.StatusCode) {
		// Error responses are not always well-formed; the status is
		// still the useful signal.
		return tokenEndpointPayload{}, fmt.Errorf("hmrc: token endpoint error (%d)", response.StatusCode)
	}
	if parseErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("hmrc: decode token response: %w", parseErr)
	}
	if !statusOK(response.StatusCode) {
		return tokenEndpointPayload{}, fmt.Errorf(
			"hmrc: token endpoint error (%d): %s",
			response.StatusCode,
			describeTokenError(payload),
		)
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, fmt.Errorf("hmrc: token endpoint error: %s", describeTokenError(payload))
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("hmrc: token endpoint response missing access token")
	}
	return payload, nil
}

func (p *Provider) applyFraudHeaders(ctx context.Context, req *http.Request) error {
	if p.cfg.FraudHeaders == nil {
		return nil
	}
	headers, err := p.cfg.FraudHeaders.FraudHeaders(ctx)
	if err != nil {
		return fmt.Errorf("hmrc: resolve fraud prevention headers: %w", err)
	}
	if err := ValidateFraudHeaders(headers); err != nil {
		return err
	}
	for key, value := range headers {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		req.Header.Set(key, value)
	}
	return nil
}

// ValidateFraudHeaders checks that every required Gov-Client header is
// present and non-empty. The returned error names the missing headers.
func ValidateFraudHeaders(headers map[string]string) error {
	missing := []string{}
	for _, name := range RequiredFraudHeaders {
		value, ok := lookupHeader(headers, name)
		if !ok || strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("hmrc: fraud prevention headers missing: %s", strings.Join(missing, ", "))
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return value, true
		}
	}
	return "", false
}

func (p *Provider) toTokenSet(payload tokenEndpointPayload) core.TokenSet {
	now := p.cfg.Now().UTC()
	set := core.TokenSet{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		TokenType:    normalizeTokenType(payload.TokenType),
		Scopes:       parseScopeList(payload.Scope),
		ExpiresIn:    payload.ExpiresIn,
	}
	ttl := p.cfg.TokenTTL
	if payload.ExpiresIn > 0 {
		ttl = time.Duration(payload.ExpiresIn) * time.Second
	}
	if ttl > 0 {
		set.ExpiresAt = now.Add(ttl)
	}
	return set
}

func statusOK(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

func describeTokenError(payload tokenEndpointPayload) string {
	code := strings.TrimSpace(payload.ErrorCode)
	description := strings.TrimSpace(payload.ErrorDescription)
	switch {
	case code != "" && description != "":
		return code + ": " + description
	case code != "":
		return code
	case description != "":
		return description
	default:
		return "unknown error"
	}
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func normalizeTokenType(value string) string {
	normalized := strings.TrimSpace(value)
	if normalized == "" {
		return "Bearer"
	}
	if strings.EqualFold(normalized, "bearer") {
		return "Bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

var _ core.OAuthClient = (*Provider)(nil)
