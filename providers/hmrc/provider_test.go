package hmrc

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-hmrc/core"
)

type scriptedResponse struct {
	status      int
	contentType string
	body        string
	err         error
}

type scriptedDoer struct {
	responses []scriptedResponse
	requests  []*http.Request
	bodies    []string
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	body := ""
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	d.requests = append(d.requests, req)
	d.bodies = append(d.bodies, body)

	if len(d.responses) == 0 {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{}`)),
		}, nil
	}
	next := d.responses[0]
	d.responses = d.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	contentType := next.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	return &http.Response{
		StatusCode: next.status,
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(next.body)),
	}, nil
}

func (d *scriptedDoer) lastForm(t *testing.T) url.Values {
	t.Helper()
	if len(d.bodies) == 0 {
		t.Fatalf("expected at least one request")
	}
	values, err := url.ParseQuery(d.bodies[len(d.bodies)-1])
	if err != nil {
		t.Fatalf("parse request form: %v", err)
	}
	return values
}

func newTestProvider(t *testing.T, doer *scriptedDoer) *Provider {
	t.Helper()
	provider, err := New(Config{
		AuthURL:       "https://test-www.tax.service.gov.uk/oauth/authorize",
		TokenURL:      "https://test-api.service.hmrc.gov.uk/oauth/token",
		RevokeURL:     "https://test-api.service.hmrc.gov.uk/oauth/revoke",
		ClientID:      "client-123",
		ClientSecret:  "secret-456",
		DefaultScopes: []string{"read:self-assessment", "write:self-assessment"},
		Now: func() time.Time {
			return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		},
		HTTPClient: doer,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestProvider_AuthCodeURLIncludesPKCEParams(t *testing.T) {
	provider := newTestProvider(t, &scriptedDoer{})

	authURL, err := provider.AuthCodeURL(context.Background(), core.AuthCodeURLRequest{
		State:         "state_1",
		CodeChallenge: "challenge_1",
		RedirectURI:   "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("auth code url: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("response_type") != "code" {
		t.Fatalf("expected response_type=code, got %q", query.Get("response_type"))
	}
	if query.Get("client_id") != "client-123" {
		t.Fatalf("expected client_id query value")
	}
	if query.Get("code_challenge") != "challenge_1" {
		t.Fatalf("expected code_challenge query value")
	}
	if query.Get("code_challenge_method") != "S256" {
		t.Fatalf("expected S256 challenge method, got %q", query.Get("code_challenge_method"))
	}
	if query.Get("state") != "state_1" {
		t.Fatalf("expected state query value")
	}
	if query.Get("redirect_uri") != "https://app.example.com/callback" {
		t.Fatalf("expected redirect_uri query value")
	}
	if !strings.Contains(query.Get("scope"), "read:self-assessment") {
		t.Fatalf("expected scope query to include read:self-assessment")
	}
}

func TestProvider_AuthCodeURLRequiresStateAndChallenge(t *testing.T) {
	provider := newTestProvider(t, &scriptedDoer{})

	if _, err := provider.AuthCodeURL(context.Background(), core.AuthCodeURLRequest{CodeChallenge: "c"}); err == nil {
		t.Fatalf("expected missing state error")
	}
	if _, err := provider.AuthCodeURL(context.Background(), core.AuthCodeURLRequest{State: "s"}); err == nil {
		t.Fatalf("expected missing challenge error")
	}
}

func TestProvider_ExchangeSendsVerifierAndParsesTokens(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{
		status: http.StatusOK,
		body: `{
			"access_token": "access-1",
			"refresh_token": "refresh-1",
			"token_type": "bearer",
			"expires_in": 14400,
			"scope": "read:self-assessment write:self-assessment"
		}`,
	}}}
	provider := newTestProvider(t, doer)

	tokens, err := provider.Exchange(context.Background(), "code-1", "verifier-1", "https://app.example.com/callback")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "access-1" {
		t.Fatalf("expected access token, got %q", tokens.AccessToken)
	}
	if tokens.RefreshToken != "refresh-1" {
		t.Fatalf("expected refresh token, got %q", tokens.RefreshToken)
	}
	if tokens.TokenType != "Bearer" {
		t.Fatalf("expected Bearer token type, got %q", tokens.TokenType)
	}
	wantExpiry := time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC)
	if !tokens.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, tokens.ExpiresAt)
	}
	if len(tokens.Scopes) != 2 {
		t.Fatalf("expected two scopes, got %v", tokens.Scopes)
	}

	form := doer.lastForm(t)
	if form.Get("grant_type") != "authorization_code" {
		t.Fatalf("expected authorization_code grant, got %q", form.Get("grant_type"))
	}
	if form.Get("code") != "code-1" {
		t.Fatalf("expected code in form")
	}
	if form.Get("code_verifier") != "verifier-1" {
		t.Fatalf("expected code_verifier in form")
	}
	if form.Get("client_id") != "client-123" {
		t.Fatalf("expected client_id in form")
	}
	if form.Get("client_secret") != "secret-456" {
		t.Fatalf("expected client_secret in form")
	}
}

func TestProvider_RefreshSendsRefreshGrant(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{
		status: http.StatusOK,
		body:   `{"access_token": "access-2", "refresh_token": "refresh-2", "expires_in": 3600}`,
	}}}
	provider := newTestProvider(t, doer)

	tokens, err := provider.Refresh(context.Background(), "refresh-1", []string{"read:self-assessment"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.AccessToken != "access-2" {
		t.Fatalf("expected refreshed access token, got %q", tokens.AccessToken)
	}

	form := doer.lastForm(t)
	if form.Get("grant_type") != "refresh_token" {
		t.Fatalf("expected refresh_token grant, got %q", form.Get("grant_type"))
	}
	if form.Get("refresh_token") != "refresh-1" {
		t.Fatalf("expected refresh_token in form")
	}
	if form.Get("scope") != "read:self-assessment" {
		t.Fatalf("expected scope in form, got %q", form.Get("scope"))
	}
}

func TestProvider_TokenErrorSurfacesCodeAndStatus(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{
		status: http.StatusUnauthorized,
		body:   `{"error": "invalid_grant", "error_description": "refresh token revoked"}`,
	}}}
	provider := newTestProvider(t, doer)

	_, err := provider.Refresh(context.Background(), "refresh-stale", nil)
	if err == nil {
		t.Fatalf("expected token endpoint error")
	}
	if !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("expected invalid_grant in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status in error, got %v", err)
	}
	if classified := core.ClassifyOAuthError(err, "", 0); classified.Type != core.OAuthErrorInvalidGrant {
		t.Fatalf("expected invalid_grant classification, got %v", classified.Type)
	}
}

func TestProvider_ParsesFormEncodedTokenResponse(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{
		status:      http.StatusOK,
		contentType: "application/x-www-form-urlencoded",
		body:        "access_token=access-3&token_type=bearer&expires_in=7200",
	}}}
	provider := newTestProvider(t, doer)

	tokens, err := provider.Exchange(context.Background(), "code-3", "verifier-3", "")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "access-3" {
		t.Fatalf("expected access token from form payload, got %q", tokens.AccessToken)
	}
	if tokens.ExpiresIn != 7200 {
		t.Fatalf("expected expires_in 7200, got %d", tokens.ExpiresIn)
	}
}

func TestProvider_RevokeSendsTokenTypeHint(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{status: http.StatusOK, body: `{}`}}}
	provider := newTestProvider(t, doer)

	if err := provider.Revoke(context.Background(), "refresh-1", "refresh_token"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	request := doer.requests[len(doer.requests)-1]
	if !strings.HasSuffix(request.URL.String(), "/oauth/revoke") {
		t.Fatalf("expected revoke endpoint, got %s", request.URL)
	}
	form := doer.lastForm(t)
	if form.Get("token") != "refresh-1" {
		t.Fatalf("expected token in form")
	}
	if form.Get("token_type_hint") != "refresh_token" {
		t.Fatalf("expected token_type_hint in form, got %q", form.Get("token_type_hint"))
	}
}

func TestProvider_RevokeReportsServerErrors(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{status: http.StatusInternalServerError, body: `{}`}}}
	provider := newTestProvider(t, doer)

	err := provider.Revoke(context.Background(), "refresh-1", "refresh_token")
	if err == nil {
		t.Fatalf("expected revoke error")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestProvider_FraudHeadersAppliedToTokenRequests(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{{
		status: http.StatusOK,
		body:   `{"access_token": "access-4"}`,
	}}}
	provider, err := New(Config{
		AuthURL:      "https://test-www.tax.service.gov.uk/oauth/authorize",
		TokenURL:     "https://test-api.service.hmrc.gov.uk/oauth/token",
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		HTTPClient:   doer,
		FraudHeaders: StaticFraudHeaders{
			"Gov-Client-Connection-Method": "WEB_APP_VIA_SERVER",
			"Gov-Client-Device-ID":         "device-1",
			"Gov-Client-User-IDs":          "os=usr_1",
			"Gov-Client-Timezone":          "UTC+00:00",
		},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if _, err := provider.Exchange(context.Background(), "code-4", "verifier-4", ""); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	request := doer.requests[len(doer.requests)-1]
	if request.Header.Get("Gov-Client-Device-ID") != "device-1" {
		t.Fatalf("expected Gov-Client-Device-ID header")
	}
	if request.Header.Get("Gov-Client-Connection-Method") != "WEB_APP_VIA_SERVER" {
		t.Fatalf("expected Gov-Client-Connection-Method header")
	}
}

func TestProvider_MissingFraudHeadersRejected(t *testing.T) {
	doer := &scriptedDoer{}
	provider, err := New(Config{
		AuthURL:      "https://test-www.tax.service.gov.uk/oauth/authorize",
		TokenURL:     "https://test-api.service.hmrc.gov.uk/oauth/token",
		ClientID:     "client-123",
		HTTPClient:   doer,
		FraudHeaders: StaticFraudHeaders{"Gov-Client-Device-ID": "device-1"},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, exchangeErr := provider.Exchange(context.Background(), "code-5", "verifier-5", "")
	if exchangeErr == nil {
		t.Fatalf("expected missing fraud header error")
	}
	if !strings.Contains(exchangeErr.Error(), "fraud prevention headers missing") {
		t.Fatalf("expected missing header message, got %v", exchangeErr)
	}
	if !strings.Contains(exchangeErr.Error(), "Gov-Client-Timezone") {
		t.Fatalf("expected missing header names, got %v", exchangeErr)
	}
	if len(doer.requests) != 0 {
		t.Fatalf("expected no request to be sent, got %d", len(doer.requests))
	}
}

func TestNewProvider_RequiresEndpointsAndClientID(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := New(Config{AuthURL: "https://example.com/auth"}); err == nil {
		t.Fatalf("expected missing token url error")
	}
	if _, err := New(Config{AuthURL: "https://example.com/auth", TokenURL: "https://example.com/token"}); err == nil {
		t.Fatalf("expected missing client id error")
	}
}

func TestFromConfig_UsesOAuthSettings(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.OAuth.ClientID = "client-9"
	cfg.OAuth.ClientSecret = "secret-9"

	provider, err := FromConfig(cfg, WithHTTPClient(&scriptedDoer{}))
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	authURL, err := provider.AuthCodeURL(context.Background(), core.AuthCodeURLRequest{
		State:         "s",
		CodeChallenge: "c",
	})
	if err != nil {
		t.Fatalf("auth code url: %v", err)
	}
	if !strings.Contains(authURL, "client_id=client-9") {
		t.Fatalf("expected configured client id in url, got %s", authURL)
	}
}
