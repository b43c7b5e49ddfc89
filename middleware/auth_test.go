package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubTokenSource struct {
	connected    bool
	connectedErr error
	token        string
	tokenErr     error
}

func (s stubTokenSource) IsConnected(_ context.Context, _ string) (bool, error) {
	return s.connected, s.connectedErr
}

func (s stubTokenSource) GetValidToken(_ context.Context, _ string) (string, error) {
	return s.token, s.tokenErr
}

func fixedPrincipal(userID string) PrincipalFunc {
	return func(*http.Request) (string, bool) { return userID, userID != "" }
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAuth_AttachesTokenAndUser(t *testing.T) {
	source := stubTokenSource{connected: true, token: "access-token"}

	var gotToken, gotUser string
	var gotHeader string
	handler := Auth(source, fixedPrincipal("usr_1"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken, _ = TokenFromContext(r.Context())
		gotUser, _ = UserFromContext(r.Context())
		gotHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tax/submit", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if gotToken != "access-token" {
		t.Fatalf("expected token in context, got %q", gotToken)
	}
	if gotUser != "usr_1" {
		t.Fatalf("expected user in context, got %q", gotUser)
	}
	if gotHeader != "Bearer access-token" {
		t.Fatalf("expected bearer header, got %q", gotHeader)
	}
}

func TestAuth_MissingPrincipalRejects(t *testing.T) {
	source := stubTokenSource{connected: true, token: "access-token"}
	handler := Auth(source, fixedPrincipal(""))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run without a principal")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tax/submit", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error != "Authentication required" {
		t.Fatalf("unexpected error body: %#v", body)
	}
}

func TestAuth_NotConnectedRejectsWithAuthRequiredCode(t *testing.T) {
	source := stubTokenSource{connected: false}
	handler := Auth(source, fixedPrincipal("usr_1"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run when disconnected")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tax/submit", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != codeAuthRequired {
		t.Fatalf("expected %q code, got %#v", codeAuthRequired, body)
	}
}

func TestAuth_TokenFetchFailureRejectsWithTokenErrorCode(t *testing.T) {
	source := stubTokenSource{connected: true, tokenErr: errors.New("refresh failed")}
	handler := Auth(source, fixedPrincipal("usr_1"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run without a token")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tax/submit", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != codeTokenError {
		t.Fatalf("expected %q code, got %#v", codeTokenError, body)
	}
}

func TestAuth_ConnectionCheckErrorRendersMappedStatus(t *testing.T) {
	source := stubTokenSource{connectedErr: errors.New("rate limit exceeded")}
	handler := Auth(source, fixedPrincipal("usr_1"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run on connection check failure")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tax/submit", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected mapped 429, got %d", rec.Code)
	}
}

func TestAuth_OptionalModesSkipChecks(t *testing.T) {
	source := stubTokenSource{connected: false, tokenErr: errors.New("no token")}
	opts := Options{RequireAuth: false, AttachToken: false}

	ran := false
	handler := Auth(source, fixedPrincipal("usr_1"), opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		if _, ok := TokenFromContext(r.Context()); ok {
			t.Fatalf("expected no token in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tax/view", nil))

	if !ran {
		t.Fatalf("expected handler to run with checks disabled")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuth_NilDependenciesFailClosed(t *testing.T) {
	handler := Auth(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run without dependencies")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tax/submit", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
