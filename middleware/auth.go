// Package middleware provides net/http middleware that gates handlers
// on an active provider connection and attaches a valid access token to
// the request.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-hmrc/core"
)

const (
	codeAuthRequired = "HMRC_AUTH_REQUIRED"
	codeTokenError   = "HMRC_TOKEN_ERROR"
)

type tokenContextKey struct{}
type userContextKey struct{}

// TokenFromContext returns the access token attached by the middleware.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok
}

// UserFromContext returns the authenticated user id.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey{}).(string)
	return userID, ok
}

// PrincipalFunc resolves the application user behind a request. The
// host application owns session handling, so the middleware only asks
// for the outcome.
type PrincipalFunc func(r *http.Request) (string, bool)

// TokenSource is the slice of the auth service the middleware needs.
type TokenSource interface {
	IsConnected(ctx context.Context, userID string) (bool, error)
	GetValidToken(ctx context.Context, userID string) (string, error)
}

type Options struct {
	// RequireAuth rejects requests whose user has no active connection.
	RequireAuth bool
	// AttachToken fetches a valid access token and stores it on the
	// request context plus the Authorization header.
	AttachToken bool
	Logger      core.Logger
}

func DefaultOptions() Options {
	return Options{
		RequireAuth: true,
		AttachToken: true,
	}
}

// Auth builds the middleware. A nil principal or source produces a
// handler that rejects everything rather than failing open.
func Auth(source TokenSource, principal PrincipalFunc, opts ...Options) func(http.Handler) http.Handler {
	options := DefaultOptions()
	if len(opts) > 0 {
		options = opts[0]
	}
	logger := options.Logger
	if logger == nil {
		_, logger = glog.Resolve("hmrc-middleware", nil, nil)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if source == nil || principal == nil {
				writeError(w, http.StatusUnauthorized, codeAuthRequired, "Authentication required")
				return
			}

			userID, ok := principal(r)
			if !ok || strings.TrimSpace(userID) == "" {
				writeError(w, http.StatusUnauthorized, codeAuthRequired, "Authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey{}, userID)

			if options.RequireAuth {
				connected, err := source.IsConnected(ctx, userID)
				if err != nil {
					logger.Error("connection check failed", "user_id", userID, "error", err)
					writeMapped(w, err)
					return
				}
				if !connected {
					writeError(w, http.StatusUnauthorized, codeAuthRequired, "HMRC authorization required")
					return
				}
			}

			if options.AttachToken {
				token, err := source.GetValidToken(ctx, userID)
				if err != nil {
					logger.Error("token fetch failed", "user_id", userID, "error", err)
					writeError(w, http.StatusUnauthorized, codeTokenError, "Unable to obtain a valid access token")
					return
				}
				ctx = context.WithValue(ctx, tokenContextKey{}, token)
				r.Header.Set("Authorization", "Bearer "+token)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}

// writeMapped renders unexpected failures through the service error
// envelope so the status follows the error category.
func writeMapped(w http.ResponseWriter, err error) {
	mapped := core.MapServiceError(err)
	var rich *goerrors.Error
	if goerrors.As(mapped, &rich) && rich.Code != 0 {
		writeError(w, rich.Code, rich.TextCode, rich.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, core.ServiceErrorInternal, "Unexpected error")
}
