package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
)

// TokenAuthenticator resolves a bearer token to the account it was issued for.
// Tokens issued before the account's last sign-out everywhere are rejected.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (id.AccountID, error)
}

// AuthFailureCounter is notified on every rejected request.
type AuthFailureCounter interface {
	IncrementAuthFailures()
}

type contextKeyAccountID struct{}
type contextKeyBearer struct{}

// GetAccountID retrieves the authenticated account ID from the context.
func GetAccountID(ctx context.Context) id.AccountID {
	accountID, ok := ctx.Value(contextKeyAccountID{}).(id.AccountID)
	if !ok {
		return id.AccountID{}
	}
	return accountID
}

// GetBearerToken returns the raw bearer token the request authenticated with.
func GetBearerToken(ctx context.Context) string {
	token, _ := ctx.Value(contextKeyBearer{}).(string)
	return token
}

// WithAccountID stores an authenticated account in ctx. Used by handlers under test.
func WithAccountID(ctx context.Context, accountID id.AccountID) context.Context {
	return context.WithValue(ctx, contextKeyAccountID{}, accountID)
}

func RequireAuth(authenticator TokenAuthenticator, failures AuthFailureCounter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeUnauthorized(w, failures, "Missing or invalid Authorization header")
				return
			}

			accountID, err := authenticator.Authenticate(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(w, failures, "Invalid, expired or signed-out token")
				return
			}

			ctx = context.WithValue(ctx, contextKeyAccountID{}, accountID)
			ctx = context.WithValue(ctx, contextKeyBearer{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, failures AuthFailureCounter, description string) {
	if failures != nil {
		failures.IncrementAuthFailures()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}

// RequireAccountID extracts the authenticated account for handlers mounted
// behind RequireAuth. A missing ID is a wiring bug, reported as internal.
func RequireAccountID(ctx context.Context, logger *slog.Logger) (id.AccountID, error) {
	accountID := GetAccountID(ctx)
	if accountID.IsNil() {
		if logger != nil {
			logger.ErrorContext(ctx, "account ID missing from context despite auth middleware",
				"request_id", GetRequestID(ctx))
		}
		return id.AccountID{}, dErrors.New(dErrors.CodeInternal, "authentication context error")
	}
	return accountID, nil
}
