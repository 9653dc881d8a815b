package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/creditgate/creditgate/internal/auth"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/service"
)

// TokenAuthenticator resolves a bearer token to an active user.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// ErrorWriter renders an error response. The handler package supplies the
// application-wide mapping.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// AuthConfig holds configuration for the bearer auth middleware.
type AuthConfig struct {
	Logger        *slog.Logger
	Authenticator TokenAuthenticator
	WriteError    ErrorWriter
}

// Auth returns a middleware that requires a valid bearer token.
// On success the user is stored in the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	writeErr := cfg.WriteError
	if writeErr == nil {
		writeErr = writeAuthError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)

			user, err := cfg.Authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, service.ErrUnauthorized) && !errors.Is(err, service.ErrForbidden) {
					cfg.Logger.Error("authentication failed",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				writeErr(w, r, err)
				return
			}

			AddLogAttrs(r.Context(), slog.String("username", user.Username))
			ctx := auth.ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively. Returns an empty string
// when the header is missing or uses another scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeAuthError is used when no ErrorWriter is configured.
func writeAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	if errors.Is(err, service.ErrForbidden) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Inactive user","error":{"code":"INACTIVE_USER","message":"Inactive user"}}`))
		return
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"detail":"Could not validate credentials","error":{"code":"UNAUTHORIZED","message":"Could not validate credentials"}}`))
}
