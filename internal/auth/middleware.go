package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/model"
)

// contextKey is unexported so no other package can read or overwrite the
// value stored under it.
type contextKey string

const userKey contextKey = "user"

// Authenticator turns a bearer token into the live user it names. It must
// fail when the token is invalid or the user no longer exists.
// service.AuthService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// RequireAuth guards protected routes. It reads "Authorization: Bearer
// <token>", resolves it through authn and stores the user in the request
// context. A missing or malformed header ends the chain with 401, as does
// any apperror.ErrUnauthorized from authn. Other errors are logged and
// answered with a generic 500.
func RequireAuth(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w, "missing or malformed bearer token")
				return
			}

			user, err := authn.Authenticate(r.Context(), token)
			switch {
			case errors.Is(err, apperror.ErrUnauthorized):
				unauthorized(w, "could not validate credentials")
				return
			case err != nil:
				logger.Error("authenticating request failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				internalError(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user stored by RequireAuth.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userKey).(*model.User)
	return user, ok && user != nil
}

// WithUser returns a copy of ctx carrying user. Handler tests use it to
// skip the middleware.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// BearerToken extracts the token from the Authorization header. The scheme
// is matched case-insensitively; anything other than exactly two parts is
// rejected.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	// message is a fixed string from this file; no escaping needed.
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}`))
}

func internalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"internal_error","message":"An internal error occurred"}`))
}
