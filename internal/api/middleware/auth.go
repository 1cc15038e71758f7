package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/eldtechnologies/parley/internal/auth"
	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware validates bearer tokens and loads the account row for
// authenticated endpoints. The row is loaded per request, never cached:
// a lock or ban applies to the very next call.
type AuthMiddleware struct {
	tokens *auth.Tokens
	store  store.Store
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(tokens *auth.Tokens, st store.Store) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, store: st}
}

// RequireAuth verifies the Authorization header and attaches the user to
// the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			metrics.AuthFailures.WithLabelValues("rest").Inc()
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		identity, err := m.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			metrics.AuthFailures.WithLabelValues("rest").Inc()
			jsonError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		user, err := m.store.GetUserByID(r.Context(), identity.UserID)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "directory lookup failed")
			return
		}
		if user == nil {
			metrics.AuthFailures.WithLabelValues("rest").Inc()
			jsonError(w, http.StatusUnauthorized, "unknown account")
			return
		}
		// Bans cut off the whole authenticated surface, not just login;
		// the token stays valid but the account does not.
		if user.Banned {
			metrics.AuthFailures.WithLabelValues("rest").Inc()
			jsonError(w, http.StatusForbidden, "account is banned")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRank gates a route group on a minimum role rank. Per-target
// checks (who may moderate whom) stay in the handlers; this only keeps
// ordinary users off the admin surface.
func (m *AuthMiddleware) RequireRank(minRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			if user == nil {
				jsonError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if auth.Rank(user.Role) < auth.Rank(minRole) {
				jsonError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
