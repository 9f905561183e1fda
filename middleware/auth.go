// Shared-secret authentication middleware. The sidecar sits between a
// single trusted agent host and the provider backends, not behind a
// multi-tenant API key backend, so this validates a constant-time
// comparison against one configured secret rather than looking users up.

package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

// APIKeyContextKey stores the presented secret in request context, kept
// under its historical name so downstream code (rate limiting) can key
// off it without caring whether auth is per-user or shared-secret.
const APIKeyContextKey contextKey = "api_key"

// AuthMiddleware validates the shared secret on incoming requests.
type AuthMiddleware struct {
	logger    zerolog.Logger
	secret    string
	headerKey string
}

// NewAuthMiddleware creates a shared-secret authentication middleware.
// An empty secret disables auth entirely (local/dev use).
func NewAuthMiddleware(logger zerolog.Logger, headerKey, secret string) *AuthMiddleware {
	if headerKey == "" {
		headerKey = "Authorization"
	}
	return &AuthMiddleware{
		logger:    logger,
		secret:    secret,
		headerKey: headerKey,
	}
}

// Handler returns the middleware handler function.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if am.secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get(am.headerKey)
		if authHeader == "" {
			http.Error(w, `{"error":"missing authentication","message":"Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		presented := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			presented = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(am.secret)) != 1 {
			am.logger.Warn().Str("path", r.URL.Path).Msg("rejected request with invalid shared secret")
			http.Error(w, `{"error":"invalid authentication","message":"invalid secret"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), APIKeyContextKey, presented)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAPIKey extracts the presented secret from the request context, for
// callers (e.g. rate limiting) that only need a stable per-caller key.
func GetAPIKey(ctx context.Context) string {
	if v, ok := ctx.Value(APIKeyContextKey).(string); ok {
		return v
	}
	return ""
}
