package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
)

type authContextKey struct{}

// AuthMiddleware validates bearer API keys through provider and stores the
// resulting identity in the request context. A nil provider disables the check.
func AuthMiddleware(provider ports.AuthProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if provider == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("Authorization")
			if apiKey == "" {
				http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}
			apiKey = strings.TrimPrefix(apiKey, "Bearer ")

			ac, err := provider.Authenticate(r.Context(), apiKey)
			if err != nil {
				AddError(r.Context(), err)
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			AddLogField(r.Context(), "subject", ac.Subject)
			ctx := context.WithValue(r.Context(), authContextKey{}, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuth retrieves the authenticated identity from context.
// Returns nil if the request was not authenticated.
func GetAuth(ctx context.Context) *ports.AuthContext {
	if ac, ok := ctx.Value(authContextKey{}).(*ports.AuthContext); ok {
		return ac
	}
	return nil
}
