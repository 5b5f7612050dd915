package httpserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const adminContextKey contextKey = "adminID"

// WithAdmin returns a new context carrying the verified admin identity.
func WithAdmin(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminContextKey, adminID)
}

// CurrentAdmin extracts the verified admin identity from context.
func CurrentAdmin(r *http.Request) string {
	if v := r.Context().Value(adminContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// AdminAuth gates the moderation API. The portal's admin service
// authenticates operators and forwards calls with the shared
// X-Admin-Token plus the operator's name in X-Admin-User. Anything
// else fails closed.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin access not configured"})
				return
			}
			presented := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}

			adminID := strings.TrimSpace(r.Header.Get("X-Admin-User"))
			if adminID == "" {
				adminID = "admin"
			}

			ctx := WithAdmin(r.Context(), adminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
