package middleware

import (
	"context"
	"net/http"
)

type contextKey string

// ClientKeyContextKey holds the caller's identity for audit/rate-limit
// purposes. No Non-goal is violated by reading it: this is bookkeeping,
// never an access-control gate (authn/authz is explicitly out of scope).
const ClientKeyContextKey contextKey = "client_key"

// ClientKey extracts an optional X-Api-Key header into the request
// context. Unlike the teacher's tenant middleware this never rejects a
// request — a missing key just means audit entries and rate-limit buckets
// fall back to the remote address.
func ClientKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if key == "" {
			key = r.RemoteAddr
		}
		ctx := context.WithValue(r.Context(), ClientKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientKey reads the identity ClientKey stored in ctx.
func GetClientKey(ctx context.Context) string {
	key, _ := ctx.Value(ClientKeyContextKey).(string)
	return key
}
