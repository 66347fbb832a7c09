package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/wolfman30/appointment-orchestrator/internal/tenancy"
)

// TenantHeader names the tenant for callers that cannot put tenant_id in the
// action payload.
const TenantHeader = "X-Tenant-Id"

// TenantFromHeader copies X-Tenant-Id onto the request context. The header is
// optional; payload values always win downstream.
func TenantFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(TenantHeader)); id != "" {
			r = r.WithContext(tenancy.WithTenantID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireToken enforces a shared bearer token, accepted from either the
// Authorization header or X-Api-Key. An empty expected token disables the
// check.
func RequireToken(expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if token == "" {
				token = strings.TrimSpace(r.Header.Get("X-Api-Key"))
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
