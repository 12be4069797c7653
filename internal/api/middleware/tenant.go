package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	// TenantKey is the context key for the tenant identifier.
	TenantKey contextKey = "tenant"
	// IdentityKey is the context key for the caller identity.
	IdentityKey contextKey = "identity"
)

// TenantExtractor extracts tenant and caller identity from the request.
// It checks the X-Tenant / X-Agent-Identity headers, then query
// parameters, and falls back to "default" / "anonymous".
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get("X-Tenant"))
		if tenant == "" {
			tenant = strings.TrimSpace(r.URL.Query().Get("tenant"))
		}
		if tenant == "" {
			tenant = "default"
		}

		identity := strings.TrimSpace(r.Header.Get("X-Agent-Identity"))
		if identity == "" {
			identity = strings.TrimSpace(r.URL.Query().Get("identity"))
		}
		if identity == "" {
			identity = "anonymous"
		}

		ctx := context.WithValue(r.Context(), TenantKey, tenant)
		ctx = context.WithValue(ctx, IdentityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenant retrieves the tenant from the request context.
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(TenantKey).(string); ok {
		return v
	}
	return "default"
}

// GetIdentity retrieves the caller identity from the request context.
func GetIdentity(ctx context.Context) string {
	if v, ok := ctx.Value(IdentityKey).(string); ok {
		return v
	}
	return "anonymous"
}
