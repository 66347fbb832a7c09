// Package tenancy carries the caller's tenant through request contexts.
package tenancy

import (
	"context"
	"strings"
)

type tenantKey struct{}

// WithTenantID returns ctx carrying tenantID. Surrounding whitespace is
// dropped; a blank id leaves ctx without a tenant.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantIDFromContext reports the tenant stored by WithTenantID.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantKey{}).(string)
	return tenantID, ok
}
