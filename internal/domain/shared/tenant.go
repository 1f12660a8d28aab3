package shared

import (
	"context"
)

// TenantID identifies a school (one Postgres schema on the hosting platform).
// The analytics core is single-tenant per job: the tenant travels in the job
// payload and in context, never in global mutable state.
type TenantID string

// IsValid reports whether the tenant ID is non-empty.
func (t TenantID) IsValid() bool {
	return t != ""
}

// String returns the string representation of the tenant ID.
func (t TenantID) String() string {
	return string(t)
}

type tenantCtxKey struct{}

// WithTenant returns a context carrying the tenant ID.
func WithTenant(ctx context.Context, tenant TenantID) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

// TenantFromContext extracts the tenant ID from context.
// The second return value is false when no tenant is attached.
func TenantFromContext(ctx context.Context) (TenantID, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(TenantID)
	return t, ok && t.IsValid()
}

// AcademicYear is a school-year label of the form "2024-2025".
type AcademicYear string

// IsValid performs a light shape check on the label.
func (y AcademicYear) IsValid() bool {
	s := string(y)
	return len(s) == 9 && s[4] == '-'
}

// String returns the string representation of the academic year.
func (y AcademicYear) String() string {
	return string(y)
}
