package auth

import "context"

type identityContextKey struct{}
type tenantContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
// The identity lives exactly as long as the request context does.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &identity)
}

// IdentityFromContext extracts the current identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// ContextWithTenant records the tenant scope resolved for this request.
func ContextWithTenant(ctx context.Context, tenantID int32) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext returns the tenant scope of the request.
func TenantFromContext(ctx context.Context) (int32, bool) {
	if ctx == nil {
		return 0, false
	}
	v, ok := ctx.Value(tenantContextKey{}).(int32)
	return v, ok
}

// TenantSource resolves the tenant scope of the current call.
type TenantSource interface {
	CurrentTenantID(ctx context.Context) (int32, error)
}

// ContextTenantSource reads the tenant set by transport middleware.
type ContextTenantSource struct{}

func (ContextTenantSource) CurrentTenantID(ctx context.Context) (int32, error) {
	id, ok := TenantFromContext(ctx)
	if !ok {
		return 0, ErrNoTenant
	}
	return id, nil
}
