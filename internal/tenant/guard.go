package tenant

import "context"

// Access declares what an entry point requires from the ambient context.
type Access int

const (
	// AccessTenant requires a tenant snapshot (or a super-admin one).
	AccessTenant Access = iota
	// AccessAnonymous marks an entry point as explicitly public.
	AccessAnonymous
	// AccessSuperAdmin requires a super-admin snapshot.
	AccessSuperAdmin
)

// Guard checks the ambient context against the declared access level. It runs after
// the snapshot has been installed and before any handler logic.
func Guard(ctx context.Context, access Access) error {
	s, ok := FromContext(ctx)
	switch access {
	case AccessAnonymous:
		return nil
	case AccessSuperAdmin:
		if !ok || !s.IsSuperAdmin {
			return ErrForbiddenNoTenantContext
		}
		return nil
	default:
		if !ok {
			return ErrForbiddenNoTenantContext
		}
		if !s.HasTenant() && !s.IsSuperAdmin {
			return ErrForbiddenNoTenantContext
		}
		return nil
	}
}
