package tenant

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist in the
	// underlying storage, or exists for another tenant.
	ErrNotFound = errors.New("tenant: not found")

	// ErrUnresolvedTenant means no resolution strategy produced a tenant.
	ErrUnresolvedTenant = errors.New("tenant: unresolved tenant")
	// ErrExpiredToken is returned for a public token whose expiry has passed.
	ErrExpiredToken = errors.New("tenant: token expired")
	// ErrInvalidSignature is returned for a malformed or forged public token.
	ErrInvalidSignature = errors.New("tenant: invalid token signature")
	// ErrDomainMismatch is returned when a public token is used from another origin.
	ErrDomainMismatch = errors.New("tenant: token domain mismatch")
	// ErrInactiveCredential covers both unknown and deactivated webhook credentials.
	ErrInactiveCredential = errors.New("tenant: inactive credential")

	// ErrTenantInactive is returned when the ambient tenant is suspended, cancelled or
	// past its trial.
	ErrTenantInactive = errors.New("tenant: tenant inactive")

	// ErrForbiddenNoTenantContext is the isolation guard rejection.
	ErrForbiddenNoTenantContext = errors.New("tenant: no tenant context")
	// ErrMissingTenantFilter is raised when data access is attempted without an
	// ambient tenant. It indicates a programming error, never a user error.
	ErrMissingTenantFilter = errors.New("tenant: missing tenant filter")
	// ErrCrossTenantPredicate is raised when a predicate already names a tenant
	// other than the ambient one.
	ErrCrossTenantPredicate = errors.New("tenant: predicate targets another tenant")
)

// IsAuthError reports whether err belongs to the resolution failures that are shown
// to callers as an authorization failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnresolvedTenant) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrDomainMismatch)
}
