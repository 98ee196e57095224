package tenant

import "context"

// Snapshot is the tenant identity of one logical operation: the tenant it acts for,
// the actor that triggered it and whether it runs with super-admin scope. It is a
// value type; once installed into a context it is never mutated.
type Snapshot struct {
	TenantID     string `json:"tenantId" gorm:"column:tenant_id;size:64;index"`
	ActorID      string `json:"actorId,omitempty" gorm:"column:actor_id;size:64"`
	IsSuperAdmin bool   `json:"isSuperAdmin" gorm:"column:is_super_admin;not null;default:false"`
}

// HasTenant reports whether the snapshot names a concrete tenant.
func (s Snapshot) HasTenant() bool {
	return s.TenantID != ""
}

// Scoped reports whether data access under this snapshot must be filtered by tenant.
func (s Snapshot) Scoped() bool {
	return !s.IsSuperAdmin
}

type snapshotKey struct{}

// WithSnapshot attaches the snapshot to ctx and returns the derived context. The
// parent context is left untouched, so the previous ambient value (if any) is what
// callers holding the parent continue to observe.
func WithSnapshot(ctx context.Context, s Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, &s)
}

// WithoutSnapshot returns a context in which no snapshot is ambient, even if the
// parent carried one.
func WithoutSnapshot(ctx context.Context) context.Context {
	return context.WithValue(ctx, snapshotKey{}, (*Snapshot)(nil))
}

// FromContext returns the ambient snapshot. The second return value reports whether
// one was installed.
func FromContext(ctx context.Context) (Snapshot, bool) {
	if ctx == nil {
		return Snapshot{}, false
	}
	s, ok := ctx.Value(snapshotKey{}).(*Snapshot)
	if !ok || s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// MustFromContext returns the ambient snapshot and panics if none is installed. It is
// only suitable behind the isolation guard, where absence is a programming error.
func MustFromContext(ctx context.Context) Snapshot {
	s, ok := FromContext(ctx)
	if !ok {
		panic("tenant: snapshot missing from context")
	}
	return s
}

// Install runs body with s ambient and returns its result. The snapshot is visible to
// everything body derives from the context it receives, across goroutines and
// blocking calls, and to nothing else.
func Install[T any](ctx context.Context, s Snapshot, body func(ctx context.Context) (T, error)) (T, error) {
	return body(WithSnapshot(ctx, s))
}
