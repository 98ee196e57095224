package tenant

import (
	"context"
	"fmt"

	"leadhub/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ColumnTenantID is the column every tenant-owned table partitions on.
const ColumnTenantID = "tenant_id"

// Predicate is an equality predicate (column -> value) handed to the data layer.
type Predicate map[string]any

// AddTenantFilter merges the ambient tenant into pred. It never returns an
// unfiltered predicate for a scoped caller:
//   - tenant snapshot: pred AND tenant_id = ambient tenant
//   - super-admin snapshot: pred unchanged
//   - no snapshot, or a snapshot without tenant: ErrMissingTenantFilter
//
// The input is not modified.
func AddTenantFilter(ctx context.Context, pred Predicate) (Predicate, error) {
	out := make(Predicate, len(pred)+1)
	for k, v := range pred {
		out[k] = v
	}

	s, ok := FromContext(ctx)
	if ok && s.IsSuperAdmin {
		return out, nil
	}
	if !ok || !s.HasTenant() {
		reportMissingFilter(ctx)
		return nil, ErrMissingTenantFilter
	}

	if existing, found := out[ColumnTenantID]; found {
		if fmt.Sprint(existing) != s.TenantID {
			return nil, ErrCrossTenantPredicate
		}
	}
	out[ColumnTenantID] = s.TenantID
	return out, nil
}

// Scope is the gorm form of AddTenantFilter. On failure it records the error on the
// statement, which stops gorm from executing it.
//
//	db.WithContext(ctx).Scopes(tenant.Scope(ctx)).Find(&leads)
func Scope(ctx context.Context) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		pred, err := AddTenantFilter(ctx, nil)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		if len(pred) == 0 {
			return db
		}
		return db.Where(map[string]any(pred))
	}
}

// Owned is implemented by records that belong to exactly one tenant.
type Owned interface {
	OwnerTenantID() string
	SetOwnerTenantID(id string)
}

// AssignTenant stamps a new record with the ambient tenant before it is written.
// A super-admin writer must set the owner explicitly; a scoped writer may not set
// it to anything but its own tenant.
func AssignTenant(ctx context.Context, rec Owned) error {
	s, ok := FromContext(ctx)
	if ok && s.IsSuperAdmin {
		if rec.OwnerTenantID() == "" {
			return ErrMissingTenantFilter
		}
		return nil
	}
	if !ok || !s.HasTenant() {
		reportMissingFilter(ctx)
		return ErrMissingTenantFilter
	}
	if cur := rec.OwnerTenantID(); cur != "" && cur != s.TenantID {
		return ErrCrossTenantPredicate
	}
	rec.SetOwnerTenantID(s.TenantID)
	return nil
}

func reportMissingFilter(ctx context.Context) {
	metrics.TenantFilterViolationsTotal.Inc()
	zap.L().Error("data access without tenant context",
		append(LogFields(ctx), zap.Error(ErrMissingTenantFilter))...,
	)
}

// LogFields returns the zap fields describing the ambient snapshot.
func LogFields(ctx context.Context) []zap.Field {
	s, ok := FromContext(ctx)
	if !ok {
		return []zap.Field{zap.Bool("tenant_context", false)}
	}
	fields := []zap.Field{zap.String("tenant_id", s.TenantID)}
	if s.ActorID != "" {
		fields = append(fields, zap.String("actor_id", s.ActorID))
	}
	if s.IsSuperAdmin {
		fields = append(fields, zap.Bool("super_admin", true))
	}
	return fields
}
