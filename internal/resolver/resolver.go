// Package resolver determines which tenant an inbound request or job belongs to.
//
// Every entry point declares exactly one EntryPoint class, and each class is bound
// to exactly one resolution strategy. There is no fallback between strategies and no
// default tenant: when the bound strategy cannot produce a tenant, resolution fails.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadhub/internal/auth"
	"leadhub/internal/metrics"
	"leadhub/internal/tenant"

	"go.uber.org/zap"
)

// EntryPoint is the closed set of trust contexts an operation can start in.
type EntryPoint int

const (
	// Authenticated entry points carry a verified bearer JWT.
	Authenticated EntryPoint = iota + 1
	// Webhook entry points carry an opaque credential id in their path.
	Webhook
	// PublicToken entry points carry a signed widget token.
	PublicToken
	// System entry points are internally scheduled operations.
	System
)

func (e EntryPoint) String() string {
	switch e {
	case Authenticated:
		return "authenticated"
	case Webhook:
		return "webhook"
	case PublicToken:
		return "public_token"
	case System:
		return "system"
	default:
		return fmt.Sprintf("entry_point(%d)", int(e))
	}
}

// Request carries the tenant-bearing data an entry point received. Only the field
// matching the entry point class is consulted.
type Request struct {
	// BearerToken is the raw Authorization header value.
	BearerToken string
	// CredentialID is the opaque id from a webhook path.
	CredentialID string
	// WidgetToken is the signed public token.
	WidgetToken string
	// Origin is the Origin (or Referer) the public request came from.
	Origin string
	// Job is the persisted entity a system operation acts on.
	Job *SystemJob
}

// SystemJob identifies the owner of a persisted entity that a scheduled operation
// works on, e.g. a campaign row.
type SystemJob struct {
	TenantID    string
	CreatedByID string
}

// TokenValidator validates bearer JWTs.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.TokenClaims, error)
}

// WidgetVerifier verifies public widget tokens.
type WidgetVerifier interface {
	Verify(token, origin string) (*auth.WidgetClaims, error)
}

// CredentialLookup finds webhook credentials by their opaque id.
type CredentialLookup interface {
	Lookup(ctx context.Context, id string) (*tenant.WhatsAppCredential, error)
}

// Resolver implements the four resolution strategies.
type Resolver struct {
	tokens      TokenValidator
	widgets     WidgetVerifier
	credentials CredentialLookup
	logger      *zap.Logger
}

// New creates a Resolver. Any collaborator may be nil; the strategies that need a
// missing collaborator then fail with ErrUnresolvedTenant.
func New(tokens TokenValidator, widgets WidgetVerifier, credentials CredentialLookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		tokens:      tokens,
		widgets:     widgets,
		credentials: credentials,
		logger:      logger,
	}
}

// Resolve produces the snapshot for one entry point.
func (r *Resolver) Resolve(ctx context.Context, kind EntryPoint, req Request) (tenant.Snapshot, error) {
	var (
		s   tenant.Snapshot
		err error
	)
	switch kind {
	case Authenticated:
		s, err = r.resolveAuthenticated(ctx, req)
	case Webhook:
		s, err = r.resolveWebhook(ctx, req)
	case PublicToken:
		s, err = r.resolvePublicToken(req)
	case System:
		s, err = resolveSystem(req)
	default:
		err = fmt.Errorf("%w: unknown entry point %s", tenant.ErrUnresolvedTenant, kind)
	}
	if err != nil {
		metrics.TenantResolutionFailuresTotal.WithLabelValues(kind.String(), reason(err)).Inc()
		return tenant.Snapshot{}, err
	}
	return s, nil
}

func (r *Resolver) resolveAuthenticated(ctx context.Context, req Request) (tenant.Snapshot, error) {
	if r.tokens == nil {
		return tenant.Snapshot{}, tenant.ErrUnresolvedTenant
	}
	raw := auth.ExtractTokenFromBearer(req.BearerToken)
	if raw == "" {
		return tenant.Snapshot{}, tenant.ErrUnresolvedTenant
	}
	claims, err := r.tokens.ValidateAccessToken(ctx, raw)
	if err != nil {
		r.logger.Debug("bearer token rejected", zap.Error(err))
		return tenant.Snapshot{}, fmt.Errorf("%w: %v", tenant.ErrUnresolvedTenant, err)
	}

	s := tenant.Snapshot{
		TenantID:     strings.TrimSpace(claims.TenantID),
		ActorID:      strings.TrimSpace(claims.UserID),
		IsSuperAdmin: claims.IsSuperAdmin(),
	}
	if !s.HasTenant() && !s.IsSuperAdmin {
		return tenant.Snapshot{}, tenant.ErrUnresolvedTenant
	}
	return s, nil
}

func (r *Resolver) resolveWebhook(ctx context.Context, req Request) (tenant.Snapshot, error) {
	id := strings.TrimSpace(req.CredentialID)
	if id == "" || r.credentials == nil {
		return tenant.Snapshot{}, tenant.ErrInactiveCredential
	}
	cred, err := r.credentials.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return tenant.Snapshot{}, tenant.ErrInactiveCredential
		}
		return tenant.Snapshot{}, fmt.Errorf("lookup webhook credential: %w", err)
	}
	if !cred.IsActive || cred.TenantID == "" {
		return tenant.Snapshot{}, tenant.ErrInactiveCredential
	}
	return tenant.Snapshot{TenantID: cred.TenantID}, nil
}

func (r *Resolver) resolvePublicToken(req Request) (tenant.Snapshot, error) {
	if r.widgets == nil || strings.TrimSpace(req.WidgetToken) == "" {
		return tenant.Snapshot{}, tenant.ErrUnresolvedTenant
	}
	claims, err := r.widgets.Verify(req.WidgetToken, req.Origin)
	if err != nil {
		return tenant.Snapshot{}, err
	}
	return tenant.Snapshot{TenantID: claims.TenantID}, nil
}

func resolveSystem(req Request) (tenant.Snapshot, error) {
	if req.Job == nil || strings.TrimSpace(req.Job.TenantID) == "" {
		return tenant.Snapshot{}, tenant.ErrUnresolvedTenant
	}
	return tenant.Snapshot{
		TenantID: req.Job.TenantID,
		ActorID:  req.Job.CreatedByID,
	}, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, tenant.ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, tenant.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, tenant.ErrDomainMismatch):
		return "domain_mismatch"
	case errors.Is(err, tenant.ErrInactiveCredential):
		return "inactive_credential"
	case errors.Is(err, tenant.ErrUnresolvedTenant):
		return "unresolved"
	default:
		return "internal"
	}
}
