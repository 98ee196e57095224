package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadhub/internal/auth"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCredentials struct {
	items map[string]*tenant.WhatsAppCredential
	err   error
}

func (f *fakeCredentials) Lookup(_ context.Context, id string) (*tenant.WhatsAppCredential, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.items[id]; ok {
		return c, nil
	}
	return nil, tenant.ErrNotFound
}

type fixture struct {
	resolver *Resolver
	jwt      *auth.JWTService
	widgets  *auth.WidgetTokenService
	clock    *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	jwtSvc := auth.NewJWTService("jwt-secret", "leadhub", nil, clk)
	widgets, err := auth.NewWidgetTokenService("widget-secret", time.Hour, clk)
	require.NoError(t, err)
	creds := &fakeCredentials{items: map[string]*tenant.WhatsAppCredential{
		"cred-active":   {ID: "cred-active", TenantID: "T1", IsActive: true},
		"cred-inactive": {ID: "cred-inactive", TenantID: "T2", IsActive: false},
	}}
	return &fixture{
		resolver: New(jwtSvc, widgets, creds, zaptest.NewLogger(t)),
		jwt:      jwtSvc,
		widgets:  widgets,
		clock:    clk,
	}
}

func TestResolveAuthenticated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.jwt.GenerateTokenPair("U1", "T1", []string{"agent"})
	require.NoError(t, err)

	s, err := f.resolver.Resolve(ctx, Authenticated, Request{BearerToken: "Bearer " + pair.AccessToken})
	require.NoError(t, err)
	assert.Equal(t, tenant.Snapshot{TenantID: "T1", ActorID: "U1"}, s)

	admin, err := f.jwt.GenerateTokenPair("root", "", []string{"super_admin"})
	require.NoError(t, err)
	s, err = f.resolver.Resolve(ctx, Authenticated, Request{BearerToken: "Bearer " + admin.AccessToken})
	require.NoError(t, err)
	assert.True(t, s.IsSuperAdmin)
	assert.Empty(t, s.TenantID)

	noTenant, err := f.jwt.GenerateTokenPair("U3", "", []string{"agent"})
	require.NoError(t, err)
	_, err = f.resolver.Resolve(ctx, Authenticated, Request{BearerToken: "Bearer " + noTenant.AccessToken})
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)

	_, err = f.resolver.Resolve(ctx, Authenticated, Request{})
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)

	_, err = f.resolver.Resolve(ctx, Authenticated, Request{BearerToken: "Bearer garbage"})
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)
}

func TestResolveAuthenticatedIgnoresOtherFields(t *testing.T) {
	f := newFixture(t)
	widgetToken, err := f.widgets.Generate("T1", "W1", "")
	require.NoError(t, err)

	_, err = f.resolver.Resolve(context.Background(), Authenticated, Request{
		CredentialID: "cred-active",
		WidgetToken:  widgetToken,
	})
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)
}

func TestResolveWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.resolver.Resolve(ctx, Webhook, Request{CredentialID: "cred-active"})
	require.NoError(t, err)
	assert.Equal(t, "T1", s.TenantID)
	assert.False(t, s.IsSuperAdmin)

	for _, id := range []string{"cred-inactive", "cred-missing", ""} {
		_, err := f.resolver.Resolve(ctx, Webhook, Request{CredentialID: id})
		assert.ErrorIs(t, err, tenant.ErrInactiveCredential, id)
	}
}

func TestResolveWebhookStoreFailure(t *testing.T) {
	storeErr := errors.New("connection reset")
	r := New(nil, nil, &fakeCredentials{err: storeErr}, nil)

	_, err := r.Resolve(context.Background(), Webhook, Request{CredentialID: "cred-active"})
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, tenant.ErrInactiveCredential)
}

func TestResolvePublicToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.widgets.Generate("T1", "W1", "example.com")
	require.NoError(t, err)

	s, err := f.resolver.Resolve(ctx, PublicToken, Request{WidgetToken: token, Origin: "https://www.example.com"})
	require.NoError(t, err)
	assert.Equal(t, tenant.Snapshot{TenantID: "T1"}, s)

	_, err = f.resolver.Resolve(ctx, PublicToken, Request{WidgetToken: token, Origin: "https://other.com"})
	assert.ErrorIs(t, err, tenant.ErrDomainMismatch)

	_, err = f.resolver.Resolve(ctx, PublicToken, Request{})
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)

	f.clock.Add(2 * time.Hour)
	_, err = f.resolver.Resolve(ctx, PublicToken, Request{WidgetToken: token})
	assert.ErrorIs(t, err, tenant.ErrExpiredToken)
}

func TestResolveSystem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.resolver.Resolve(ctx, System, Request{Job: &SystemJob{TenantID: "T1", CreatedByID: "U1"}})
	require.NoError(t, err)
	assert.Equal(t, tenant.Snapshot{TenantID: "T1", ActorID: "U1"}, s)

	_, err = f.resolver.Resolve(ctx, System, Request{Job: &SystemJob{CreatedByID: "U1"}})
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)

	_, err = f.resolver.Resolve(ctx, System, Request{})
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)
}

func TestResolveUnknownEntryPoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), EntryPoint(99), Request{})
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)
	assert.Equal(t, "entry_point(99)", EntryPoint(99).String())
}
