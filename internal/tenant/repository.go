package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SecretBox encrypts credential secrets before they are stored.
type SecretBox interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(stored string) (string, error)
}

// TenantRepository reads tenant rows. Lifecycle writes belong to the settings
// service and are not part of this repository.
type TenantRepository interface {
	// Current returns the tenant named by the ambient snapshot.
	Current(ctx context.Context) (*Tenant, error)
}

type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository constructs a TenantRepository backed by gorm.
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) Current(ctx context.Context) (*Tenant, error) {
	s, ok := FromContext(ctx)
	if !ok || !s.HasTenant() {
		reportMissingFilter(ctx)
		return nil, ErrMissingTenantFilter
	}
	var t Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", s.TenantID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CredentialRepository manages WhatsApp credentials.
type CredentialRepository interface {
	// Lookup finds a credential by its opaque id without tenant scoping. It exists
	// solely for the webhook resolution strategy, which has no tenant yet.
	Lookup(ctx context.Context, id string) (*WhatsAppCredential, error)
	Create(ctx context.Context, c *WhatsAppCredential) error
	ListActive(ctx context.Context) ([]*WhatsAppCredential, error)
	// AccessToken returns the decrypted access token of a credential of the
	// ambient tenant.
	AccessToken(ctx context.Context, id string) (string, error)
}

type credentialRepository struct {
	db  *gorm.DB
	box SecretBox
}

// NewCredentialRepository constructs a CredentialRepository. box may be nil, in
// which case tokens are stored as given.
func NewCredentialRepository(db *gorm.DB, box SecretBox) CredentialRepository {
	return &credentialRepository{db: db, box: box}
}

func (r *credentialRepository) Lookup(ctx context.Context, id string) (*WhatsAppCredential, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var c WhatsAppCredential
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *credentialRepository) Create(ctx context.Context, c *WhatsAppCredential) error {
	if err := AssignTenant(ctx, c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if r.box != nil && c.AccessToken != "" {
		enc, err := r.box.Encrypt(c.AccessToken)
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		c.AccessToken = enc
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *credentialRepository) ListActive(ctx context.Context) ([]*WhatsAppCredential, error) {
	var items []*WhatsAppCredential
	err := r.db.WithContext(ctx).
		Scopes(Scope(ctx)).
		Where("is_active = ?", true).
		Order("is_default DESC, created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *credentialRepository) AccessToken(ctx context.Context, id string) (string, error) {
	var c WhatsAppCredential
	err := r.db.WithContext(ctx).Scopes(Scope(ctx)).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if r.box == nil {
		return c.AccessToken, nil
	}
	return r.box.Decrypt(c.AccessToken)
}
