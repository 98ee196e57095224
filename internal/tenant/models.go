package tenant

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Tenant statuses.
const (
	StatusActive    = "active"
	StatusTrial     = "trial"
	StatusSuspended = "suspended"
	StatusCancelled = "cancelled"
)

// Credential bundle categories stored under Tenant.Settings.
const (
	SettingsWhatsApp = "whatsapp"
	SettingsEmail    = "email"
	SettingsPayment  = "payment"
)

// Tenant represents an isolated customer organization. Tenants are never physically
// deleted; Status carries their lifecycle.
type Tenant struct {
	ID          string         `json:"id" gorm:"primaryKey;size:64"`
	Subdomain   string         `json:"subdomain" gorm:"size:100;uniqueIndex;not null"`
	Plan        string         `json:"plan" gorm:"size:50;not null;default:free"`
	Status      string         `json:"status" gorm:"size:50;not null;default:active"`
	TrialEndsAt *time.Time     `json:"trialEndsAt"`
	Settings    datatypes.JSON `json:"-"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// IsActive reports whether the tenant may currently be served.
func (t *Tenant) IsActive(now time.Time) bool {
	switch t.Status {
	case StatusActive:
		return true
	case StatusTrial:
		return t.TrialEndsAt == nil || now.Before(*t.TrialEndsAt)
	default:
		return false
	}
}

// CredentialBundle decodes the settings entry for category into out. It returns
// ErrNotFound when the tenant has no bundle for that category.
func (t *Tenant) CredentialBundle(category string, out any) error {
	if len(t.Settings) == 0 {
		return ErrNotFound
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(t.Settings, &all); err != nil {
		return fmt.Errorf("decode tenant settings: %w", err)
	}
	raw, ok := all[category]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s settings: %w", category, err)
	}
	return nil
}

// EmailSettings is the "email" credential bundle.
type EmailSettings struct {
	IMAPHost string `json:"imapHost"`
	IMAPPort int    `json:"imapPort"`
	Username string `json:"username"`
	Password string `json:"password"`
	Mailbox  string `json:"mailbox,omitempty"`
}

// WhatsAppCredential is a WhatsApp Business API credential owned by a tenant. Its ID
// is opaque and server-issued; it is embedded in the webhook URL handed to Meta.
type WhatsAppCredential struct {
	ID            string `json:"id" gorm:"primaryKey;size:64"`
	TenantID      string `json:"tenantId" gorm:"size:64;not null;index"`
	PhoneNumberID string `json:"phoneNumberId" gorm:"size:64"`
	AccessToken   string `json:"-" gorm:"type:text;not null"`
	VerifyToken   string `json:"-" gorm:"size:255"`
	IsActive      bool   `json:"isActive" gorm:"not null;default:true"`
	IsDefault     bool   `json:"isDefault" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (c *WhatsAppCredential) OwnerTenantID() string      { return c.TenantID }
func (c *WhatsAppCredential) SetOwnerTenantID(id string) { c.TenantID = id }
