package lead

import "time"

// Source 线索来源
type Source string

const (
	SourceManual   Source = "manual"
	SourceWidget   Source = "widget"
	SourceWhatsApp Source = "whatsapp"
	SourceEmail    Source = "email"
)

// Status 线索状态
type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusQualified Status = "qualified"
	StatusLost      Status = "lost"
)

// Lead 潜在客户
type Lead struct {
	ID            string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TenantID      string     `json:"-" gorm:"size:64;not null;index:idx_leads_tenant_email;index:idx_leads_tenant_phone"`
	Name          string     `json:"name" gorm:"size:255"`
	Email         string     `json:"email,omitempty" gorm:"size:255;index:idx_leads_tenant_email"`
	Phone         string     `json:"phone,omitempty" gorm:"size:50;index:idx_leads_tenant_phone"`
	Source        Source     `json:"source" gorm:"size:20;not null"`
	Status        Status     `json:"status" gorm:"size:20;not null;default:new"`
	LastMessage   string     `json:"lastMessage,omitempty" gorm:"type:text"`
	LastContactAt *time.Time `json:"lastContactAt,omitempty"`
	CreatedByID   string     `json:"createdById,omitempty" gorm:"size:64"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (Lead) TableName() string {
	return "leads"
}

func (l *Lead) OwnerTenantID() string      { return l.TenantID }
func (l *Lead) SetOwnerTenantID(id string) { l.TenantID = id }

// Contact 一次入站联系（WhatsApp 消息、邮件、组件消息）
type Contact struct {
	Name    string
	Email   string
	Phone   string
	Source  Source
	Message string
	At      time.Time
}
