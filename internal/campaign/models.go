package campaign

import "time"

// Status 营销活动状态
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

// TypeSend 发送营销邮件的任务类型
const TypeSend = "campaign:send"

// Campaign 营销活动，到期后由调度器代表创建者所在租户发送
type Campaign struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TenantID    string     `json:"-" gorm:"size:64;not null;index"`
	Name        string     `json:"name" gorm:"size:255;not null"`
	Subject     string     `json:"subject" gorm:"size:500;not null"`
	Body        string     `json:"body" gorm:"type:text"`
	Status      Status     `json:"status" gorm:"size:20;not null;index:idx_campaigns_due,priority:1"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty" gorm:"index:idx_campaigns_due,priority:2"`
	CreatedByID string     `json:"createdById" gorm:"size:64"`
	SentCount   int        `json:"sentCount" gorm:"not null;default:0"`
	LastError   string     `json:"lastError,omitempty" gorm:"type:text"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

func (c *Campaign) OwnerTenantID() string      { return c.TenantID }
func (c *Campaign) SetOwnerTenantID(id string) { c.TenantID = id }

// SendPayload campaign:send 任务负载
type SendPayload struct {
	CampaignID string `json:"campaignId"`
}
