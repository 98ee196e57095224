// Package lead 线索数据访问，所有读写都限定在上下文租户内。
package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadhub/internal/common"
	"leadhub/internal/tenant"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository 线索仓储
type Repository struct {
	*common.BaseService
}

// NewRepository 创建线索仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{BaseService: common.NewBaseService(db)}
}

// Create 创建线索
func (r *Repository) Create(ctx context.Context, l *Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = StatusNew
	}
	if l.Source == "" {
		l.Source = SourceManual
	}
	if l.CreatedByID == "" {
		if s, ok := tenant.FromContext(ctx); ok {
			l.CreatedByID = s.ActorID
		}
	}
	l.Email = normalizeEmail(l.Email)
	if err := r.BaseService.Create(ctx, l); err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

// Get 获取线索，其他租户的线索视为不存在
func (r *Repository) Get(ctx context.Context, id string) (*Lead, error) {
	var l Lead
	if err := r.FindByID(ctx, &l, id); err != nil {
		return nil, err
	}
	return &l, nil
}

// List 分页查询线索
func (r *Repository) List(ctx context.Context, req common.ListRequest) ([]Lead, int64, error) {
	query := r.Scoped(ctx).Model(&Lead{})
	query = r.ApplyStatusFilter(query, req.Status)
	query = r.ApplyKeywordSearch(query, req.Keyword, []string{"name", "email", "phone"})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var leads []Lead
	query = r.ApplySorting(query, req.SortBy, req.SortOrder, []string{"name", "created_at", "last_contact_at"})
	query = r.ApplyPagination(query, req.Page, req.PageSize)
	if err := query.Find(&leads).Error; err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

// ListWithEmail 返回当前租户所有带邮箱的线索
func (r *Repository) ListWithEmail(ctx context.Context) ([]Lead, error) {
	var leads []Lead
	err := r.Scoped(ctx).
		Where("email <> ''").
		Where("status <> ?", StatusLost).
		Order("created_at ASC").
		Find(&leads).Error
	return leads, err
}

// UpsertByContact 按邮箱或手机号在当前租户内查找线索，存在则更新最近联系信息，否则创建
func (r *Repository) UpsertByContact(ctx context.Context, c Contact) (*Lead, bool, error) {
	email := normalizeEmail(c.Email)
	phone := strings.TrimSpace(c.Phone)
	if email == "" && phone == "" {
		return nil, false, errors.New("lead: contact needs an email or a phone number")
	}

	var existing Lead
	query := r.Scoped(ctx)
	if email != "" {
		query = query.Where("email = ?", email)
	} else {
		query = query.Where("phone = ?", phone)
	}
	err := query.First(&existing).Error
	switch {
	case err == nil:
		updates := map[string]any{"last_message": c.Message}
		if !c.At.IsZero() {
			updates["last_contact_at"] = c.At
		}
		if existing.Name == "" && c.Name != "" {
			updates["name"] = c.Name
		}
		if existing.Phone == "" && phone != "" {
			updates["phone"] = phone
		}
		if err := r.Scoped(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, false, fmt.Errorf("update lead: %w", err)
		}
		return &existing, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, false, err
	}

	l := &Lead{
		Name:        c.Name,
		Email:       email,
		Phone:       phone,
		Source:      c.Source,
		LastMessage: c.Message,
	}
	if !c.At.IsZero() {
		at := c.At
		l.LastContactAt = &at
	}
	if err := r.Create(ctx, l); err != nil {
		return nil, false, err
	}
	return l, true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
