package campaign

import (
	"context"
	"errors"
	"time"

	"leadhub/internal/common"
	"leadhub/internal/tenant"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository 营销活动仓储
type Repository struct {
	*common.BaseService
}

// NewRepository 创建营销活动仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{BaseService: common.NewBaseService(db)}
}

// AutoMigrate 创建数据表
func (r *Repository) AutoMigrate() error {
	return r.DB.AutoMigrate(&Campaign{})
}

// Create 创建营销活动
func (r *Repository) Create(ctx context.Context, c *Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusDraft
	}
	if c.ScheduledAt != nil && c.Status == StatusDraft {
		c.Status = StatusScheduled
	}
	if c.CreatedByID == "" {
		if s, ok := tenant.FromContext(ctx); ok {
			c.CreatedByID = s.ActorID
		}
	}
	return r.BaseService.Create(ctx, c)
}

// Get 在当前租户内查询营销活动
func (r *Repository) Get(ctx context.Context, id string) (*Campaign, error) {
	var c Campaign
	if err := r.FindByID(ctx, &c, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// List 分页查询当前租户的营销活动
func (r *Repository) List(ctx context.Context, req common.ListRequest) ([]Campaign, int64, error) {
	query := r.Scoped(ctx).Model(&Campaign{})
	query = r.ApplyStatusFilter(query, req.Status)
	query = r.ApplyKeywordSearch(query, req.Keyword, []string{"name", "subject"})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []Campaign
	query = r.ApplySorting(query, req.SortBy, req.SortOrder, []string{"name", "scheduled_at", "created_at"})
	if err := r.ApplyPagination(query, req.Page, req.PageSize).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListDue 查询到期待发送的营销活动，按计划时间升序
// 超级管理员上下文下跨租户，租户上下文下仅本租户
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]Campaign, error) {
	var items []Campaign
	err := r.Scoped(ctx).
		Where("status = ? AND scheduled_at <= ?", StatusScheduled, now).
		Order("scheduled_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// transition 条件更新状态，返回是否命中
func (r *Repository) transition(ctx context.Context, id string, from Status, fields map[string]any) (bool, error) {
	query := r.Scoped(ctx).Model(&Campaign{}).Where("id = ?", id)
	if from != "" {
		query = query.Where("status = ?", from)
	}
	res := query.Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkQueued 将到期活动从 scheduled 置为 queued，并发调度时只有一个调用方成功
func (r *Repository) MarkQueued(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.transition(ctx, id, StatusScheduled, map[string]any{
		"status":     StatusQueued,
		"updated_at": now,
	})
}

// Reschedule 入队失败时退回 scheduled，等待下一轮扫描
func (r *Repository) Reschedule(ctx context.Context, id string, now time.Time) error {
	_, err := r.transition(ctx, id, StatusQueued, map[string]any{
		"status":     StatusScheduled,
		"updated_at": now,
	})
	return err
}

// MarkFailed 标记活动失败
func (r *Repository) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	ok, err := r.transition(ctx, id, "", map[string]any{
		"status":     StatusFailed,
		"last_error": reason,
		"updated_at": now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return tenant.ErrNotFound
	}
	return nil
}

// MarkSent 标记活动已发送
func (r *Repository) MarkSent(ctx context.Context, id string, sentCount int, lastError string, now time.Time) error {
	ok, err := r.transition(ctx, id, "", map[string]any{
		"status":     StatusSent,
		"sent_count": sentCount,
		"last_error": lastError,
		"sent_at":    now,
		"updated_at": now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return tenant.ErrNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, tenant.ErrNotFound)
}
