package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadhub/internal/tenant"

	"gorm.io/gorm"
)

// BaseService 服务基类，封装租户隔离的通用数据库操作
// 所有业务 Repository 嵌入此基类，读写均经过 tenant.Scope / tenant.AssignTenant
type BaseService struct {
	DB *gorm.DB
}

// NewBaseService 创建BaseService实例
func NewBaseService(db *gorm.DB) *BaseService {
	return &BaseService{DB: db}
}

// ============================================================================
// 租户过滤
// ============================================================================

// Scoped 返回带租户过滤的查询对象
// 没有租户上下文时语句带错误返回，不会执行
func (s *BaseService) Scoped(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx).Scopes(tenant.Scope(ctx))
}

// ============================================================================
// 分页
// ============================================================================

// ApplyPagination 应用分页条件
// page: 页码（从1开始）
// pageSize: 每页数量
func (s *BaseService) ApplyPagination(query *gorm.DB, page, pageSize int) *gorm.DB {
	req := PaginationRequest{Page: page, PageSize: pageSize}
	return query.Offset(req.GetOffset()).Limit(req.GetPageSize())
}

// ============================================================================
// 排序
// ============================================================================

// ApplySorting 应用排序条件
// sortBy: 排序字段，必须在 allowedFields 白名单内，否则按 created_at DESC
// sortOrder: 排序方向 (asc/desc)
func (s *BaseService) ApplySorting(query *gorm.DB, sortBy, sortOrder string, allowedFields []string) *gorm.DB {
	allowed := false
	for _, field := range allowedFields {
		if field == sortBy {
			allowed = true
			break
		}
	}
	if sortBy == "" || !allowed {
		return query.Order("created_at DESC")
	}

	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}
	return query.Order(fmt.Sprintf("%s %s", sortBy, sortOrder))
}

// ============================================================================
// 关键词搜索
// ============================================================================

// ApplyKeywordSearch 应用关键词模糊搜索
// 示例: ApplyKeywordSearch(query, "acme", []string{"name", "email"})
func (s *BaseService) ApplyKeywordSearch(query *gorm.DB, keyword string, fields []string) *gorm.DB {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" || len(fields) == 0 {
		return query
	}

	conditions := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, field := range fields {
		conditions = append(conditions, fmt.Sprintf("%s LIKE ?", field))
		args = append(args, "%"+keyword+"%")
	}
	return query.Where("("+strings.Join(conditions, " OR ")+")", args...)
}

// ApplyStatusFilter 应用状态过滤
func (s *BaseService) ApplyStatusFilter(query *gorm.DB, status string) *gorm.DB {
	if status != "" {
		return query.Where("status = ?", status)
	}
	return query
}

// ============================================================================
// 通用CRUD操作
// ============================================================================

// Create 创建记录，归属租户取自上下文
func (s *BaseService) Create(ctx context.Context, model tenant.Owned) error {
	if err := tenant.AssignTenant(ctx, model); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Create(model).Error
}

// FindByID 在当前租户内根据ID查询单条记录
// 其他租户的记录与不存在的记录同样返回 tenant.ErrNotFound
func (s *BaseService) FindByID(ctx context.Context, model any, id string) error {
	err := s.Scoped(ctx).Where("id = ?", id).First(model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tenant.ErrNotFound
	}
	return err
}

// Count 统计当前租户内的记录数
func (s *BaseService) Count(ctx context.Context, model any) (int64, error) {
	var count int64
	err := s.Scoped(ctx).Model(model).Count(&count).Error
	return count, err
}

// Transaction 执行事务，上下文中的租户同样作用于事务内的查询
func (s *BaseService) Transaction(ctx context.Context, fn func(tx *BaseService) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&BaseService{DB: tx})
	})
}
