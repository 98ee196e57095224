package leads

import (
	"context"

	"leadhub/internal/common"
	"leadhub/internal/lead"
	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
)

// Repository 线索仓储
type Repository interface {
	Create(ctx context.Context, l *lead.Lead) error
	Get(ctx context.Context, id string) (*lead.Lead, error)
	List(ctx context.Context, req common.ListRequest) ([]lead.Lead, int64, error)
}

// Handler 线索 Handler
type Handler struct {
	repo Repository
}

// NewHandler 创建 Handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// createLeadRequest 创建线索请求体
type createLeadRequest struct {
	Name   string      `json:"name" binding:"required,max=255"`
	Email  string      `json:"email" binding:"omitempty,email"`
	Phone  string      `json:"phone" binding:"omitempty,max=50"`
	Source lead.Source `json:"source"`
}

// List 分页查询当前租户的线索
// GET /api/leads
func (h *Handler) List(c *gin.Context) {
	var req common.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		common.ResponseBadRequest(c, err.Error())
		return
	}
	items, total, err := h.repo.List(c.Request.Context(), req)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseList(c, items, total, &req.PaginationRequest)
}

// Create 创建线索，归属当前租户
// POST /api/leads
func (h *Handler) Create(c *gin.Context) {
	if s, _ := tenant.FromContext(c.Request.Context()); !s.HasTenant() {
		common.ResponseFromError(c, tenant.ErrForbiddenNoTenantContext)
		return
	}

	var req createLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, err.Error())
		return
	}
	l := &lead.Lead{Name: req.Name, Email: req.Email, Phone: req.Phone, Source: req.Source}
	if err := h.repo.Create(c.Request.Context(), l); err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseCreated(c, l)
}

// Get 查询线索，其他租户的线索返回 404
// GET /api/leads/:id
func (h *Handler) Get(c *gin.Context) {
	l, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, l)
}
