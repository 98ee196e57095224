// Package campaigns 营销活动接口。
package campaigns

import (
	"context"
	"time"

	"leadhub/internal/campaign"
	"leadhub/internal/common"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
)

// Repository 营销活动仓储
type Repository interface {
	Create(ctx context.Context, c *campaign.Campaign) error
	Get(ctx context.Context, id string) (*campaign.Campaign, error)
	List(ctx context.Context, req common.ListRequest) ([]campaign.Campaign, int64, error)
}

// Handler 营销活动 Handler
type Handler struct {
	repo  Repository
	clock clock.Clock
}

// NewHandler 创建 Handler
func NewHandler(repo Repository, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{repo: repo, clock: clk}
}

type createCampaignRequest struct {
	Name        string     `json:"name" binding:"required,max=255"`
	Subject     string     `json:"subject" binding:"required,max=500"`
	Body        string     `json:"body" binding:"required"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

// Create 创建营销活动，带 scheduledAt 时进入待调度状态
// POST /api/campaigns
func (h *Handler) Create(c *gin.Context) {
	if s, _ := tenant.FromContext(c.Request.Context()); !s.HasTenant() {
		common.ResponseFromError(c, tenant.ErrForbiddenNoTenantContext)
		return
	}

	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, err.Error())
		return
	}
	if req.ScheduledAt != nil && req.ScheduledAt.Before(h.clock.Now()) {
		common.ResponseBadRequest(c, "scheduledAt 不能早于当前时间")
		return
	}

	row := &campaign.Campaign{Name: req.Name, Subject: req.Subject, Body: req.Body, ScheduledAt: req.ScheduledAt}
	if err := h.repo.Create(c.Request.Context(), row); err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseCreated(c, row)
}

// List 分页查询当前租户的营销活动
// GET /api/campaigns
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

// Get 查询营销活动
// GET /api/campaigns/:id
func (h *Handler) Get(c *gin.Context) {
	row, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, row)
}
