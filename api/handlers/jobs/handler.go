// Package jobs 后台任务查询接口。
package jobs

import (
	"context"
	"errors"

	"leadhub/internal/common"
	"leadhub/internal/jobs"
	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
)

// Reader 任务查询
type Reader interface {
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	GetStats(ctx context.Context) (jobs.Stats, error)
}

// Handler 任务 Handler
type Handler struct {
	queue Reader
}

// NewHandler 创建 Handler
func NewHandler(queue Reader) *Handler {
	return &Handler{queue: queue}
}

// Get 查询任务状态，只能看到本租户入队的任务
// GET /api/jobs/:id
func (h *Handler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	snap, ok := tenant.FromContext(ctx)
	if !ok {
		common.ResponseFromError(c, tenant.ErrForbiddenNoTenantContext)
		return
	}

	job, err := h.queue.GetJob(ctx, c.Param("id"))
	if errors.Is(err, jobs.ErrJobNotFound) || (err == nil && !visible(snap, job)) {
		common.ResponseError(c, common.CodeJobNotFound, "")
		return
	}
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, job)
}

// Stats 按状态统计任务数量
// GET /api/admin/jobs/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.queue.GetStats(c.Request.Context())
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"stats": stats, "total": stats.Total()})
}

func visible(s tenant.Snapshot, job *jobs.Job) bool {
	if s.IsSuperAdmin {
		return true
	}
	return s.HasTenant() && job.Snapshot.TenantID == s.TenantID
}
