// Package mailbox 邮箱拉取接口。
package mailbox

import (
	"context"

	"leadhub/internal/common"
	"leadhub/internal/mailbox"
	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
)

// Requester 入队邮箱拉取任务
type Requester interface {
	RequestFetch(ctx context.Context, p mailbox.FetchPayload) (string, error)
}

// Handler 邮箱 Handler
type Handler struct {
	svc Requester
}

// NewHandler 创建 Handler
func NewHandler(svc Requester) *Handler {
	return &Handler{svc: svc}
}

type fetchRequest struct {
	Mailbox string `json:"mailbox" binding:"max=255"`
	Limit   int    `json:"limit" binding:"omitempty,min=1,max=500"`
}

// Fetch 为当前租户入队一次邮箱拉取
// POST /api/mailbox/fetch
func (h *Handler) Fetch(c *gin.Context) {
	if s, _ := tenant.FromContext(c.Request.Context()); !s.HasTenant() {
		common.ResponseFromError(c, tenant.ErrForbiddenNoTenantContext)
		return
	}

	var req fetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.ResponseBadRequest(c, err.Error())
			return
		}
	}
	jobID, err := h.svc.RequestFetch(c.Request.Context(), mailbox.FetchPayload{Mailbox: req.Mailbox, Limit: req.Limit})
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseAccepted(c, gin.H{"jobId": jobID})
}
