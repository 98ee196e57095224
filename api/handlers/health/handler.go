// Package health 健康检查接口。
package health

import (
	"context"
	"net/http"
	"time"

	"leadhub/internal/common"

	"github.com/gin-gonic/gin"
)

// Checker 依赖探活
type Checker func(ctx context.Context) error

// Handler 健康检查 Handler
type Handler struct {
	checks  map[string]Checker
	timeout time.Duration
}

// NewHandler 创建 Handler，checks 为组件名到探活函数的映射
func NewHandler(checks map[string]Checker) *Handler {
	return &Handler{checks: checks, timeout: 2 * time.Second}
}

// Health 逐个探活依赖，任一失败返回 503
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			components[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "up"
	}

	if status != http.StatusOK {
		c.JSON(status, common.APIResponse{
			Success: false,
			Data:    gin.H{"status": "degraded", "components": components},
			Code:    common.CodeServiceUnavailable,
			Message: common.GetErrorMessage(common.CodeServiceUnavailable),
		})
		return
	}
	common.ResponseSuccess(c, gin.H{"status": "ok", "components": components})
}
