// Package api 组装 HTTP 入口：中间件、路由与依赖容器。
package api

import (
	"leadhub/internal/metrics"
	"leadhub/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRouter 创建 Gin 路由并注册全部入口
func SetupRouter(c *AppContainer, h *Handlers) *gin.Engine {
	if c.Config != nil && c.Config.Server.Mode != "" {
		gin.SetMode(c.Config.Server.Mode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		metrics.PrometheusMiddleware(),
		RequestLogger(c.Logger),
		CORS(c.Config.CORS),
	)
	RegisterRoutes(router, c, h)
	return router
}
