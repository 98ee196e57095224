package api

import (
	"slices"
	"strings"
	"time"

	"leadhub/internal/config"
	"leadhub/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var defaultAllowedHeaders = []string{
	"Content-Type", "Content-Length", "Accept-Encoding", "Authorization",
	"Accept", "Origin", "Cache-Control", "X-Requested-With", "X-Request-ID", "X-Widget-Token",
}

// RequestLogger 请求日志中间件，租户字段在租户上下文安装后才可用
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Enrich(c.Request.Context(), base).Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// CORS 跨域中间件。未配置 allowed_origins 时允许任意来源但不携带凭据，
// 公开组件嵌在第三方站点上，同样依赖此行为
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultAllowedHeaders
	}
	allowHeaders := strings.Join(headers, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(cfg.AllowedOrigins) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(cfg.AllowedOrigins, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
