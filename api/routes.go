package api

import (
	"leadhub/internal/middleware"
	"leadhub/internal/resolver"
	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 注册所有路由。每个路由组只声明一种入口类型，
// 租户上下文由该入口的解析策略安装一次
func RegisterRoutes(router *gin.Engine, c *AppContainer, h *Handlers) {
	// 匿名入口：不访问租户数据
	registerAnonymousRoutes(router, h)

	// Meta webhook：凭据 ID 决定租户
	registerWebhookRoutes(router, c, h)

	// 公开组件：签名令牌决定租户
	registerPublicRoutes(router, c, h)

	// 后台 API：JWT 决定租户
	apiGroup := router.Group("/api")
	apiGroup.Use(
		middleware.InstallTenantContext(c.Resolver, resolver.Authenticated, c.Logger),
		middleware.RequireTenantContext(c.Logger),
	)
	registerAPIRoutes(apiGroup, c, h)
}

func registerAnonymousRoutes(router *gin.Engine, h *Handlers) {
	anonymous := router.Group("", middleware.RequireAccess(tenant.AccessAnonymous, nil))
	anonymous.GET("/health", h.Health.Health)
	anonymous.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func registerWebhookRoutes(router *gin.Engine, c *AppContainer, h *Handlers) {
	webhook := router.Group("/webhook/whatsapp/:" + middleware.ParamCredentialID)
	webhook.Use(
		middleware.InstallTenantContext(c.Resolver, resolver.Webhook, c.Logger),
		middleware.RequireTenantContext(c.Logger),
	)
	{
		webhook.GET("", h.Webhook.Verify)
		webhook.POST("", h.Webhook.Receive)
	}
}

func registerPublicRoutes(router *gin.Engine, c *AppContainer, h *Handlers) {
	public := router.Group("/public")
	public.Use(
		middleware.RateLimitByIP(c.RateLimiter),
		middleware.InstallTenantContext(c.Resolver, resolver.PublicToken, c.Logger),
		middleware.RequireTenantContext(c.Logger),
		middleware.RateLimitByTenant(c.RateLimiter),
	)
	{
		public.POST("/widget/messages", h.Widget.PostMessage)
	}
}

// registerAPIRoutes 注册需要认证的 API 路由
func registerAPIRoutes(apiGroup *gin.RouterGroup, c *AppContainer, h *Handlers) {
	leads := apiGroup.Group("/leads")
	{
		leads.GET("", h.Leads.List)
		leads.POST("", h.Leads.Create)
		leads.GET("/:id", h.Leads.Get)
	}

	campaigns := apiGroup.Group("/campaigns")
	{
		campaigns.GET("", h.Campaigns.List)
		campaigns.POST("", h.Campaigns.Create)
		campaigns.GET("/:id", h.Campaigns.Get)
	}

	apiGroup.POST("/widgets/:widgetId/token", h.Widget.IssueToken)
	apiGroup.POST("/mailbox/fetch", h.Mailbox.Fetch)

	// asynq 驱动下任务状态保存在 Redis，不提供查询接口
	if h.Jobs != nil {
		apiGroup.GET("/jobs/:id", h.Jobs.Get)

		admin := apiGroup.Group("/admin", middleware.RequireSuperAdmin(c.Logger))
		admin.GET("/jobs/stats", h.Jobs.Stats)
	}
}
