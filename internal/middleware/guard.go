package middleware

import (
	"leadhub/internal/common"
	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireAccess 隔离守卫：在业务处理前检查租户上下文
func RequireAccess(access tenant.Access, logger *zap.Logger) gin.HandlerFunc {
	log := logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if err := tenant.Guard(c.Request.Context(), access); err != nil {
			log.Warn("isolation guard rejected request",
				append(tenant.LogFields(c.Request.Context()), zap.String("path", c.FullPath()))...,
			)
			common.AbortWithTenantError(c, err)
			return
		}
		c.Next()
	}
}

// RequireTenantContext 要求存在租户（或超级管理员）上下文
func RequireTenantContext(logger *zap.Logger) gin.HandlerFunc {
	return RequireAccess(tenant.AccessTenant, logger)
}

// RequireSuperAdmin 要求超级管理员上下文
func RequireSuperAdmin(logger *zap.Logger) gin.HandlerFunc {
	return RequireAccess(tenant.AccessSuperAdmin, logger)
}
