package middleware

import (
	"context"
	"errors"
	"strings"

	"leadhub/internal/common"
	"leadhub/internal/resolver"
	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HTTP 头常量（租户解析）
const (
	HeaderAuthorization = "Authorization"
	HeaderWidgetToken   = "X-Widget-Token"
	HeaderOrigin        = "Origin"
	HeaderReferer       = "Referer"

	// ParamCredentialID 是 webhook 路由中携带凭证 ID 的路径参数
	ParamCredentialID = "credentialId"
	// QueryWidgetToken 是公开组件令牌的查询参数
	QueryWidgetToken = "token"
)

var errContextInstalledTwice = errors.New("middleware: tenant context already installed")

// SnapshotResolver 租户解析器抽象，便于注入 mock
type SnapshotResolver interface {
	Resolve(ctx context.Context, kind resolver.EntryPoint, req resolver.Request) (tenant.Snapshot, error)
}

// InstallTenantContext 按路由声明的入口类型解析租户，并将快照注入 context.Context。
// 每个入口只安装一次；解析失败时返回统一错误响应，不会回退到默认租户。
func InstallTenantContext(res SnapshotResolver, kind resolver.EntryPoint, logger *zap.Logger) gin.HandlerFunc {
	log := logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if _, exists := tenant.FromContext(ctx); exists {
			log.Error("tenant context installed twice",
				zap.String("path", c.FullPath()),
				zap.Stringer("entry_point", kind),
			)
			common.AbortWithTenantError(c, errContextInstalledTwice)
			return
		}

		snap, err := res.Resolve(ctx, kind, RequestFromGin(c, kind))
		if err != nil {
			log.Warn("tenant resolution failed",
				zap.String("path", c.FullPath()),
				zap.Stringer("entry_point", kind),
				zap.Error(err),
			)
			common.AbortWithTenantError(c, err)
			return
		}

		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("tenant.id", snap.TenantID),
			attribute.String("tenant.actor_id", snap.ActorID),
			attribute.Bool("tenant.super_admin", snap.IsSuperAdmin),
			attribute.String("tenant.entry_point", kind.String()),
		)

		c.Set("tenant_id", snap.TenantID)
		c.Set("user_id", snap.ActorID)
		_, _ = tenant.Install(ctx, snap, func(ctx context.Context) (struct{}, error) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return struct{}{}, nil
		})
	}
}

// RequestFromGin 只提取与入口类型对应的租户信息，其余字段保持为空
func RequestFromGin(c *gin.Context, kind resolver.EntryPoint) resolver.Request {
	switch kind {
	case resolver.Authenticated:
		return resolver.Request{BearerToken: c.GetHeader(HeaderAuthorization)}
	case resolver.Webhook:
		return resolver.Request{CredentialID: c.Param(ParamCredentialID)}
	case resolver.PublicToken:
		token := strings.TrimSpace(c.GetHeader(HeaderWidgetToken))
		if token == "" {
			token = c.Query(QueryWidgetToken)
		}
		origin := c.GetHeader(HeaderOrigin)
		if origin == "" {
			origin = c.GetHeader(HeaderReferer)
		}
		return resolver.Request{WidgetToken: token, Origin: origin}
	default:
		return resolver.Request{}
	}
}
