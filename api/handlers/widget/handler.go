// Package widget 公开聊天组件接口：访客留言与组件令牌签发。
package widget

import (
	"context"
	"time"

	"leadhub/internal/common"
	"leadhub/internal/lead"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LeadWriter 按联系方式写入线索
type LeadWriter interface {
	UpsertByContact(ctx context.Context, c lead.Contact) (*lead.Lead, bool, error)
}

// TokenIssuer 组件令牌签发
type TokenIssuer interface {
	Generate(tenantID, widgetID, domain string) (string, error)
}

// Handler 组件 Handler
type Handler struct {
	leads  LeadWriter
	tokens TokenIssuer
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

// NewHandler 创建 Handler
func NewHandler(leads LeadWriter, tokens TokenIssuer, ttl time.Duration, clk clock.Clock, logger *zap.Logger) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{leads: leads, tokens: tokens, ttl: ttl, clock: clk, logger: logger}
}

// postMessageRequest 访客留言
type postMessageRequest struct {
	Name    string `json:"name" binding:"max=255"`
	Email   string `json:"email" binding:"omitempty,email"`
	Phone   string `json:"phone" binding:"omitempty,max=50"`
	Message string `json:"message" binding:"required,max=4000"`
}

// PostMessage 访客通过组件留言，按联系方式写入令牌所属租户的线索
// POST /public/widget/messages
func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, err.Error())
		return
	}
	if req.Email == "" && req.Phone == "" {
		common.ResponseBadRequest(c, "email 或 phone 至少填写一项")
		return
	}

	ctx := c.Request.Context()
	l, created, err := h.leads.UpsertByContact(ctx, lead.Contact{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Source:  lead.SourceWidget,
		Message: req.Message,
		At:      h.clock.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("widget message", append(tenant.LogFields(ctx), zap.Error(err))...)
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseCreated(c, gin.H{"leadId": l.ID, "created": created})
}

// issueTokenRequest 签发组件令牌
type issueTokenRequest struct {
	Domain string `json:"domain" binding:"max=255"`
}

// IssueToken 为当前租户的组件签发嵌入令牌
// POST /api/widgets/:widgetId/token
func (h *Handler) IssueToken(c *gin.Context) {
	snap, _ := tenant.FromContext(c.Request.Context())
	if !snap.HasTenant() {
		common.ResponseFromError(c, tenant.ErrForbiddenNoTenantContext)
		return
	}

	var req issueTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.ResponseBadRequest(c, err.Error())
			return
		}
	}

	token, err := h.tokens.Generate(snap.TenantID, c.Param("widgetId"), req.Domain)
	if err != nil {
		common.ResponseBadRequest(c, err.Error())
		return
	}
	common.ResponseCreated(c, gin.H{
		"token":     token,
		"expiresAt": h.clock.Now().Add(h.ttl).UTC(),
	})
}
