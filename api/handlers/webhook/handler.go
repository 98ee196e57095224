package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"leadhub/internal/common"
	"leadhub/internal/middleware"
	"leadhub/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxBodyBytes webhook 请求体上限
const maxBodyBytes = 1 << 20

// Service WhatsApp webhook 处理
type Service interface {
	VerifyChallenge(ctx context.Context, credentialID string, q whatsapp.ChallengeQuery) (string, error)
	Accept(ctx context.Context, credentialID string, body []byte) (string, error)
}

// Handler WhatsApp webhook Handler
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler 创建 Handler
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Verify Meta 订阅握手，成功时原样返回 hub.challenge
// GET /webhook/whatsapp/:credentialId
func (h *Handler) Verify(c *gin.Context) {
	var q whatsapp.ChallengeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		common.ResponseBadRequest(c, common.GetErrorMessage(common.CodeInvalidRequest))
		return
	}
	challenge, err := h.svc.VerifyChallenge(c.Request.Context(), c.Param(middleware.ParamCredentialID), q)
	if err != nil {
		if errors.Is(err, whatsapp.ErrChallengeRejected) {
			common.ResponseForbidden(c, common.GetErrorMessage(common.CodeForbidden))
			return
		}
		common.ResponseFromError(c, err)
		return
	}
	c.String(http.StatusOK, challenge)
}

// Receive 接收入站消息并入队，快速返回 200 以免 Meta 重投
// POST /webhook/whatsapp/:credentialId
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		common.ResponseBadRequest(c, common.GetErrorMessage(common.CodeInvalidRequest))
		return
	}
	jobID, err := h.svc.Accept(c.Request.Context(), c.Param(middleware.ParamCredentialID), body)
	if err != nil {
		if errors.Is(err, whatsapp.ErrInvalidPayload) {
			common.ResponseBadRequest(c, common.GetErrorMessage(common.CodeInvalidRequest))
			return
		}
		h.logger.Error("accept whatsapp webhook", zap.Error(err))
		common.ResponseFromError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.SuccessResponse(gin.H{"queued": jobID != ""}))
}
