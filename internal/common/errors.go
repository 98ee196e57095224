package common

import (
	"errors"

	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
)

// ClassifyError 将租户隔离错误映射为 HTTP 状态码与业务码
// 返回给调用方的消息只取自错误码，不包含任何租户信息
func ClassifyError(err error) (int, int) {
	code := codeForError(err)
	return StatusForCode(code), code
}

func codeForError(err error) int {
	switch {
	case errors.Is(err, tenant.ErrExpiredToken):
		return CodeTokenExpired
	case errors.Is(err, tenant.ErrInvalidSignature):
		return CodeTokenInvalid
	case errors.Is(err, tenant.ErrDomainMismatch):
		return CodeDomainMismatch
	case errors.Is(err, tenant.ErrUnresolvedTenant):
		return CodeTenantUnresolved
	case errors.Is(err, tenant.ErrInactiveCredential):
		return CodeCredentialInactive
	case errors.Is(err, tenant.ErrForbiddenNoTenantContext):
		return CodeNoTenantContext
	case errors.Is(err, tenant.ErrTenantInactive):
		return CodeTenantDisabled
	case errors.Is(err, tenant.ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternalError
	}
}

// ResponseFromError 按错误类型返回统一错误响应
func ResponseFromError(c *gin.Context, err error) {
	status, code := ClassifyError(err)
	c.JSON(status, ErrorResponse(code, GetErrorMessage(code)))
}

// AbortWithTenantError 中断请求并返回统一错误响应
func AbortWithTenantError(c *gin.Context, err error) {
	status, code := ClassifyError(err)
	c.AbortWithStatusJSON(status, ErrorResponse(code, GetErrorMessage(code)))
}
