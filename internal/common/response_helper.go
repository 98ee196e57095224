package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseSuccess 返回成功响应
func ResponseSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse(data))
}

// ResponseCreated 返回创建成功响应（201）
func ResponseCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, SuccessResponse(data))
}

// ResponseAccepted 返回已受理响应（202），用于异步任务入队
func ResponseAccepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, SuccessResponse(data))
}

// ResponseList 返回分页列表响应
func ResponseList(c *gin.Context, items any, total int64, req *PaginationRequest) {
	if req == nil {
		defaultReq := DefaultPagination()
		req = &defaultReq
	}
	c.JSON(http.StatusOK, SuccessResponse(NewListResponse(items, req.Page, req.GetPageSize(), total)))
}

// ResponseError 返回错误响应，HTTP 状态码由业务码决定
func ResponseError(c *gin.Context, code int, message string) {
	if message == "" {
		message = GetErrorMessage(code)
	}
	c.JSON(StatusForCode(code), ErrorResponse(code, message))
}

// ResponseBadRequest 返回参数错误响应
func ResponseBadRequest(c *gin.Context, message string) {
	ResponseError(c, CodeInvalidRequest, message)
}

// ResponseForbidden 返回无权限响应
func ResponseForbidden(c *gin.Context, message string) {
	ResponseError(c, CodeForbidden, message)
}

// StatusForCode 业务码对应的 HTTP 状态码，未列出的业务码按 500 处理
func StatusForCode(code int) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTenantUnresolved, CodeTokenExpired, CodeTokenInvalid, CodeDomainMismatch:
		return http.StatusUnauthorized
	case CodeForbidden, CodeNoTenantContext, CodeTenantDisabled:
		return http.StatusForbidden
	case CodeNotFound, CodeJobNotFound, CodeCredentialInactive:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
