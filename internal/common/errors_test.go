package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   int
	}{
		{tenant.ErrExpiredToken, http.StatusUnauthorized, CodeTokenExpired},
		{tenant.ErrInvalidSignature, http.StatusUnauthorized, CodeTokenInvalid},
		{tenant.ErrDomainMismatch, http.StatusUnauthorized, CodeDomainMismatch},
		{fmt.Errorf("%w: jwt expired", tenant.ErrUnresolvedTenant), http.StatusUnauthorized, CodeTenantUnresolved},
		{tenant.ErrInactiveCredential, http.StatusNotFound, CodeCredentialInactive},
		{tenant.ErrForbiddenNoTenantContext, http.StatusForbidden, CodeNoTenantContext},
		{fmt.Errorf("%w: suspended", tenant.ErrTenantInactive), http.StatusForbidden, CodeTenantDisabled},
		{tenant.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{tenant.ErrMissingTenantFilter, http.StatusInternalServerError, CodeInternalError},
		{errors.New("connection refused"), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := ClassifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestAbortWithTenantErrorHidesDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		AbortWithTenantError(c, fmt.Errorf("credential of tenant T1: %w", tenant.ErrInactiveCredential))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "T1")

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, CodeCredentialInactive, body.Code)
	assert.Equal(t, ErrorMessages[CodeCredentialInactive], body.Message)
}

func TestResponseErrorUsesCodeStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := map[int]int{
		CodeInvalidRequest:     http.StatusBadRequest,
		CodeTokenExpired:       http.StatusUnauthorized,
		CodeTenantDisabled:     http.StatusForbidden,
		CodeJobNotFound:        http.StatusNotFound,
		CodeRateLimited:        http.StatusTooManyRequests,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		9999:                   http.StatusInternalServerError,
	}
	for code, want := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		ResponseError(c, code, "")

		assert.Equal(t, want, w.Code, code)
		var body APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, code, body.Code)
		assert.Equal(t, GetErrorMessage(code), body.Message)
	}
}

func TestResponseListPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ResponseList(c, []string{"a", "b"}, 41, &PaginationRequest{Page: 2, PageSize: 20})

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data ListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, PaginationMeta{Page: 2, PageSize: 20, Total: 41, TotalPages: 3}, body.Data.Pagination)
}
