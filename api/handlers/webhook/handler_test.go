package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"leadhub/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	lastCredential string
	lastQuery      whatsapp.ChallengeQuery
	lastBody       string
	verifyErr      error
	acceptErr      error
	jobID          string
}

func (f *fakeService) VerifyChallenge(_ context.Context, credentialID string, q whatsapp.ChallengeQuery) (string, error) {
	f.lastCredential = credentialID
	f.lastQuery = q
	if f.verifyErr != nil {
		return "", f.verifyErr
	}
	return q.Challenge, nil
}

func (f *fakeService) Accept(_ context.Context, credentialID string, body []byte) (string, error) {
	f.lastCredential = credentialID
	f.lastBody = string(body)
	return f.jobID, f.acceptErr
}

func newRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc, nil)
	r := gin.New()
	r.GET("/webhook/whatsapp/:credentialId", h.Verify)
	r.POST("/webhook/whatsapp/:credentialId", h.Receive)
	return r
}

func TestVerifyEchoesChallenge(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp/cred-1?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "12345", resp.Body.String())
	assert.Equal(t, "cred-1", svc.lastCredential)
	assert.Equal(t, whatsapp.ChallengeQuery{Mode: "subscribe", VerifyToken: "secret", Challenge: "12345"}, svc.lastQuery)
}

func TestVerifyRejected(t *testing.T) {
	r := newRouter(&fakeService{verifyErr: fmt.Errorf("token: %w", whatsapp.ErrChallengeRejected)})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/webhook/whatsapp/cred-1?hub.mode=subscribe&hub.verify_token=wrong", nil))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestReceive(t *testing.T) {
	tests := []struct {
		name       string
		svc        *fakeService
		wantStatus int
		wantBody   string
	}{
		{"queued", &fakeService{jobID: "job-1"}, http.StatusOK, `"queued":true`},
		{"nothing to process", &fakeService{}, http.StatusOK, `"queued":false`},
		{"invalid payload", &fakeService{acceptErr: whatsapp.ErrInvalidPayload}, http.StatusBadRequest, ""},
		{"enqueue failure", &fakeService{acceptErr: io.ErrUnexpectedEOF}, http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(tt.svc)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/cred-9", strings.NewReader(`{"object":"whatsapp_business_account"}`)))

			assert.Equal(t, tt.wantStatus, resp.Code)
			assert.Contains(t, resp.Body.String(), tt.wantBody)
			assert.Equal(t, "cred-9", tt.svc.lastCredential)
			assert.Equal(t, `{"object":"whatsapp_business_account"}`, tt.svc.lastBody)
		})
	}
}
