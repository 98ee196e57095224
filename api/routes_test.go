package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leadhub/internal/campaign"
	"leadhub/internal/common"
	"leadhub/internal/config"
	"leadhub/internal/jobs"
	"leadhub/internal/lead"
	"leadhub/internal/notification"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const inboundT1 = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "waba-1", "changes": [{"field": "messages", "value": {
    "metadata": {"phone_number_id": "pn-1"},
    "contacts": [{"wa_id": "4915112345678", "profile": {"name": "Ada"}}],
    "messages": [{"id": "wamid.1", "from": "4915112345678", "timestamp": "1772366400", "type": "text", "text": {"body": "Hello"}}]
  }}]}]
}`

type app struct {
	t         *testing.T
	container *AppContainer
	router    *gin.Engine
	clock     *clock.Mock
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Mode: gin.TestMode},
		Database: config.DatabaseConfig{AutoMigrate: true},
		Auth: config.AuthConfig{
			JWTSecret:      "jwt-secret",
			JWTIssuer:      "leadhub",
			WidgetSecret:   "widget-secret",
			WidgetTokenTTL: time.Hour,
		},
		Crypto:   config.CryptoConfig{CredentialSecret: "credential-secret"},
		Queue:    config.QueueConfig{Driver: config.QueueDriverMemory},
		Campaign: config.CampaignConfig{ScanInterval: time.Minute, BatchSize: 10},
	}
}

func newApp(t *testing.T) *app {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	c, err := InitContainer(db, nil, testConfig(), clk, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, db.Create(&tenant.Tenant{ID: id, Subdomain: id, Plan: "pro", Status: tenant.StatusActive}).Error)
	}
	require.NoError(t, c.Credentials.Create(asTenant("t1"), &tenant.WhatsAppCredential{
		ID: "cred-1", PhoneNumberID: "pn-1", AccessToken: "token-1", VerifyToken: "verify-1", IsActive: true,
	}))
	require.NoError(t, c.Credentials.Create(asTenant("t2"), &tenant.WhatsAppCredential{
		ID: "cred-2", PhoneNumberID: "pn-2", AccessToken: "token-2", VerifyToken: "verify-2", IsActive: true,
	}))

	return &app{t: t, container: c, router: SetupRouter(c, c.InitHandlers()), clock: clk}
}

func asTenant(id string) context.Context {
	return tenant.WithSnapshot(context.Background(), tenant.Snapshot{TenantID: id})
}

func (a *app) bearer(userID, tenantID string, roles ...string) string {
	pair, err := a.container.JWTService.GenerateTokenPair(userID, tenantID, roles)
	require.NoError(a.t, err)
	return "Bearer " + pair.AccessToken
}

func (a *app) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	a.router.ServeHTTP(resp, req)
	return resp
}

func (a *app) leadsOf(tenantID string) []lead.Lead {
	items, _, err := a.container.Leads.List(asTenant(tenantID), common.ListRequest{})
	require.NoError(a.t, err)
	return items
}

func TestWebhookLeadLandsInCredentialTenant(t *testing.T) {
	a := newApp(t)

	resp := a.do(http.MethodPost, "/webhook/whatsapp/cred-1", inboundT1, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	n, err := a.container.Queue.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	t1 := a.leadsOf("t1")
	require.Len(t, t1, 1)
	assert.Equal(t, "+4915112345678", t1[0].Phone)
	assert.Equal(t, lead.SourceWhatsApp, t1[0].Source)
	assert.Empty(t, a.leadsOf("t2"))

	// 同一手机号在 t2 中不可见
	list := a.do(http.MethodGet, "/api/leads", "", map[string]string{"Authorization": a.bearer("u2", "t2")})
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), `"total":0`)
}

func TestWebhookRejectsUnknownCredential(t *testing.T) {
	a := newApp(t)

	unknown := a.do(http.MethodPost, "/webhook/whatsapp/nope", inboundT1, nil)
	unknownVerify := a.do(http.MethodGet, "/webhook/whatsapp/nope?hub.mode=subscribe&hub.verify_token=verify-1&hub.challenge=1", "", nil)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
	assert.Equal(t, http.StatusNotFound, unknownVerify.Code)
	assert.NotContains(t, unknown.Body.String(), "t1")

	ok := a.do(http.MethodGet, "/webhook/whatsapp/cred-1?hub.mode=subscribe&hub.verify_token=verify-1&hub.challenge=42", "", nil)
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "42", ok.Body.String())

	// 另一租户的 verify token 不能用于本凭据
	cross := a.do(http.MethodGet, "/webhook/whatsapp/cred-1?hub.mode=subscribe&hub.verify_token=verify-2&hub.challenge=42", "", nil)
	assert.Equal(t, http.StatusForbidden, cross.Code)
}

func TestAuthenticatedEntryPoint(t *testing.T) {
	a := newApp(t)
	require.NoError(t, a.container.Leads.Create(asTenant("t1"), &lead.Lead{Name: "Ada", Email: "ada@example.com"}))

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{"own tenant", a.bearer("u1", "t1"), http.StatusOK},
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"token without tenant", a.bearer("u3", ""), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.auth != "" {
				headers["Authorization"] = tt.auth
			}
			resp := a.do(http.MethodGet, "/api/leads", "", headers)
			assert.Equal(t, tt.wantStatus, resp.Code)
		})
	}

	issued := a.bearer("u1", "t1")
	a.clock.Add(3 * time.Hour)
	expired := a.do(http.MethodGet, "/api/leads", "", map[string]string{"Authorization": issued})
	assert.Equal(t, http.StatusUnauthorized, expired.Code)
}

func TestWidgetFlow(t *testing.T) {
	a := newApp(t)

	issued := a.do(http.MethodPost, "/api/widgets/w1/token", `{"domain":"https://shop.example.com"}`,
		map[string]string{"Authorization": a.bearer("u1", "t1")})
	require.Equal(t, http.StatusCreated, issued.Code, issued.Body.String())
	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(issued.Body.Bytes(), &body))

	msg := `{"name":"Grace","email":"grace@example.com","message":"Do you ship?"}`
	resp := a.do(http.MethodPost, "/public/widget/messages", msg, map[string]string{
		"X-Widget-Token": body.Data.Token,
		"Origin":         "https://shop.example.com",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	require.Len(t, a.leadsOf("t1"), 1)
	assert.Equal(t, lead.SourceWidget, a.leadsOf("t1")[0].Source)
	assert.Empty(t, a.leadsOf("t2"))

	wrongOrigin := a.do(http.MethodPost, "/public/widget/messages", msg, map[string]string{
		"X-Widget-Token": body.Data.Token,
		"Origin":         "https://evil.example.com",
	})
	assert.Equal(t, http.StatusUnauthorized, wrongOrigin.Code)

	noToken := a.do(http.MethodPost, "/public/widget/messages", msg, nil)
	assert.Equal(t, http.StatusUnauthorized, noToken.Code)

	a.clock.Add(2 * time.Hour)
	expired := a.do(http.MethodPost, "/public/widget/messages", msg, map[string]string{"X-Widget-Token": body.Data.Token})
	assert.Equal(t, http.StatusUnauthorized, expired.Code)
	assert.Contains(t, expired.Body.String(), `"code":2001`)
}

func TestJobVisibility(t *testing.T) {
	a := newApp(t)

	queued := a.do(http.MethodPost, "/api/mailbox/fetch", "", map[string]string{"Authorization": a.bearer("u1", "t1")})
	require.Equal(t, http.StatusAccepted, queued.Code, queued.Body.String())
	var body struct {
		Data struct {
			JobID string `json:"jobId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(queued.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.JobID)

	own := a.do(http.MethodGet, "/api/jobs/"+body.Data.JobID, "", map[string]string{"Authorization": a.bearer("u1", "t1")})
	assert.Equal(t, http.StatusOK, own.Code)
	assert.Contains(t, own.Body.String(), `"tenantId":"t1"`)

	foreign := a.do(http.MethodGet, "/api/jobs/"+body.Data.JobID, "", map[string]string{"Authorization": a.bearer("u2", "t2")})
	assert.Equal(t, http.StatusNotFound, foreign.Code)

	stats := a.do(http.MethodGet, "/api/admin/jobs/stats", "", map[string]string{"Authorization": a.bearer("root", "", "super_admin")})
	assert.Equal(t, http.StatusOK, stats.Code)
	assert.Contains(t, stats.Body.String(), `"pending":1`)

	notAdmin := a.do(http.MethodGet, "/api/admin/jobs/stats", "", map[string]string{"Authorization": a.bearer("u1", "t1")})
	assert.Equal(t, http.StatusForbidden, notAdmin.Code)

	// t1 未配置邮箱，任务直接失败，不重试
	_, err := a.container.Queue.Tick(context.Background())
	require.NoError(t, err)
	job, err := a.container.Queue.GetJob(context.Background(), body.Data.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

type recordingSender struct {
	sent []string
}

func (r *recordingSender) Send(ctx context.Context, email notification.Email) error {
	s, _ := tenant.FromContext(ctx)
	r.sent = append(r.sent, s.TenantID+":"+email.To)
	return nil
}

func TestScheduledCampaignSendsUnderOwnerTenant(t *testing.T) {
	a := newApp(t)
	sender := &recordingSender{}
	campaign.NewService(a.container.Campaigns, a.container.Leads, sender, a.clock, zaptest.NewLogger(t)).
		Register(a.container.Queue)
	require.NoError(t, a.container.Leads.Create(asTenant("t1"), &lead.Lead{Name: "Ada", Email: "ada@example.com"}))
	require.NoError(t, a.container.Leads.Create(asTenant("t2"), &lead.Lead{Name: "Mallory", Email: "mallory@example.com"}))

	resp := a.do(http.MethodPost, "/api/campaigns",
		`{"name":"Spring","subject":"Hi","body":"<p>Hello {{.Name}}</p>","scheduledAt":"2026-03-01T12:30:00Z"}`,
		map[string]string{"Authorization": a.bearer("u1", "t1")})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	a.clock.Add(time.Hour)
	n, err := a.container.Scheduler.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = a.container.Queue.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"t1:ada@example.com"}, sender.sent)
}

func TestHealthAndMetricsAreAnonymous(t *testing.T) {
	a := newApp(t)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", "", nil).Code)
	metrics := a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "leadhub_")
}
