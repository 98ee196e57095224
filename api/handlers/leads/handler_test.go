package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"leadhub/internal/common"
	"leadhub/internal/lead"
	"leadhub/internal/tenant"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRouter(t *testing.T, snap *tenant.Snapshot) (*gin.Engine, *lead.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&lead.Lead{}))

	repo := lead.NewRepository(db)
	h := NewHandler(repo)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if snap != nil {
			c.Request = c.Request.WithContext(tenant.WithSnapshot(c.Request.Context(), *snap))
		}
		c.Next()
	})
	r.GET("/api/leads", h.List)
	r.POST("/api/leads", h.Create)
	r.GET("/api/leads/:id", h.Get)
	return r, repo
}

func seed(t *testing.T, repo *lead.Repository, tenantID, name string) *lead.Lead {
	t.Helper()
	ctx := tenant.WithSnapshot(context.Background(), tenant.Snapshot{TenantID: tenantID, ActorID: "seed"})
	l := &lead.Lead{Name: name, Email: name + "@example.com"}
	require.NoError(t, repo.Create(ctx, l))
	return l
}

func TestListReturnsOnlyCurrentTenant(t *testing.T) {
	r, repo := newRouter(t, &tenant.Snapshot{TenantID: "t1", ActorID: "u1"})
	seed(t, repo, "t1", "ada")
	seed(t, repo, "t1", "grace")
	seed(t, repo, "t2", "mallory")

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/leads?page=1&page_size=10", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data struct {
			Items      []lead.Lead `json:"items"`
			Pagination struct {
				Total int64 `json:"total"`
			} `json:"pagination"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body.Data.Pagination.Total)
	names := make([]string, 0, len(body.Data.Items))
	for _, l := range body.Data.Items {
		names = append(names, l.Name)
	}
	assert.ElementsMatch(t, []string{"ada", "grace"}, names)
}

func TestGetForeignLeadIsNotFound(t *testing.T) {
	r, repo := newRouter(t, &tenant.Snapshot{TenantID: "t1", ActorID: "u1"})
	own := seed(t, repo, "t1", "ada")
	foreign := seed(t, repo, "t2", "mallory")

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/leads/"+own.ID, nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/leads/"+foreign.ID, nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotContains(t, resp.Body.String(), "t2")

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/leads/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCreateStampsCurrentTenant(t *testing.T) {
	r, repo := newRouter(t, &tenant.Snapshot{TenantID: "t1", ActorID: "u1"})

	payload, _ := json.Marshal(map[string]string{"name": "Ada", "email": "ADA@Example.com"})
	req := httptest.NewRequest(http.MethodPost, "/api/leads", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusCreated, resp.Code)

	ctx := tenant.WithSnapshot(context.Background(), tenant.Snapshot{TenantID: "t1"})
	items, total, err := repo.List(ctx, common.ListRequest{PaginationRequest: common.DefaultPagination()})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, "ada@example.com", items[0].Email)
	assert.Equal(t, "u1", items[0].CreatedByID)
}

func TestCreateValidation(t *testing.T) {
	r, _ := newRouter(t, &tenant.Snapshot{TenantID: "t1", ActorID: "u1"})

	req := httptest.NewRequest(http.MethodPost, "/api/leads", bytes.NewReader([]byte(`{"email":"not-an-email"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateRequiresTenant(t *testing.T) {
	r, _ := newRouter(t, &tenant.Snapshot{ActorID: "root", IsSuperAdmin: true})

	req := httptest.NewRequest(http.MethodPost, "/api/leads", bytes.NewReader([]byte(`{"name":"Ada"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}
