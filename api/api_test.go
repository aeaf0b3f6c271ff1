package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

type mockOrchestrator struct {
	err error

	deploys   []models.DeployApplicationRequest
	rollbacks []models.RollbackRequest
	removals  []models.RemoveDeploymentRequest
	dns       []models.DnsRequest
}

func (m *mockOrchestrator) DeployApplication(ctx context.Context, req models.DeployApplicationRequest) (*models.DeploymentResult, error) {
	m.deploys = append(m.deploys, req)
	if m.err != nil {
		return nil, m.err
	}
	return &models.DeploymentResult{
		DeploymentID:      "dep-1",
		Status:            models.StatusDeployed,
		AppPlaneURL:       "https://" + req.TenantKey + ".app.example.com",
		Resources:         []models.ResourceData{},
		Version:           req.ImageTag,
		HealthCheckPassed: true,
	}, nil
}

func (m *mockOrchestrator) RollbackDeployment(ctx context.Context, req models.RollbackRequest) error {
	m.rollbacks = append(m.rollbacks, req)
	return m.err
}

func (m *mockOrchestrator) RemoveDeployment(ctx context.Context, req models.RemoveDeploymentRequest) error {
	m.removals = append(m.removals, req)
	return m.err
}

func (m *mockOrchestrator) ConfigureDns(ctx context.Context, req models.DnsRequest) (*models.DnsResult, error) {
	m.dns = append(m.dns, req)
	if m.err != nil {
		return nil, m.err
	}
	return &models.DnsResult{Configured: true, Records: []models.DnsRecord{
		{Domain: req.Domains[0], RecordType: "CNAME", Value: req.TargetEndpoint, TTL: 300},
	}}, nil
}

type mockTagLister struct {
	tags  []string
	err   error
	repo  string
	limit int
}

func (m *mockTagLister) ListTags(ctx context.Context, repository string, limit int) ([]string, error) {
	m.repo, m.limit = repository, limit
	return m.tags, m.err
}

type testServer struct {
	*Server
	orchestrator *mockOrchestrator
	tags         *mockTagLister
	db           *db.Database
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tenant_orchestrator_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	cfg := &config.Config{
		Server: config.ServerConfig{
			APIKeys: []config.APIKey{
				{Name: "test", Key: "test-api-key"},
			},
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	orchestrator := &mockOrchestrator{}
	tags := &mockTagLister{}
	server := &Server{
		config:       cfg,
		orchestrator: orchestrator,
		history:      database,
		tags:         tags,
		gatherer:     reg,
		log:          zap.NewNop(),
		router:       gin.New(),
	}
	server.setupRoutes()

	return &testServer{Server: server, orchestrator: orchestrator, tags: tags, db: database}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-api-key")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
	}{
		{
			name:           "valid API key",
			authHeader:     "Bearer test-api-key",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid API key",
			authHeader:     "Bearer invalid-api-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing authorization header",
			authHeader:     "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "malformed authorization header",
			authHeader:     "Invalid format",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/api/v1/activities/remove-deployment", bytes.NewBufferString("{}"))
			req.Header.Set("Content-Type", "application/json")
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestHandleDeployApplication(t *testing.T) {
	body := models.DeployApplicationRequest{
		TenantID:  "tenant-1",
		TenantKey: "acme",
		Tier:      models.TierSilo,
		ImageTag:  "v2",
		Config:    map[string]interface{}{"theme": "dark"},
	}

	t.Run("success", func(t *testing.T) {
		server := setupTestServer(t)

		w := server.do("POST", "/api/v1/activities/deploy-application", body)
		require.Equal(t, http.StatusOK, w.Code)

		var result models.DeploymentResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "dep-1", result.DeploymentID)
		assert.Equal(t, "v2", result.Version)

		require.Len(t, server.orchestrator.deploys, 1)
		assert.Equal(t, models.TierSilo, server.orchestrator.deploys[0].Tier)
		assert.Equal(t, "dark", server.orchestrator.deploys[0].Config["theme"])
	})

	errorTests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "validation",
			err:            models.ValidationErrors{{Field: "tenantKey", Message: "must be a DNS label"}},
			expectedStatus: http.StatusBadRequest,
			expectedKind:   models.KindValidation,
		},
		{
			name:           "resource not found",
			err:            &models.ActivityError{Activity: "DeployApplication", TenantID: "tenant-1", Err: &models.ResourceNotFoundError{Resource: "service", Name: "acme-cluster/acme-service"}},
			expectedStatus: http.StatusNotFound,
			expectedKind:   models.KindResourceNotFound,
		},
		{
			name:           "timeout",
			err:            &models.TimeoutError{Operation: "stabilization", Attempts: 60, Elapsed: 10 * time.Minute},
			expectedStatus: http.StatusGatewayTimeout,
			expectedKind:   models.KindTimeout,
		},
		{
			name:           "service unavailable",
			err:            &models.ServiceUnavailableError{Message: "deployment failed", Err: errors.New("throttled")},
			expectedStatus: http.StatusServiceUnavailable,
			expectedKind:   models.KindServiceUnavailable,
		},
		{
			name:           "internal",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedKind:   models.KindInternal,
		},
	}

	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t)
			server.orchestrator.err = tt.err

			w := server.do("POST", "/api/v1/activities/deploy-application", body)
			assert.Equal(t, tt.expectedStatus, w.Code)

			var response models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.expectedKind, response.Kind)
			assert.NotEmpty(t, response.Error)
		})
	}

	t.Run("invalid body", func(t *testing.T) {
		server := setupTestServer(t)

		w := server.do("POST", "/api/v1/activities/deploy-application", "{not json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, server.orchestrator.deploys)

		var response models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Invalid request body", response.Error)
		assert.Equal(t, models.KindValidation, response.Kind)
	})
}

func TestHandleRollbackDeployment(t *testing.T) {
	server := setupTestServer(t)

	w := server.do("POST", "/api/v1/activities/rollback-deployment", models.RollbackRequest{TenantID: "tenant-1", DeploymentID: "dep-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.RollbackRequest{{TenantID: "tenant-1", DeploymentID: "dep-1"}}, server.orchestrator.rollbacks)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, models.DeploymentRolledBack, response["status"])

	server.orchestrator.err = &models.ResourceNotFoundError{Resource: "deployment", Name: "dep-2"}
	w = server.do("POST", "/api/v1/activities/rollback-deployment", models.RollbackRequest{TenantID: "tenant-1", DeploymentID: "dep-2"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRemoveDeployment(t *testing.T) {
	server := setupTestServer(t)

	w := server.do("POST", "/api/v1/activities/remove-deployment", models.RemoveDeploymentRequest{TenantID: "tenant-2", TenantKey: "globex", Tier: models.TierPooled})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, server.orchestrator.removals, 1)
	assert.Equal(t, models.TierPooled, server.orchestrator.removals[0].Tier)
}

func TestHandleConfigureDns(t *testing.T) {
	server := setupTestServer(t)

	w := server.do("POST", "/api/v1/activities/configure-dns", models.DnsRequest{
		TenantID:       "tenant-1",
		TenantKey:      "acme",
		Domains:        []string{"acme.example.com"},
		TargetEndpoint: "lb.example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result models.DnsResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Configured)
	assert.Equal(t, "acme.example.com", result.Records[0].Domain)
	assert.Equal(t, int64(300), result.Records[0].TTL)
}

func TestHandleGetDeployments(t *testing.T) {
	server := setupTestServer(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []string{models.DeploymentDeployed, models.DeploymentDeployed, models.DeploymentFailed} {
		require.NoError(t, server.db.CreateDeployment(ctx, &models.Deployment{
			ID:         []string{"dep-1", "dep-2", "dep-3"}[i],
			TenantID:   "tenant-1",
			TenantKey:  "acme",
			Tier:       models.TierSilo,
			ImageTag:   "v1",
			Status:     status,
			Type:       models.DeploymentTypeDeploy,
			DeployedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	w := server.do("GET", "/api/v1/tenants/tenant-1/deployments?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Current     *models.Deployment  `json:"current"`
		Deployments []models.Deployment `json:"deployments"`
		Total       int                 `json:"total"`
		Limit       int                 `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 3, response.Total)
	assert.Equal(t, 2, response.Limit)
	require.Len(t, response.Deployments, 2)
	assert.Equal(t, "dep-3", response.Deployments[0].ID)
	require.NotNil(t, response.Current)
	assert.Equal(t, "dep-2", response.Current.ID)

	w = server.do("GET", "/api/v1/tenants/unknown/deployments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deployments":[]`)
	assert.Contains(t, w.Body.String(), `"current":null`)
}

func TestHandleGetDeployment(t *testing.T) {
	server := setupTestServer(t)
	ctx := context.Background()

	require.NoError(t, server.db.CreateDeployment(ctx, &models.Deployment{
		ID:         "dep-1",
		TenantID:   "tenant-1",
		TenantKey:  "acme",
		Tier:       models.TierBridge,
		Status:     models.DeploymentDeployed,
		Type:       models.DeploymentTypeDeploy,
		DeployedAt: time.Now().UTC(),
	}))
	require.NoError(t, server.db.AddEvent(ctx, "dep-1", "started", ""))
	require.NoError(t, server.db.AddEvent(ctx, "dep-1", "deployed", ""))

	w := server.do("GET", "/api/v1/deployments/dep-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Deployment models.Deployment        `json:"deployment"`
		Events     []models.DeploymentEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, models.TierBridge, response.Deployment.Tier)
	require.Len(t, response.Events, 2)
	assert.Equal(t, "started", response.Events[0].EventType)

	w = server.do("GET", "/api/v1/deployments/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var errResponse models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResponse))
	assert.Equal(t, models.KindResourceNotFound, errResponse.Kind)
}

func TestHandleListTags(t *testing.T) {
	server := setupTestServer(t)
	server.tags.tags = []string{"v3", "v2"}

	w := server.do("GET", "/api/v1/images/tags?repository=ghcr.io/acme/app&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"repository":"ghcr.io/acme/app","tags":["v3","v2"]}`, w.Body.String())
	assert.Equal(t, "ghcr.io/acme/app", server.tags.repo)
	assert.Equal(t, 2, server.tags.limit)

	server.tags.tags = nil
	w = server.do("GET", "/api/v1/images/tags?repository=ghcr.io/acme/empty", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tags":[]`)
	assert.Equal(t, 10, server.tags.limit)

	w = server.do("GET", "/api/v1/images/tags", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, server.orchestrator.deploys)

	server.tags.err = errors.New("connection refused")
	w = server.do("GET", "/api/v1/images/tags?repository=ghcr.io/acme/app", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var errResponse models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResponse))
	assert.Equal(t, models.KindServiceUnavailable, errResponse.Kind)
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	assert.True(t, response.DatabaseAccessible)

	require.NoError(t, server.db.Close())
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "degraded", response.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t)

	req, _ := http.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_orchestrator_test_total 1")
}

func TestStatusCode(t *testing.T) {
	tests := map[string]int{
		models.KindValidation:         http.StatusBadRequest,
		models.KindResourceNotFound:   http.StatusNotFound,
		models.KindTimeout:            http.StatusGatewayTimeout,
		models.KindServiceUnavailable: http.StatusServiceUnavailable,
		models.KindCancelled:          http.StatusServiceUnavailable,
		models.KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusCode(kind), kind)
	}
}
