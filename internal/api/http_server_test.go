package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []models.ExportTask
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task models.ExportTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeRuns map[string][]models.ExportRun

func (f fakeRuns) GetExportRuns(_ context.Context, exportID string) ([]models.ExportRun, error) {
	return f[exportID], nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type degradedPinger struct{ fakePinger }

func (degradedPinger) Degraded() bool { return true }

func apiConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "admin-key", Name: "ops", Email: "ops@example.com"},
				{Key: "reader-key", Name: "audit", Email: "audit@example.com", Permissions: []string{permExportRead}},
			},
		},
	}
}

func newTestServer(cfg config.APIConfig, enq Enqueuer, runs fakeRuns, health Pinger) *HTTPServer {
	logger := zerolog.Nop()
	srv := NewHTTPServer(cfg, enq, runs, health, &logger)
	srv.newID = func() (string, error) { return "0190a0d2-1111-7000-8000-000000000001", nil }
	return srv
}

func doRequest(t *testing.T, h http.Handler, method, path, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueExport(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := newTestServer(apiConfig(), enq, nil, nil).Routes()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/catalog/export", "admin-key")
	require.Equal(t, http.StatusOK, rec.Code)

	var body enqueueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "queued", body.Status)
	assert.Equal(t, "0190a0d2-1111-7000-8000-000000000001", body.ExportID)
	assert.NotEmpty(t, body.Message)

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, "ops@example.com", enq.tasks[0].AdminEmail)
	assert.Equal(t, body.ExportID, enq.tasks[0].ExportID)
}

func TestEnqueueExportFailure(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	h := newTestServer(apiConfig(), enq, nil, nil).Routes()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/catalog/export", "admin-key")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body enqueueFailure
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Failed to queue catalog export", body.Message)
	assert.Contains(t, body.Error, "redis down")
}

func TestAuth(t *testing.T) {
	h := newTestServer(apiConfig(), &fakeEnqueuer{}, nil, nil).Routes()

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{name: "missing key", key: "", status: http.StatusUnauthorized},
		{name: "invalid key", key: "nope", status: http.StatusUnauthorized},
		{name: "missing permission", key: "reader-key", status: http.StatusForbidden},
		{name: "allowed", key: "admin-key", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/v1/catalog/export", tt.key)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestAuthDisabledUsesHeader(t *testing.T) {
	cfg := apiConfig()
	cfg.Auth.Enabled = false
	enq := &fakeEnqueuer{}
	h := newTestServer(cfg, enq, nil, nil).Routes()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/catalog/export", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog/export", nil)
	req.Header.Set(adminEmailHeader, "boss@example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, "boss@example.com", enq.tasks[0].AdminEmail)
}

func TestRateLimit(t *testing.T) {
	cfg := apiConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	h := newTestServer(cfg, &fakeEnqueuer{}, nil, nil).Routes()

	assert.Equal(t, http.StatusOK, doRequest(t, h, http.MethodPost, "/api/v1/catalog/export", "admin-key").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, h, http.MethodPost, "/api/v1/catalog/export", "admin-key").Code)
}

func TestGetExport(t *testing.T) {
	key := "catalog-exports/2026/10/15/catalog_export_exp-1.csv"
	runs := fakeRuns{
		"exp-1": {
			{ID: 1, ExportID: "exp-1", Attempt: 1, Status: models.StateFailed, StartedAt: time.Now()},
			{ID: 2, ExportID: "exp-1", Attempt: 2, Status: models.StateSucceeded, StorageKey: &key, Rows: 3, StartedAt: time.Now()},
		},
	}
	h := newTestServer(apiConfig(), &fakeEnqueuer{}, runs, nil).Routes()

	rec := doRequest(t, h, http.MethodGet, "/api/v1/catalog/exports/exp-1", "reader-key")
	require.Equal(t, http.StatusOK, rec.Code)

	var body exportStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, models.StateSucceeded, body.Status)
	require.Len(t, body.Runs, 2)
	require.NotNil(t, body.Runs[1].StorageKey)
	assert.Equal(t, key, *body.Runs[1].StorageKey)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/catalog/exports/unknown", "reader-key")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(apiConfig(), &fakeEnqueuer{}, nil, fakePinger{}).Routes()
	rec := doRequest(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestServer(apiConfig(), &fakeEnqueuer{}, nil, fakePinger{err: errors.New("no redis")}).Routes()
	rec = doRequest(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "no redis"))

	h = newTestServer(apiConfig(), &fakeEnqueuer{}, nil, degradedPinger{}).Routes()
	rec = doRequest(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())
}

func TestNewExportID(t *testing.T) {
	id, err := newExportID()
	require.NoError(t, err)
	assert.NoError(t, models.ExportTask{ExportID: id, AdminEmail: "a@example.com"}.Validate())
}
