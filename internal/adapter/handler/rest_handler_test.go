package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/guardian/internal/adapter/exporter"
	"github.com/hive-corporation/guardian/internal/adapter/repository"
	"github.com/hive-corporation/guardian/internal/adapter/sysinfo"
	"github.com/hive-corporation/guardian/internal/core/domain"
	"github.com/hive-corporation/guardian/internal/core/service"
)

const testToken = "local-secret"

type stubSource struct {
	events []domain.RawEvent
	err    error
}

func (s *stubSource) FetchEvents(context.Context) ([]domain.RawEvent, int, error) {
	return s.events, 0, s.err
}

type stubChecker struct{}

func (stubChecker) ManagerStatus(context.Context) (domain.ServiceHealth, error) {
	h := domain.ServiceHealth{}
	for _, svc := range domain.CriticalServices {
		h[svc] = "running"
	}
	return h, nil
}

type stubIncidents struct{}

func (stubIncidents) FetchIncidents(context.Context) ([]domain.Incident, error) {
	return []domain.Incident{
		{Date: "2024-05-01 10:00", Type: "Ransomware", Action: "Host isolated"},
		{Date: "2024-05-01 11:00", Type: "Mass deletion", Action: "Alert sent"},
	}, nil
}

func (stubIncidents) Reset(domain.WorkflowSettings) {}

type stubSystem struct{}

func (stubSystem) Collect(context.Context) (sysinfo.Snapshot, error) {
	return sysinfo.Snapshot{CPUPercent: 1.5, MemoryRSSMB: 42}, nil
}

type fixture struct {
	server  *httptest.Server
	console *service.Console
	source  *stubSource
	dir     string
}

func sampleEvents() []domain.RawEvent {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return []domain.RawEvent{
		{FilePath: `C:\data\notes.txt`, EventType: domain.EventCreated, OccurredAt: base},
		{FilePath: `C:\Users\bob\Documents\q1.xlsx.locked`, EventType: domain.EventCreated, OccurredAt: base.Add(time.Minute)},
		{FilePath: `C:\Users\bob\Desktop\README_RANSOM.txt`, EventType: domain.EventCreated, OccurredAt: base.Add(2 * time.Minute)},
	}
}

func newFixture(t *testing.T, validate ConnectionValidator) *fixture {
	t.Helper()
	dir := t.TempDir()

	store := repository.NewCredentialsFile(filepath.Join(dir, "guardian_config.json"))
	hub, err := service.LoadConfigHub(store, nil)
	require.NoError(t, err)

	acks := repository.NewAckFile(filepath.Join(dir, "acknowledged_alerts.txt"), nil)
	require.NoError(t, acks.LoadFromDisk())

	source := &stubSource{events: sampleEvents()}
	alerts := service.NewAlertService(source, acks, hub, time.Hour, nil)
	dashboard := service.NewDashboardService(alerts, stubChecker{}, time.Minute, nil)
	incidents := service.NewIncidentService(stubIncidents{}, domain.WorkflowSettings{}, nil)

	console := service.NewConsole(service.ConsoleDeps{
		Hub:       hub,
		Alerts:    alerts,
		Dashboard: dashboard,
		Incidents: incidents,
	}, nil)
	require.NoError(t, alerts.Refresh(context.Background()))

	h := NewRestHandler(console, exporter.NewCEFExporter(nil, alerts, ""), stubSystem{}, validate, nil)
	server := httptest.NewServer(NewRouter(h, RouterConfig{AuthToken: testToken}))
	t.Cleanup(server.Close)

	return &fixture{server: server, console: console, source: source, dir: dir}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestRouter_AuthSkipsHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.server.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/api/v1/alerts")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_RateLimit(t *testing.T) {
	h := NewRestHandler(nil, nil, nil, nil, nil)
	router := NewRouter(h, RouterConfig{RateLimit: 0.001, RateBurst: 2})

	codes := []int{}
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/system", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusTooManyRequests}, codes)
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["count"])

	_, body = f.do(t, http.MethodGet, "/api/v1/alerts?severity=high", "")
	assert.Equal(t, float64(2), body["count"])
}

func TestAcknowledgeAlert(t *testing.T) {
	f := newFixture(t, nil)
	target := f.console.GetAlerts()[0]

	resp, body := f.do(t, http.MethodPost, "/api/v1/alerts/"+target.Identity+"/ack", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["persisted"])
	assert.Len(t, f.console.GetAlerts(), 2)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/alerts/not-a-uuid/ack", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/alerts/"+domain.AlertIdentity(time.Now(), "nowhere")+"/ack", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefreshAlerts_ReportsErrorKind(t *testing.T) {
	f := newFixture(t, nil)
	f.source.err = &domain.AuthError{StatusCode: 401}

	resp, body := f.do(t, http.MethodPost, "/api/v1/alerts/refresh", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "auth", body["kind"])

	f.source.err = domain.ErrNotConfigured
	resp, body = f.do(t, http.MethodPost, "/api/v1/alerts/refresh", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_configured", body["kind"])
}

func TestAlertFeed(t *testing.T) {
	f := newFixture(t, nil)

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/alerts/feed?format=cef&since=87600h", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sb bytes.Buffer
	_, err = sb.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(sb.String(), "CEF:0|Guardian|"))

	resp2, _ := f.do(t, http.MethodGet, "/api/v1/alerts/feed?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestDashboardAndSystem(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["active_threats"])
	assert.Equal(t, "Secure", body["system_status"])

	resp, body = f.do(t, http.MethodGet, "/api/v1/system", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 42.0, body["memory_rss_mb"])
}

func TestConfigEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPut, "/api/v1/config",
		`{"url":"wazuh.local","username":"analyst","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := body["config"].(map[string]interface{})
	assert.Equal(t, true, cfg["isConfigured"])
	assert.Equal(t, true, cfg["hasPassword"])
	assert.NotContains(t, cfg, "password")

	// An empty password keeps the stored one.
	_, body = f.do(t, http.MethodPut, "/api/v1/config", `{"username":"lead","password":""}`)
	cfg = body["config"].(map[string]interface{})
	assert.Equal(t, "lead", cfg["username"])
	assert.Equal(t, "s3cret", f.console.Hub.Get().Secret)

	resp, body = f.do(t, http.MethodPut, "/api/v1/config", `{"url":"ftp://bad"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "url", body["field"])

	resp, body = f.do(t, http.MethodPost, "/api/v1/config/paths", `{"path":"C:\\Finance"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["added"])

	resp, _ = f.do(t, http.MethodPost, "/api/v1/config/paths", `{"path":"C:\\Finance"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/config/paths?path=C:%5CFinance", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/config/paths?path=missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/v1/config/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg = body["config"].(map[string]interface{})
	assert.Equal(t, false, cfg["isConfigured"])
}

func TestValidateConfig(t *testing.T) {
	var got domain.Credentials
	f := newFixture(t, func(_ context.Context, c domain.Credentials) error {
		got = c
		if c.Secret != "right" {
			return &domain.AuthError{StatusCode: 401}
		}
		return c.Validate()
	})

	_, body := f.do(t, http.MethodPost, "/api/v1/config/validate",
		`{"url":"wazuh.local","username":"analyst","password":"wrong"}`)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "auth", body["kind"])
	assert.Equal(t, "wazuh.local", got.Endpoint)

	resp, body := f.do(t, http.MethodPost, "/api/v1/config/validate",
		`{"url":"wazuh.local","username":"analyst","password":"right"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])

	// Validation never saves.
	assert.False(t, f.console.Hub.Get().IsConfigured)
}

func TestIncidentEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/api/v1/incidents/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])

	_, body = f.do(t, http.MethodGet, "/api/v1/incidents?field=Incident&value=ransom", "")
	assert.Equal(t, float64(1), body["count"])
}
