package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"eventhub/internal/metrics"
)

type fakeSessions struct{ count int }

func (f fakeSessions) Count() int { return f.count }

type fakeIngress struct{ connected bool }

func (f fakeIngress) IsConnected() bool { return f.connected }

type fakeTokens struct{}

func (fakeTokens) GenerateTestToken() (string, error) { return "dev-token", nil }

func newTestServer(tokens TokenIssuer) *Server {
	return New(fakeSessions{count: 3}, fakeIngress{connected: true}, metrics.NewClientTracker(), metrics.NewSystemMetrics(), tokens)
}

func TestHealthz_ReportsSessionsAndIngress(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, float64(3), body["sessions"])
}

func TestStats_IncludesClientSnapshot(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "active")
	require.Equal(t, float64(3), body["sessions_live"])
}

func TestTokenEndpoint_DisabledWithoutIssuer(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTokenEndpoint_IssuesTokenWhenEnabled(t *testing.T) {
	srv := newTestServer(fakeTokens{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "dev-token", body["token"])
}

func TestMetricsEndpoint_ServesPrometheusFormat(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
