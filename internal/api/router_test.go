package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/skyprovider/internal/app"
	testutil "github.com/charlesng35/skyprovider/internal/database/testutil"
)

func newTestRouter(t *testing.T, mutate func(cfg *app.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &app.Config{
		Provider: app.ProviderConfig{
			Name:          "skyprovider",
			URL:           "https://id.example.com",
			ConnectorPath: "/connector/connector.html",
			TokenSecret:   "router-test-popup-token-secret",
		},
		Keys: app.KeysConfig{Time: 1, Memory: 64, Threads: 1},
	}
	if mutate != nil {
		mutate(cfg)
	}

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	stack, err := app.NewStack(cfg, db)
	require.NoError(t, err)
	t.Cleanup(stack.Close)

	router, err := NewRouter(cfg, Services{
		DB:          db,
		Metadata:    stack.Metadata,
		Hub:         stack.Hub,
		Controllers: stack.Controllers,
		RateStore:   stack.RateStore,
	})
	require.NoError(t, err)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewRouterRequiresServices(t *testing.T) {
	_, err := NewRouter(nil, Services{})
	require.Error(t, err)

	_, err = NewRouter(&app.Config{}, Services{})
	require.ErrorContains(t, err, "database")
}

func TestRouterPublicRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	require.Equal(t, http.StatusOK, get(router, "/health").Code)
	require.Equal(t, http.StatusOK, get(router, "/api/provider/metadata").Code)
	require.Equal(t, http.StatusUnauthorized, get(router, "/popup/bogus").Code)
	require.Equal(t, http.StatusNotFound, get(router, "/metrics").Code)

	// Without an upgrade the handshake endpoint refuses the request.
	rec := get(router, "/api/provider/handshake")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Header().Get("Set-Cookie"), "skyprovider_device=")
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, func(cfg *app.Config) {
		cfg.Monitoring.Prometheus = app.PrometheusConfig{Enabled: true, Endpoint: "/internal/metrics"}
	})

	require.Equal(t, http.StatusOK, get(router, "/health").Code)

	rec := get(router, "/internal/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `skyprovider_api_latency_seconds_count{method="GET",path="/health",status="200"}`)
}

func TestRouterRateLimitsPopupEndpoints(t *testing.T) {
	router := newTestRouter(t, func(cfg *app.Config) {
		cfg.RateLimit = app.RateLimitConfig{Enabled: true, Requests: 2, Window: time.Minute}
	})

	require.Equal(t, http.StatusUnauthorized, get(router, "/popup/bogus").Code)
	require.Equal(t, http.StatusUnauthorized, get(router, "/popup/bogus").Code)
	require.Equal(t, http.StatusTooManyRequests, get(router, "/popup/bogus").Code)

	// Other routes are not limited.
	require.Equal(t, http.StatusOK, get(router, "/api/provider/metadata").Code)
}

func TestRouterServesConnectorPages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "connector.html"), []byte("<html>connector</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login.html"), []byte("<html>login</html>"), 0o600))

	router := newTestRouter(t, func(cfg *app.Config) {
		cfg.Server.ConnectorDir = dir
	})

	rec := get(router, "/connector/connector.html")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "connector")
	require.Empty(t, rec.Header().Get("X-Frame-Options"))
	require.Contains(t, rec.Header().Get("Content-Security-Policy"), "frame-ancestors *")

	rec = get(router, "/connector/login.html")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouterServesEmbeddedPopupPages(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := get(router, "/connector/login.html")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "popup.js")
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = get(router, "/connector/permission.html")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(router, "/connector/connector.html")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("X-Frame-Options"))
}
