package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/skyprovider/internal/api"
	"github.com/charlesng35/skyprovider/internal/app"
	sharedtestutil "github.com/charlesng35/skyprovider/internal/database/testutil"
	"github.com/charlesng35/skyprovider/internal/middleware"
	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/pkg/response"
)

const (
	// ProviderURL is the provider origin used by handler tests.
	ProviderURL = "https://id.example.com"
	// Device is the device cookie the test browser presents.
	Device = "handler-suite-device-0001"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Config *app.Config
	Stack  *app.Stack
	Router *gin.Engine
}

// Option adjusts the configuration before the environment is built.
type Option func(cfg *app.Config)

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Provider: app.ProviderConfig{
			Name:          "skyprovider",
			URL:           ProviderURL,
			ConnectorPath: "/connector/connector.html",
			ConnectorName: "skyprovider-connector",
			Width:         500,
			Height:        600,
			StoreTimeout:  2 * time.Second,
			PopupTTL:      time.Minute,
			OpenWait:      time.Second,
			TokenSecret:   "handler-suite-popup-token-secret",
		},
		Keys: app.KeysConfig{Time: 1, Memory: 64, Threads: 1},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	stack, err := app.NewStack(cfg, db)
	require.NoError(t, err)
	t.Cleanup(stack.Close)

	router, err := api.NewRouter(cfg, api.Services{
		DB:          db,
		Metadata:    stack.Metadata,
		Hub:         stack.Hub,
		Controllers: stack.Controllers,
		RateStore:   stack.RateStore,
	})
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Config: cfg,
		Stack:  stack,
		Router: router,
	}
}

// OpenPopup opens a popup for session through the broker on behalf of Device and returns
// its handle and token.
func (e *Env) OpenPopup(session string, kind popup.Kind, params map[string]string) (*popup.Handle, string) {
	e.T.Helper()

	var opened popup.Window
	opener := popup.OpenerFunc(func(_ context.Context, w popup.Window) error {
		opened = w
		return nil
	})

	handle, err := e.Stack.Broker.Open(context.Background(), opener, popup.Request{
		Session: session,
		Device:  Device,
		Kind:    kind,
		Params:  params,
	})
	require.NoError(e.T, err)
	e.T.Cleanup(handle.Close)

	target, err := url.Parse(opened.URL)
	require.NoError(e.T, err)
	token := target.Query().Get("token")
	require.NotEmpty(e.T, token)
	return handle, token
}

// APIResponse mirrors the standard response envelope.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router from the Device browser. A
// non-nil body is JSON encoded; origin, when set, becomes the Origin header.
func (e *Env) Request(method, path string, body any, origin string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.RequestAs(method, path, body, origin, Device)
}

// RequestAs is Request with an explicit device cookie. An empty device sends no cookie.
func (e *Env) RequestAs(method, path string, body any, origin, device string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if device != "" {
		req.AddCookie(&http.Cookie{Name: middleware.DeviceCookieName, Value: device})
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
