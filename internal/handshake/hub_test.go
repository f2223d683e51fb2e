package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/skyprovider/internal/cache"
	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/internal/provider"
)

const (
	testOrigin = "https://provider.example"
	testDevice = "device-1"
)

type memIdentities struct {
	mu    sync.Mutex
	byKey map[string]string
}

func (m *memIdentities) Lookup(_ context.Context, secret string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byKey[secret]
	return identity, ok, nil
}

func (m *memIdentities) Save(_ context.Context, secret, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[secret] = identity
	return nil
}

func (m *memIdentities) Derive(_ context.Context, secret string) (string, error) {
	return "derived-" + secret, nil
}

type memPermissions struct {
	mu    sync.Mutex
	byKey map[string]provider.Permission
}

func (m *memPermissions) Get(_ context.Context, info provider.ConnectionInfo, domain string) (provider.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[info.Identity+"|"+domain], nil
}

func (m *memPermissions) Set(_ context.Context, info provider.ConnectionInfo, domain string, permission provider.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[info.Identity+"|"+domain] = permission
	return nil
}

type harness struct {
	broker      *popup.Broker
	controllers *popup.Controllers
	hub         *Hub
	server      *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	issuer, err := popup.NewTokenIssuer("handshake-test-token-secret", time.Minute, nil)
	require.NoError(t, err)
	broker, err := popup.NewBroker(issuer, popup.BrokerConfig{Origin: testOrigin})
	require.NoError(t, err)

	secrets, err := cache.NewSecretStore(cache.NewMemoryStore())
	require.NoError(t, err)
	identities := &memIdentities{byKey: make(map[string]string)}
	permissions := &memPermissions{byKey: make(map[string]provider.Permission)}

	factory := func(device string, popups provider.PopupChannel) (*provider.Provider, error) {
		return provider.New(provider.Config{Metadata: provider.Metadata{Name: "skyprovider", URL: testOrigin}}, provider.Deps{
			Secrets:     secrets.ForDevice(device),
			Identities:  identities,
			Permissions: permissions,
			Popups:      popups,
		})
	}
	hub, err := NewHub(broker, factory, Config{OpenWait: time.Second})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(testDevice, w, r)
	}))
	t.Cleanup(server.Close)

	return &harness{broker: broker, controllers: popup.NewControllers(broker), hub: hub, server: server}
}

type hostClient struct {
	t    *testing.T
	conn *websocket.Conn
	next int
}

func (h *harness) dial(t *testing.T) *hostClient {
	t.Helper()
	return h.dialFrom(t, "")
}

func (h *harness) dialFrom(t *testing.T, origin string) *hostClient {
	t.Helper()
	conn, resp, err := h.dialOrigin(origin)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return &hostClient{t: t, conn: conn}
}

func (h *harness) dialOrigin(origin string) (*websocket.Conn, *http.Response, error) {
	target := "ws" + strings.TrimPrefix(h.server.URL, "http") + "?screenWidth=1200&screenHeight=900"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(target, header)
}

func (c *hostClient) call(method string, params any) string {
	c.t.Helper()
	c.next++
	frame := Frame{ID: fmt.Sprintf("call-%d", c.next), Type: FrameCall, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(c.t, err)
		frame.Params = raw
	}
	require.NoError(c.t, c.conn.WriteJSON(frame))
	return frame.ID
}

func (c *hostClient) read() Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Frame
	require.NoError(c.t, c.conn.ReadJSON(&frame))
	return frame
}

func (c *hostClient) reply(call Frame, result any) {
	c.t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(Frame{ID: call.ID, Type: FrameReply, Result: raw}))
}

// answerPopup plays the popup page: it opens the page for the window's token and submits raw.
func (h *harness) answerPopup(t *testing.T, call Frame, raw string) {
	t.Helper()
	var window popup.Window
	require.NoError(t, json.Unmarshal(call.Params, &window))
	parsed, err := url.Parse(window.URL)
	require.NoError(t, err)
	token := parsed.Query().Get("token")

	controller, err := h.controllers.For(token)
	require.NoError(t, err)
	_, err = controller.Page(token, testDevice)
	require.NoError(t, err)
	accepted, err := controller.Submit(token, popup.Sender{Origin: testOrigin, Device: testDevice}, []byte(raw))
	require.NoError(t, err)
	require.True(t, accepted)
}

func TestHandshakeMetadataAndSilentMiss(t *testing.T) {
	h := newHarness(t)
	host := h.dial(t)

	id := host.call(CallGetMetadata, nil)
	reply := host.read()
	require.Equal(t, id, reply.ID)
	require.Nil(t, reply.Error)
	var meta provider.Metadata
	require.NoError(t, json.Unmarshal(reply.Result, &meta))
	require.Equal(t, "skyprovider", meta.Name)

	id = host.call(CallConnectSilently, provider.SkappInfo{Name: "App", Domain: "app.example"})
	reply = host.read()
	require.Equal(t, id, reply.ID)
	require.Nil(t, reply.Error)
	require.Equal(t, "null", string(reply.Result))
}

func TestHandshakeInteractiveConnect(t *testing.T) {
	h := newHarness(t)
	host := h.dial(t)

	connectID := host.call(CallConnect, provider.SkappInfo{Name: "App", Domain: "app.example"})

	login := host.read()
	require.Equal(t, FrameCall, login.Type)
	require.Equal(t, CallPopupOpen, login.Method)
	var window popup.Window
	require.NoError(t, json.Unmarshal(login.Params, &window))
	require.Equal(t, 350, window.Left)
	host.reply(login, PopupOpenResult{Opened: true})
	h.answerPopup(t, login, `{"secret":"s1","identity":"alice"}`)

	permission := host.read()
	require.Equal(t, CallPopupOpen, permission.Method)
	host.reply(permission, PopupOpenResult{Opened: true})
	h.answerPopup(t, permission, `"grant"`)

	reply := host.read()
	require.Equal(t, connectID, reply.ID)
	require.Nil(t, reply.Error)
	var iface provider.Interface
	require.NoError(t, json.Unmarshal(reply.Result, &iface))
	require.Equal(t, provider.IdentityInterface(), iface)

	identityID := host.call(CallCallInterface, CallInterfaceParams{Method: provider.MethodIdentity})
	reply = host.read()
	require.Equal(t, identityID, reply.ID)
	require.JSONEq(t, `"alice"`, string(reply.Result))

	// A second host session on the same device connects silently.
	other := h.dial(t)
	other.call(CallConnectSilently, provider.SkappInfo{Name: "App", Domain: "app.example"})
	reply = other.read()
	require.Nil(t, reply.Error)
	require.NoError(t, json.Unmarshal(reply.Result, &iface))
	require.Equal(t, provider.IdentityInterface(), iface)
}

func TestHandshakeBlockedPopup(t *testing.T) {
	h := newHarness(t)
	host := h.dial(t)

	connectID := host.call(CallConnect, provider.SkappInfo{Name: "App", Domain: "app.example"})
	login := host.read()
	host.reply(login, PopupOpenResult{Opened: false})

	reply := host.read()
	require.Equal(t, connectID, reply.ID)
	require.NotNil(t, reply.Error)
	require.Equal(t, popup.ErrPopupBlocked.Code, reply.Error.Code)
	require.Zero(t, h.broker.OpenCount())
}

func TestHandshakeErrors(t *testing.T) {
	h := newHarness(t)
	host := h.dial(t)

	host.call(CallCallInterface, CallInterfaceParams{Method: provider.MethodIdentity})
	reply := host.read()
	require.Equal(t, provider.ErrNotConnected.Code, reply.Error.Code)

	host.call(CallCallInterface, CallInterfaceParams{Method: "nope"})
	reply = host.read()
	require.Equal(t, provider.ErrMethodNotDeclared.Code, reply.Error.Code)

	host.call("selfDestruct", nil)
	reply = host.read()
	require.Equal(t, ErrUnknownCall.Code, reply.Error.Code)

	host.call(CallConnectWithInput, provider.ConnectionInfo{Identity: "bob"})
	reply = host.read()
	require.Equal(t, provider.ErrInvalidConnectionInfo.Code, reply.Error.Code)
}

func TestHandshakeClosingSessionClosesPopups(t *testing.T) {
	h := newHarness(t)
	host := h.dial(t)

	host.call(CallConnect, provider.SkappInfo{Name: "App", Domain: "app.example"})
	login := host.read()
	host.reply(login, PopupOpenResult{Opened: true})
	require.Eventually(t, func() bool { return h.broker.OpenCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, host.conn.Close())
	require.Eventually(t, func() bool {
		return h.broker.OpenCount() == 0 && h.hub.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeOriginGate(t *testing.T) {
	h := newHarness(t)

	conn, resp, err := h.dialOrigin("https://evil.example")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Zero(t, h.hub.SessionCount())

	for _, origin := range []string{testOrigin, h.server.URL} {
		host := h.dialFrom(t, origin)
		host.call(CallGetMetadata, nil)
		require.Nil(t, host.read().Error)
	}
}

func TestHandshakeAllowedOrigins(t *testing.T) {
	issuer, err := popup.NewTokenIssuer("handshake-test-token-secret", time.Minute, nil)
	require.NoError(t, err)
	broker, err := popup.NewBroker(issuer, popup.BrokerConfig{Origin: testOrigin})
	require.NoError(t, err)
	factory := func(string, provider.PopupChannel) (*provider.Provider, error) {
		return nil, errors.New("unused")
	}
	hub, err := NewHub(broker, factory, Config{AllowedOrigins: []string{"https://Partner.example/"}})
	require.NoError(t, err)

	check := func(origin string) bool {
		r := httptest.NewRequest(http.MethodGet, "http://id.internal/api/provider/handshake", nil)
		r.Header.Set("Origin", origin)
		return hub.upgrader.CheckOrigin(r)
	}
	require.True(t, check(testOrigin))
	require.True(t, check("https://partner.example"))
	require.True(t, check("http://id.internal:8443"))
	require.False(t, check("https://evil.example"))
	require.False(t, check("http://localhost:3000"))
}
