package provider

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/skyprovider/internal/popup"
)

var testMetadata = Metadata{
	Name:                  "skyprovider",
	URL:                   "https://provider.example",
	RelativeConnectorPath: "/connector",
	ConnectorName:         "skyprovider",
	ConnectorW:            500,
	ConnectorH:            600,
}

func newTestProvider(t *testing.T, f *fixture) *Provider {
	t.Helper()
	p, err := New(Config{Metadata: testMetadata}, f.deps())
	require.NoError(t, err)
	return p
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestMetadataAvailableWhileDisconnected(t *testing.T) {
	p := newTestProvider(t, newFixture())
	require.Equal(t, StateDisconnected, p.State())
	require.Equal(t, testMetadata, p.Metadata())
}

func TestConnectSilentlyNeverOpensPopups(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
		want  bool
	}{
		{name: "nothing stored", setup: func(f *fixture) {}},
		{name: "stored login without permission", setup: func(f *fixture) {
			f.secrets.secret = "s-alice"
			f.identities.byKey["s-alice"] = "alice"
		}},
		{name: "stored denial", setup: func(f *fixture) {
			f.secrets.secret = "s-alice"
			f.identities.byKey["s-alice"] = "alice"
			f.permissions.byKey[permissionKey{"alice", "app.example"}] = PermissionDenied
		}},
		{name: "stored grant", setup: func(f *fixture) {
			f.secrets.secret = "s-alice"
			f.identities.byKey["s-alice"] = "alice"
			f.permissions.byKey[permissionKey{"alice", "app.example"}] = PermissionGranted
		}, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.popups.answer(popup.KindLogin, `{"secret":"s-alice","identity":"alice"}`)
			f.popups.answer(popup.KindPermission, `"grant"`)
			tc.setup(f)
			p := newTestProvider(t, f)

			iface, err := p.ConnectSilently(context.Background(), appSkapp)
			require.NoError(t, err)
			require.Zero(t, f.popups.openCount())
			if tc.want {
				require.Equal(t, IdentityInterface(), iface)
				require.Equal(t, StateConnected, p.State())
				require.Equal(t, "alice", p.Identity())
			} else {
				require.Nil(t, iface)
				require.Equal(t, StateDisconnected, p.State())
			}
		})
	}
}

func TestConnectSilentlyForeignSecretFails(t *testing.T) {
	f := newFixture()
	f.secrets.secret = "foreign"
	p := newTestProvider(t, f)

	_, err := p.ConnectSilently(context.Background(), appSkapp)
	require.True(t, errors.Is(err, ErrIdentityNotFound))
	require.Equal(t, StateDisconnected, p.State())
	require.Zero(t, f.popups.openCount())
}

func TestConnectSilentlyRejectsInvalidSkapp(t *testing.T) {
	p := newTestProvider(t, newFixture())

	_, err := p.ConnectSilently(context.Background(), SkappInfo{Name: "App", Domain: "not a domain"})
	require.True(t, errors.Is(err, ErrInvalidSkappInfo))
	_, err = p.ConnectSilently(context.Background(), SkappInfo{Domain: "app.example"})
	require.True(t, errors.Is(err, ErrInvalidSkappInfo))
}

func TestConnectRegistersNewUser(t *testing.T) {
	f := newFixture()
	f.popups.answer(popup.KindLogin, `{"secret":"s1","identity":""}`)
	f.popups.answer(popup.KindPermission, `"grant"`)
	p := newTestProvider(t, f)

	iface, err := p.Connect(context.Background(), appSkapp)
	require.NoError(t, err)
	require.NotNil(t, iface)
	require.Equal(t, StateConnected, p.State())
	require.NotEmpty(t, p.Identity())
	require.Equal(t, "derived-s1", p.Identity())
	require.Equal(t, 1, f.identities.lookups)
	require.Equal(t, 1, f.identities.derived)
	require.Equal(t, "s1", f.secrets.secret)
	require.Equal(t, []popup.Kind{popup.KindLogin, popup.KindPermission}, f.popups.opened)

	// The next session connects silently.
	next := newTestProvider(t, f)
	iface, err = next.ConnectSilently(context.Background(), appSkapp)
	require.NoError(t, err)
	require.NotNil(t, iface)
	require.Len(t, f.popups.opened, 2)
}

func TestConnectUsesStoredLogin(t *testing.T) {
	f := newFixture()
	f.secrets.secret = "s-alice"
	f.identities.byKey["s-alice"] = "alice"
	f.popups.answer(popup.KindPermission, `"grant"`)
	p := newTestProvider(t, f)

	_, err := p.Connect(context.Background(), appSkapp)
	require.NoError(t, err)
	require.Equal(t, []popup.Kind{popup.KindPermission}, f.popups.opened)
	require.Equal(t, PermissionGranted, f.permissions.get("alice", "app.example"))
}

func TestConnectDeniedLeavesDisconnected(t *testing.T) {
	f := newFixture()
	f.secrets.secret = "s-alice"
	f.identities.byKey["s-alice"] = "alice"
	f.popups.answer(popup.KindPermission, `"deny"`)
	p := newTestProvider(t, f)

	_, err := p.Connect(context.Background(), appSkapp)
	require.True(t, errors.Is(err, ErrPermissionDenied))
	require.False(t, errors.Is(err, ErrUserCancelled))
	require.Equal(t, StateDisconnected, p.State())
}

func TestConnectCancelledPermissionLeavesUnknown(t *testing.T) {
	f := newFixture()
	f.secrets.secret = "s-alice"
	f.identities.byKey["s-alice"] = "alice"
	f.popups.answer(popup.KindPermission, `"closed"`)
	p := newTestProvider(t, f)

	_, err := p.Connect(context.Background(), appSkapp)
	require.True(t, errors.Is(err, ErrUserCancelled))
	require.False(t, errors.Is(err, ErrPermissionDenied))
	require.Equal(t, PermissionUnknown, f.permissions.get("alice", "app.example"))
	require.Equal(t, StateDisconnected, p.State())
}

func TestConnectCancelledLogin(t *testing.T) {
	f := newFixture()
	f.popups.answer(popup.KindLogin, `"closed"`)
	p := newTestProvider(t, f)

	_, err := p.Connect(context.Background(), appSkapp)
	require.True(t, errors.Is(err, ErrUserCancelled))
	require.Equal(t, []popup.Kind{popup.KindLogin}, f.popups.opened)
	require.Empty(t, f.secrets.secret)
}

func TestConnectWithInput(t *testing.T) {
	f := newFixture()
	p := newTestProvider(t, f)

	iface, err := p.ConnectWithInput(context.Background(), ConnectionInfo{Secret: "s2", Identity: "bob"})
	require.NoError(t, err)
	require.Equal(t, IdentityInterface(), iface)
	require.Equal(t, "bob", p.Identity())
	require.Equal(t, "s2", f.secrets.secret)
	require.Zero(t, f.popups.openCount())

	_, err = p.ConnectWithInput(context.Background(), ConnectionInfo{Identity: "bob"})
	require.True(t, errors.Is(err, ErrInvalidConnectionInfo))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture()
	p := newTestProvider(t, f)
	_, err := p.ConnectWithInput(context.Background(), ConnectionInfo{Secret: "s2", Identity: "bob"})
	require.NoError(t, err)

	require.NoError(t, p.Disconnect(context.Background()))
	require.Equal(t, StateDisconnected, p.State())
	require.Empty(t, f.secrets.secret)

	require.NoError(t, p.Disconnect(context.Background()))
	require.Equal(t, StateDisconnected, p.State())
	require.Empty(t, p.Identity())
}

func TestCallInterfaceErrors(t *testing.T) {
	f := newFixture()
	p, err := New(Config{
		Methods: func(p *Provider) map[string]Method {
			return map[string]Method{
				MethodIdentity: func(context.Context) (any, error) { return p.Identity(), nil },
			}
		},
	}, f.deps())
	require.NoError(t, err)

	_, err = p.CallInterface(context.Background(), MethodIdentity)
	require.True(t, errors.Is(err, ErrNotConnected))

	_, err = p.ConnectWithInput(context.Background(), ConnectionInfo{Secret: "s2", Identity: "bob"})
	require.NoError(t, err)

	identity, err := p.CallInterface(context.Background(), MethodIdentity)
	require.NoError(t, err)
	require.Equal(t, "bob", identity)

	_, err = p.CallInterface(context.Background(), "deleteEverything")
	require.True(t, errors.Is(err, ErrMethodNotDeclared))
	require.False(t, errors.Is(err, ErrMethodNotImplemented))

	_, err = p.CallInterface(context.Background(), MethodLogout)
	require.True(t, errors.Is(err, ErrMethodNotImplemented))
	require.False(t, errors.Is(err, ErrMethodNotDeclared))
}

func TestIdentityInterfaceMethods(t *testing.T) {
	f := newFixture()
	f.popups.answer(popup.KindLogin, `{"secret":"s3","identity":"carol"}`)
	p := newTestProvider(t, f)
	_, err := p.ConnectWithInput(context.Background(), ConnectionInfo{Secret: "s2", Identity: "bob"})
	require.NoError(t, err)

	loggedIn, err := p.CallInterface(context.Background(), MethodIsLoggedIn)
	require.NoError(t, err)
	require.Equal(t, true, loggedIn)

	_, err = p.CallInterface(context.Background(), MethodLogin)
	require.NoError(t, err)
	identity, err := p.CallInterface(context.Background(), MethodIdentity)
	require.NoError(t, err)
	require.Equal(t, "carol", identity)
	require.Equal(t, "s3", f.secrets.secret)

	_, err = p.CallInterface(context.Background(), MethodLogout)
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, p.State())

	_, err = p.CallInterface(context.Background(), MethodIsLoggedIn)
	require.True(t, errors.Is(err, ErrNotConnected))
}

func TestLoginAsAnotherIdentityNeedsPermission(t *testing.T) {
	connectAsAlice := func(t *testing.T) (*fixture, *Provider) {
		f := newFixture()
		f.secrets.secret = "s-alice"
		f.identities.byKey["s-alice"] = "alice"
		f.permissions.byKey[permissionKey{"alice", "app.example"}] = PermissionGranted
		f.popups.answer(popup.KindLogin, `{"secret":"s-bob","identity":"bob"}`)
		p := newTestProvider(t, f)

		iface, err := p.ConnectSilently(context.Background(), appSkapp)
		require.NoError(t, err)
		require.NotNil(t, iface)
		require.Equal(t, "alice", p.Identity())
		return f, p
	}

	t.Run("permission popup closed", func(t *testing.T) {
		f, p := connectAsAlice(t)

		_, err := p.CallInterface(context.Background(), MethodLogin)
		require.True(t, errors.Is(err, ErrUserCancelled))
		require.Equal(t, []popup.Kind{popup.KindLogin, popup.KindPermission}, f.popups.opened)
		require.Equal(t, StateDisconnected, p.State())
		require.Empty(t, p.Identity())
		require.Equal(t, PermissionUnknown, f.permissions.get("bob", "app.example"))

		_, err = p.CallInterface(context.Background(), MethodIdentity)
		require.True(t, errors.Is(err, ErrNotConnected))
	})

	t.Run("permission denied", func(t *testing.T) {
		f, p := connectAsAlice(t)
		f.popups.answer(popup.KindPermission, `"deny"`)

		_, err := p.CallInterface(context.Background(), MethodLogin)
		require.True(t, errors.Is(err, ErrPermissionDenied))
		require.Equal(t, StateDisconnected, p.State())
		require.Equal(t, PermissionDenied, f.permissions.get("bob", "app.example"))
	})

	t.Run("permission granted", func(t *testing.T) {
		f, p := connectAsAlice(t)
		f.popups.answer(popup.KindPermission, `"grant"`)

		_, err := p.CallInterface(context.Background(), MethodLogin)
		require.NoError(t, err)
		require.Equal(t, StateConnected, p.State())
		identity, err := p.CallInterface(context.Background(), MethodIdentity)
		require.NoError(t, err)
		require.Equal(t, "bob", identity)
		require.Equal(t, PermissionGranted, f.permissions.get("bob", "app.example"))
	})
}

func TestConnectWaitsForRunningOperation(t *testing.T) {
	f := newFixture()
	p := newTestProvider(t, f)
	require.NoError(t, p.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.ConnectSilently(ctx, appSkapp)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p.release()
	_, err = p.ConnectSilently(context.Background(), appSkapp)
	require.NoError(t, err)
}

// popupAnswerer opens popups by answering them through the broker, as a popup page would.
type popupAnswerer struct {
	t           *testing.T
	controllers *popup.Controllers
	answers     map[popup.Kind]string
}

func (a *popupAnswerer) OpenWindow(_ context.Context, w popup.Window) error {
	parsed, err := url.Parse(w.URL)
	if err != nil {
		return err
	}
	token := parsed.Query().Get("token")
	go func() {
		controller, err := a.controllers.For(token)
		if err != nil {
			a.t.Errorf("controller for popup: %v", err)
			return
		}
		if _, err := controller.Page(token, "device-1"); err != nil {
			a.t.Errorf("popup page: %v", err)
			return
		}
		if _, err := controller.Submit(token, popup.Sender{Origin: "https://provider.example", Device: "device-1"}, []byte(a.answers[controller.Kind()])); err != nil {
			a.t.Errorf("popup submit: %v", err)
		}
	}()
	return nil
}

func TestConnectThroughPopupBroker(t *testing.T) {
	issuer, err := popup.NewTokenIssuer("provider-test-token-secret", time.Minute, nil)
	require.NoError(t, err)
	broker, err := popup.NewBroker(issuer, popup.BrokerConfig{Origin: "https://provider.example"})
	require.NoError(t, err)

	opener := &popupAnswerer{
		t:           t,
		controllers: popup.NewControllers(broker),
		answers: map[popup.Kind]string{
			popup.KindLogin:      `{"secret":"s1","identity":"dave"}`,
			popup.KindPermission: `"grant"`,
		},
	}

	f := newFixture()
	deps := f.deps()
	deps.Popups = broker.Channel("session-1", "device-1", opener, nil)
	p, err := New(Config{Metadata: testMetadata}, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	iface, err := p.Connect(ctx, appSkapp)
	require.NoError(t, err)
	require.NotNil(t, iface)
	require.Equal(t, "dave", p.Identity())
	require.Equal(t, PermissionGranted, f.permissions.get("dave", "app.example"))
	require.Zero(t, broker.OpenCount())
}
