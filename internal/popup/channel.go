package popup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Page parameter names understood by the popup pages.
const (
	ParamSkappName     = "skappName"
	ParamSkappDomain   = "skappDomain"
	ParamLoginIdentity = "loginIdentity"
)

// urlParams are the page parameters that are also placed on the popup URL.
var urlParams = []string{ParamSkappName, ParamSkappDomain}

// PageConfig locates the popup pages served by the provider.
type PageConfig struct {
	BaseURL string
	Paths   map[Kind]string
	Title   string
	Width   int
	Height  int
}

// DefaultPageConfig returns the popup pages under baseURL.
func DefaultPageConfig(baseURL string) PageConfig {
	return PageConfig{
		BaseURL: baseURL,
		Paths: map[Kind]string{
			KindLogin:      "/connector/login.html",
			KindPermission: "/connector/permission.html",
		},
		Title:  "skyprovider",
		Width:  500,
		Height: 600,
	}
}

func (p PageConfig) withDefaults(origin string) PageConfig {
	defaults := DefaultPageConfig(origin)
	if p.BaseURL == "" {
		p.BaseURL = defaults.BaseURL
	}
	if len(p.Paths) == 0 {
		p.Paths = defaults.Paths
	}
	if p.Title == "" {
		p.Title = defaults.Title
	}
	if p.Width <= 0 {
		p.Width = defaults.Width
	}
	if p.Height <= 0 {
		p.Height = defaults.Height
	}
	return p
}

// Request describes a popup to open.
type Request struct {
	Session string
	// Device is the browser the host session runs in. Only that browser may answer.
	Device string
	Kind    Kind
	Params  map[string]string
	Screen  Screen
}

// Open registers a handle for req and asks opener to show the popup window. When the
// window cannot be opened the handle is released and ErrPopupBlocked is returned.
func (b *Broker) Open(ctx context.Context, opener Opener, req Request) (*Handle, error) {
	if opener == nil {
		return nil, ErrPopupBlocked
	}
	handle, token, err := b.open(req.Session, req.Device, req.Kind, req.Params)
	if err != nil {
		return nil, err
	}

	window, err := b.window(token, req)
	if err != nil {
		handle.resolve(Failed(req.Kind, err))
		return nil, err
	}

	if err := opener.OpenWindow(ctx, window); err != nil {
		handle.resolve(Failed(req.Kind, ErrPopupBlocked))
		if errors.Is(err, ErrPopupBlocked) {
			return nil, err
		}
		return nil, ErrPopupBlocked.WithInternal(err)
	}
	return handle, nil
}

func (b *Broker) window(token string, req Request) (Window, error) {
	path, ok := b.pages.Paths[req.Kind]
	if !ok {
		return Window{}, fmt.Errorf("popup broker: no page for %s popups", req.Kind)
	}
	target, err := url.Parse(strings.TrimRight(b.pages.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return Window{}, fmt.Errorf("popup broker: build popup url: %w", err)
	}

	query := target.Query()
	query.Set("token", token)
	for _, name := range urlParams {
		if value, ok := req.Params[name]; ok {
			query.Set(name, value)
		}
	}
	target.RawQuery = query.Encode()

	window := Center(req.Screen, b.pages.Width, b.pages.Height)
	window.URL = target.String()
	window.Name = b.pages.Title
	return window, nil
}

// Channel binds the broker to one host session and its window opener.
type Channel struct {
	broker  *Broker
	session string
	device  string
	opener  Opener
	screen  func() Screen
}

// Channel returns the popup channel of a host session running on device. screen may be nil.
func (b *Broker) Channel(session, device string, opener Opener, screen func() Screen) *Channel {
	return &Channel{broker: b, session: session, device: device, opener: opener, screen: screen}
}

// Open opens a popup of kind with the given page parameters.
func (c *Channel) Open(ctx context.Context, kind Kind, params map[string]string) (Pending, error) {
	req := Request{Session: c.session, Device: c.device, Kind: kind, Params: params}
	if c.screen != nil {
		req.Screen = c.screen()
	}
	handle, err := c.broker.Open(ctx, c.opener, req)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Close resolves every popup of the session as closed.
func (c *Channel) Close() {
	c.broker.CloseSession(c.session)
}
