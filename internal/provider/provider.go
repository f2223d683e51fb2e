package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/pkg/logger"
	"github.com/charlesng35/skyprovider/pkg/metrics"
)

// Config configures a Provider.
type Config struct {
	Metadata     Metadata
	Interface    Interface
	StoreTimeout time.Duration
	// Methods binds the interface methods. When nil the identity provider methods are bound.
	Methods func(p *Provider) map[string]Method
	Logger  *zap.Logger
}

// Deps are the collaborators of a Provider.
type Deps struct {
	Secrets     SecretStore
	Identities  IdentityStore
	Permissions PermissionStore
	// Popups may be nil for providers that can only connect silently or with input.
	Popups PopupChannel
}

// Provider is the connection state machine one host session talks to. State-changing
// operations are serialized; a second connect waits for the first to finish.
type Provider struct {
	meta        Metadata
	connection  *ConnectionFlow
	permissions *PermissionFlow
	popups      PopupChannel
	dispatcher  *Dispatcher
	log         *zap.Logger

	ops chan struct{}

	mu    sync.RWMutex
	state State
	info  *ConnectionInfo
	skapp *SkappInfo
}

// New constructs a Provider in the disconnected state.
func New(cfg Config, deps Deps) (*Provider, error) {
	if deps.Secrets == nil || deps.Identities == nil || deps.Permissions == nil {
		return nil, errors.New("provider: secret, identity and permission stores are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.WithModule("provider")
	}
	declared := cfg.Interface
	if declared == nil {
		declared = IdentityInterface()
	}

	p := &Provider{
		meta:        cfg.Metadata,
		connection:  NewConnectionFlow(deps.Secrets, deps.Identities, cfg.StoreTimeout, log),
		permissions: NewPermissionFlow(deps.Permissions, cfg.StoreTimeout, log),
		popups:      deps.Popups,
		log:         log,
		ops:         make(chan struct{}, 1),
		state:       StateDisconnected,
	}

	bind := cfg.Methods
	if bind == nil {
		bind = identityMethods
	}
	p.dispatcher = NewDispatcher(declared, bind(p))
	return p, nil
}

func (p *Provider) acquire(ctx context.Context) error {
	select {
	case p.ops <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) release() {
	<-p.ops
}

// Metadata returns the provider metadata. It is available in every state.
func (p *Provider) Metadata() Metadata {
	return p.meta
}

// Interface returns the declared capability interface.
func (p *Provider) Interface() Interface {
	return p.dispatcher.Interface()
}

// State returns the current connection state.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Identity returns the connected identity, or "" when disconnected.
func (p *Provider) Identity() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != StateConnected || p.info == nil {
		return ""
	}
	return p.info.Identity
}

func (p *Provider) setState(state State) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous := p.state
	p.state = state
	return previous
}

func (p *Provider) connected(info ConnectionInfo, skapp *SkappInfo) {
	p.mu.Lock()
	p.state = StateConnected
	p.info = &info
	p.skapp = skapp
	p.mu.Unlock()
	p.log.Info("provider connected", zap.String("identity", info.Identity))
}

func (p *Provider) disconnected() {
	p.mu.Lock()
	p.state = StateDisconnected
	p.info = nil
	p.skapp = nil
	p.mu.Unlock()
}

// ConnectSilently connects using only stored state. It never opens a popup. A nil
// interface with a nil error is a miss: no stored login, or no stored grant for skapp.
// A miss or a failure leaves the state as it was.
func (p *Provider) ConnectSilently(ctx context.Context, skapp SkappInfo) (Interface, error) {
	if err := skapp.Validate(); err != nil {
		return nil, err
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	previous := p.setState(StateConnectingSilent)
	restore := func() { p.setState(previous) }

	info, err := p.connection.FetchStored(ctx)
	if err != nil {
		restore()
		metrics.ConnectAttempts.WithLabelValues("silent", "error").Inc()
		return nil, err
	}
	if info == nil {
		restore()
		metrics.ConnectAttempts.WithLabelValues("silent", "miss").Inc()
		return nil, nil
	}

	permission, err := p.permissions.Check(ctx, *info, skapp)
	if err != nil {
		restore()
		metrics.ConnectAttempts.WithLabelValues("silent", "error").Inc()
		return nil, err
	}
	if permission != PermissionGranted {
		restore()
		metrics.ConnectAttempts.WithLabelValues("silent", "miss").Inc()
		p.log.Debug("silent connect missed", zap.String("domain", skapp.Domain), zap.Stringer("permission", permission))
		return nil, nil
	}

	p.connected(*info, &skapp)
	metrics.ConnectAttempts.WithLabelValues("silent", "connected").Inc()
	return p.Interface(), nil
}

// Connect connects interactively: it uses the stored login or the login popup, then the
// stored permission or the permission popup. Any failure leaves the provider
// disconnected.
func (p *Provider) Connect(ctx context.Context, skapp SkappInfo) (Interface, error) {
	if err := skapp.Validate(); err != nil {
		return nil, err
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	p.setState(StateConnectingInteractive)
	iface, err := p.connectInteractive(ctx, skapp)
	if err != nil {
		p.disconnected()
		metrics.ConnectAttempts.WithLabelValues("interactive", resultLabel(err)).Inc()
		p.log.Info("interactive connect failed", zap.String("domain", skapp.Domain), zap.Error(err))
		return nil, err
	}
	metrics.ConnectAttempts.WithLabelValues("interactive", "connected").Inc()
	return iface, nil
}

func (p *Provider) connectInteractive(ctx context.Context, skapp SkappInfo) (Interface, error) {
	info, err := p.connection.FetchStored(ctx)
	if err != nil {
		return nil, err
	}
	if info == nil {
		login, err := p.connection.Login(ctx, p.popups)
		if err != nil {
			return nil, err
		}
		info = &login
	}

	granted, err := p.permissions.Resolve(ctx, *info, skapp, p.popups)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, ErrPermissionDenied
	}

	p.connected(*info, &skapp)
	return p.Interface(), nil
}

// ConnectWithInput connects with connection info the host obtained from an interactive
// login. The info is saved before the provider becomes connected; a failed save leaves
// the provider disconnected.
func (p *Provider) ConnectWithInput(ctx context.Context, info ConnectionInfo) (Interface, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	p.setState(StateConnectingInteractive)
	saved, err := p.connection.Save(ctx, info)
	if err != nil {
		p.disconnected()
		metrics.ConnectAttempts.WithLabelValues("input", resultLabel(err)).Inc()
		return nil, err
	}

	p.connected(saved, nil)
	metrics.ConnectAttempts.WithLabelValues("input", "connected").Inc()
	return p.Interface(), nil
}

// Disconnect clears the stored login and disconnects. Disconnecting twice is a no-op.
func (p *Provider) Disconnect(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	err := p.connection.Clear(ctx)
	if p.State() != StateDisconnected {
		p.log.Info("provider disconnected")
	}
	p.disconnected()
	return err
}

// CallInterface runs a declared interface method. An undeclared name, a call while
// disconnected, and a declared name without a binding each fail with their own error.
func (p *Provider) CallInterface(ctx context.Context, method string) (any, error) {
	if !p.dispatcher.Declared(method) {
		_, err := p.dispatcher.Lookup(method)
		return nil, err
	}
	if p.State() != StateConnected {
		return nil, ErrNotConnected
	}
	handler, err := p.dispatcher.Lookup(method)
	if err != nil {
		p.log.Error("interface method has no binding", zap.String("method", method))
		return nil, err
	}
	return handler(ctx)
}

// login replaces the connection info with a fresh login from the login popup. When the
// provider serves a skapp, the new identity needs its own grant for it; without one the
// provider ends up disconnected.
func (p *Provider) login(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	info, err := p.connection.Login(ctx, p.popups)
	if err != nil {
		return err
	}

	p.mu.RLock()
	skapp := p.skapp
	p.mu.RUnlock()
	if skapp != nil {
		granted, err := p.permissions.Resolve(ctx, info, *skapp, p.popups)
		if err == nil && !granted {
			err = ErrPermissionDenied
		}
		if err != nil {
			p.disconnected()
			p.log.Info("login lost permission", zap.String("domain", skapp.Domain), zap.Error(err))
			return err
		}
	}
	p.connected(info, skapp)
	return nil
}

func identityMethods(p *Provider) map[string]Method {
	return map[string]Method{
		MethodIdentity: func(ctx context.Context) (any, error) {
			return p.Identity(), nil
		},
		MethodIsLoggedIn: func(ctx context.Context) (any, error) {
			return p.connection.HasStored(ctx)
		},
		MethodLogin: func(ctx context.Context) (any, error) {
			return nil, p.login(ctx)
		},
		MethodLogout: func(ctx context.Context) (any, error) {
			return nil, p.Disconnect(ctx)
		},
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrUserCancelled):
		return "cancelled"
	case errors.Is(err, ErrPermissionDenied):
		return "denied"
	default:
		return "error"
	}
}
