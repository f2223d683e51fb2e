package popup

import (
	"strings"
)

// Controller serves one kind of popup page: it hands the page its parameters and turns
// the page's posts into outcomes.
type Controller struct {
	broker   *Broker
	kind     Kind
	required []string
}

// NewLoginController serves the login popup. The login page takes no parameters.
func NewLoginController(broker *Broker) *Controller {
	return &Controller{broker: broker, kind: KindLogin}
}

// NewPermissionController serves the permission popup, which needs the skapp name, its
// domain, and the identity it is asking on behalf of.
func NewPermissionController(broker *Broker) *Controller {
	return &Controller{
		broker:   broker,
		kind:     KindPermission,
		required: []string{ParamSkappName, ParamSkappDomain, ParamLoginIdentity},
	}
}

// Kind returns the popup kind the controller serves.
func (c *Controller) Kind() Kind {
	return c.kind
}

// Page returns the parameters of the popup identified by token to the device that opened
// it. A popup opened without a required parameter cannot be answered; it is resolved
// with an error outcome.
func (c *Controller) Page(token, device string) (Entry, error) {
	entry, err := c.broker.Entry(token, device)
	if err != nil {
		return Entry{}, err
	}
	if entry.Kind != c.kind {
		return Entry{}, ErrHandleNotFound
	}

	for _, name := range c.required {
		if strings.TrimSpace(entry.Params[name]) == "" {
			missing := ErrPopupFailed.WithMessage("Popup is missing parameter " + name)
			if err := c.broker.fail(token, missing); err != nil {
				return Entry{}, err
			}
			return Entry{}, missing
		}
	}
	return entry, nil
}

// Submit delivers the raw body posted by the popup page.
func (c *Controller) Submit(token string, from Sender, raw []byte) (bool, error) {
	return c.broker.Deliver(token, from, ParsePayload(c.kind, raw))
}

// Unload is called from the page's unload hook.
func (c *Controller) Unload(token string, from Sender) (bool, error) {
	return c.broker.Abandon(token, from)
}

// Heartbeat keeps the popup alive.
func (c *Controller) Heartbeat(token string, from Sender) (bool, error) {
	return c.broker.Heartbeat(token, from)
}

// Controllers routes popup tokens to the controller of their kind.
type Controllers struct {
	broker *Broker
	byKind map[Kind]*Controller
}

// NewControllers returns the login and permission controllers of broker.
func NewControllers(broker *Broker) *Controllers {
	return &Controllers{
		broker: broker,
		byKind: map[Kind]*Controller{
			KindLogin:      NewLoginController(broker),
			KindPermission: NewPermissionController(broker),
		},
	}
}

// For returns the controller that serves the popup identified by token.
func (c *Controllers) For(token string) (*Controller, error) {
	claims, err := c.broker.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	controller, ok := c.byKind[claims.Kind]
	if !ok {
		return nil, ErrHandleNotFound
	}
	return controller, nil
}
