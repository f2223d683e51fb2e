package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/internal/popup"
)

// ConnectionFlow obtains the user's ConnectionInfo, either from the stored login secret
// or from the login popup.
type ConnectionFlow struct {
	secrets    SecretStore
	identities IdentityStore
	calls      bounded
	log        *zap.Logger
}

// NewConnectionFlow constructs a ConnectionFlow.
func NewConnectionFlow(secrets SecretStore, identities IdentityStore, timeout time.Duration, log *zap.Logger) *ConnectionFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectionFlow{secrets: secrets, identities: identities, calls: bounded{timeout: timeout}, log: log}
}

// HasStored reports whether a login secret is stored.
func (f *ConnectionFlow) HasStored(ctx context.Context) (bool, error) {
	var secret string
	err := f.calls.run(ctx, "secret.load", func(ctx context.Context) error {
		var err error
		secret, err = f.secrets.Load(ctx)
		return err
	})
	return secret != "", err
}

// FetchStored returns the stored connection info without user interaction. A nil result
// with a nil error means the user has to log in interactively. A stored secret without a
// registered identity is an error.
func (f *ConnectionFlow) FetchStored(ctx context.Context) (*ConnectionInfo, error) {
	var secret string
	err := f.calls.run(ctx, "secret.load", func(ctx context.Context) error {
		var err error
		secret, err = f.secrets.Load(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if secret == "" {
		f.log.Debug("no stored login secret")
		return nil, nil
	}

	identity, found, err := f.lookup(ctx, secret)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrIdentityNotFound
	}
	return &ConnectionInfo{Secret: secret, Identity: identity}, nil
}

func (f *ConnectionFlow) lookup(ctx context.Context, secret string) (identity string, found bool, err error) {
	err = f.calls.run(ctx, "identity.lookup", func(ctx context.Context) error {
		var err error
		identity, found, err = f.identities.Lookup(ctx, secret)
		return err
	})
	return identity, found, err
}

// Save persists info and returns it with its identity resolved. An empty identity is
// looked up, and derived and registered when the secret is new. A non-empty identity is
// registered against the secret. The secret is stored last, so a failed save leaves no
// stored secret behind.
func (f *ConnectionFlow) Save(ctx context.Context, info ConnectionInfo) (ConnectionInfo, error) {
	if err := info.Validate(); err != nil {
		return ConnectionInfo{}, err
	}
	info.Identity = strings.TrimSpace(info.Identity)

	if info.Identity == "" {
		identity, found, err := f.lookup(ctx, info.Secret)
		if err != nil {
			return ConnectionInfo{}, err
		}
		if !found {
			err = f.calls.run(ctx, "identity.derive", func(ctx context.Context) error {
				var err error
				identity, err = f.identities.Derive(ctx, info.Secret)
				return err
			})
			if err != nil {
				return ConnectionInfo{}, err
			}
			if identity == "" {
				return ConnectionInfo{}, ErrIdentityNotFound.WithMessage("Could not derive an identity for the secret")
			}
			if err := f.saveIdentity(ctx, info.Secret, identity); err != nil {
				return ConnectionInfo{}, err
			}
			f.log.Info("registered derived identity", zap.String("identity", identity))
		}
		info.Identity = identity
	} else if err := f.saveIdentity(ctx, info.Secret, info.Identity); err != nil {
		return ConnectionInfo{}, err
	}

	err := f.calls.run(ctx, "secret.save", func(ctx context.Context) error {
		return f.secrets.Save(ctx, info.Secret)
	})
	if err != nil {
		return ConnectionInfo{}, err
	}
	return info, nil
}

func (f *ConnectionFlow) saveIdentity(ctx context.Context, secret, identity string) error {
	return f.calls.run(ctx, "identity.save", func(ctx context.Context) error {
		return f.identities.Save(ctx, secret, identity)
	})
}

// QueryUser opens the login popup and waits for its answer. The popup is opened without
// prefilled credentials. A closed popup is ErrUserCancelled and a malformed answer is
// ErrInvalidSecret.
func (f *ConnectionFlow) QueryUser(ctx context.Context, popups PopupChannel) (ConnectionInfo, error) {
	if popups == nil {
		return ConnectionInfo{}, popup.ErrPopupBlocked
	}
	pending, err := popups.Open(ctx, popup.KindLogin, nil)
	if err != nil {
		return ConnectionInfo{}, err
	}
	defer pending.Close()

	outcome, err := pending.Await(ctx)
	if err != nil {
		return ConnectionInfo{}, err
	}

	switch outcome.Status {
	case popup.StatusClosed:
		return ConnectionInfo{}, ErrUserCancelled
	case popup.StatusError:
		if errors.Is(outcome.Err, popup.ErrMalformedResponse) {
			return ConnectionInfo{}, ErrInvalidSecret.WithInternal(outcome.Err)
		}
		return ConnectionInfo{}, outcome.Err
	}
	if outcome.Login == nil || strings.TrimSpace(outcome.Login.Secret) == "" {
		return ConnectionInfo{}, ErrInvalidSecret
	}
	return ConnectionInfo{Secret: outcome.Login.Secret, Identity: outcome.Login.Identity}, nil
}

// Login runs the login popup and saves its answer.
func (f *ConnectionFlow) Login(ctx context.Context, popups PopupChannel) (ConnectionInfo, error) {
	info, err := f.QueryUser(ctx, popups)
	if err != nil {
		return ConnectionInfo{}, err
	}
	return f.Save(ctx, info)
}

// Clear removes the stored login secret.
func (f *ConnectionFlow) Clear(ctx context.Context) error {
	return f.calls.run(ctx, "secret.clear", func(ctx context.Context) error {
		return f.secrets.Clear(ctx)
	})
}
