package provider

import (
	"context"
	"errors"
	"time"

	"github.com/charlesng35/skyprovider/internal/popup"
	"github.com/charlesng35/skyprovider/pkg/metrics"
)

// DefaultStoreTimeout bounds every backing store round-trip.
const DefaultStoreTimeout = 10 * time.Second

// SecretStore persists the login secret of the device the provider runs for.
type SecretStore interface {
	// Load returns the stored secret or "" when none is stored.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, secret string) error
	Clear(ctx context.Context) error
}

// IdentityStore maps login secrets to user identities.
type IdentityStore interface {
	// Lookup returns the identity registered for secret. found is false when the secret
	// has never been registered.
	Lookup(ctx context.Context, secret string) (identity string, found bool, err error)
	// Save registers identity for secret.
	Save(ctx context.Context, secret, identity string) error
	// Derive computes the identity of a secret that has none registered yet.
	Derive(ctx context.Context, secret string) (string, error)
}

// PermissionStore keeps one permission decision per (user, requesting domain).
type PermissionStore interface {
	Get(ctx context.Context, info ConnectionInfo, domain string) (Permission, error)
	// Set persists a decision. Only PermissionGranted and PermissionDenied are stored.
	Set(ctx context.Context, info ConnectionInfo, domain string, permission Permission) error
}

// PopupChannel opens popups for one host session.
type PopupChannel interface {
	Open(ctx context.Context, kind popup.Kind, params map[string]string) (popup.Pending, error)
}

// bounded runs store calls under a deadline and records their latency.
type bounded struct {
	timeout time.Duration
}

func (b bounded) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	timeout := b.timeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = "timeout"
		err = ErrStoreTimeout.WithInternal(err)
	}
	metrics.StoreLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	return err
}
