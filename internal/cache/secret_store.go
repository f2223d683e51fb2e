package cache

import (
	"context"
	"errors"
	"strings"
)

// LoginKey is the well-known key prefix the login secret is stored under.
const LoginKey = "login"

// SecretStore keeps the login secret for a device in the local persistent store.
type SecretStore struct {
	store Store
}

// NewSecretStore wraps a Store.
func NewSecretStore(store Store) (*SecretStore, error) {
	if store == nil {
		return nil, errors.New("secret store: backing store is required")
	}
	return &SecretStore{store: store}, nil
}

func secretKey(device string) string {
	return LoginKey + ":" + strings.TrimSpace(device)
}

// Load returns the stored secret for device, or "" when none is stored.
func (s *SecretStore) Load(ctx context.Context, device string) (string, error) {
	if strings.TrimSpace(device) == "" {
		return "", errors.New("secret store: device is required")
	}
	raw, ok, err := s.store.Get(ctx, secretKey(device))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return string(raw), nil
}

// Save stores secret for device without expiry.
func (s *SecretStore) Save(ctx context.Context, device, secret string) error {
	if strings.TrimSpace(device) == "" {
		return errors.New("secret store: device is required")
	}
	if secret == "" {
		return errors.New("secret store: secret is required")
	}
	return s.store.Set(ctx, secretKey(device), []byte(secret), 0)
}

// Clear removes the stored secret for device. Clearing a missing secret is not an error.
func (s *SecretStore) Clear(ctx context.Context, device string) error {
	if strings.TrimSpace(device) == "" {
		return errors.New("secret store: device is required")
	}
	return s.store.Delete(ctx, secretKey(device))
}

// DeviceSecret is the login secret slot of a single device.
type DeviceSecret struct {
	store  *SecretStore
	device string
}

// ForDevice returns the secret slot of device.
func (s *SecretStore) ForDevice(device string) *DeviceSecret {
	return &DeviceSecret{store: s, device: device}
}

// Load returns the stored secret, or "" when none is stored.
func (d *DeviceSecret) Load(ctx context.Context) (string, error) {
	return d.store.Load(ctx, d.device)
}

// Save replaces the stored secret.
func (d *DeviceSecret) Save(ctx context.Context, secret string) error {
	return d.store.Save(ctx, d.device, secret)
}

// Clear removes the stored secret.
func (d *DeviceSecret) Clear(ctx context.Context) error {
	return d.store.Clear(ctx, d.device)
}
