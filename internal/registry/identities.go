package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/charlesng35/skyprovider/internal/keys"
)

type identityRecord struct {
	Identity string `json:"identity"`
}

// IdentityStore keeps the identity of each login secret in a record owned by the
// secret's root key.
type IdentityStore struct {
	records *RecordStore
	deriver *keys.Deriver
	dataKey string
}

// NewIdentityStore constructs an IdentityStore writing records under dataKey, normally
// the provider URL.
func NewIdentityStore(records *RecordStore, deriver *keys.Deriver, dataKey string) (*IdentityStore, error) {
	if records == nil || deriver == nil {
		return nil, fmt.Errorf("identity store: records and key deriver are required")
	}
	if strings.TrimSpace(dataKey) == "" {
		return nil, fmt.Errorf("identity store: data key is required")
	}
	return &IdentityStore{records: records, deriver: deriver, dataKey: dataKey}, nil
}

// Lookup returns the identity registered for secret.
func (s *IdentityStore) Lookup(ctx context.Context, secret string) (string, bool, error) {
	owner, err := s.deriver.Root(secret)
	if err != nil {
		return "", false, err
	}

	var record identityRecord
	found, err := s.records.GetJSON(ctx, owner.PublicKeyHex(), s.dataKey, &record)
	if err != nil || !found || record.Identity == "" {
		return "", false, err
	}
	return record.Identity, true, nil
}

// Save registers identity for secret.
func (s *IdentityStore) Save(ctx context.Context, secret, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("identity store: identity is required")
	}
	owner, err := s.deriver.Root(secret)
	if err != nil {
		return err
	}
	return s.records.SetJSON(ctx, owner, s.dataKey, identityRecord{Identity: identity})
}

// Derive returns the identity of a new secret: the hex public key of its root key pair.
func (s *IdentityStore) Derive(_ context.Context, secret string) (string, error) {
	owner, err := s.deriver.Root(secret)
	if err != nil {
		return "", err
	}
	return owner.PublicKeyHex(), nil
}
