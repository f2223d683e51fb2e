package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/charlesng35/skyprovider/internal/keys"
	"github.com/charlesng35/skyprovider/internal/provider"
)

type permissionRecord struct {
	Permission *bool `json:"permission"`
}

// PermissionStore keeps one permission record per (secret, requesting domain), owned by
// the child key the secret derives for that domain.
type PermissionStore struct {
	records *RecordStore
	deriver *keys.Deriver
	dataKey string
}

// NewPermissionStore constructs a PermissionStore writing records under dataKey.
func NewPermissionStore(records *RecordStore, deriver *keys.Deriver, dataKey string) (*PermissionStore, error) {
	if records == nil || deriver == nil {
		return nil, fmt.Errorf("permission store: records and key deriver are required")
	}
	if strings.TrimSpace(dataKey) == "" {
		return nil, fmt.Errorf("permission store: data key is required")
	}
	return &PermissionStore{records: records, deriver: deriver, dataKey: dataKey}, nil
}

// Get returns the stored decision, or PermissionUnknown when none was recorded.
func (s *PermissionStore) Get(ctx context.Context, info provider.ConnectionInfo, domain string) (provider.Permission, error) {
	owner, err := s.deriver.Child(info.Secret, domain)
	if err != nil {
		return provider.PermissionUnknown, err
	}

	var record permissionRecord
	found, err := s.records.GetJSON(ctx, owner.PublicKeyHex(), s.dataKey, &record)
	if err != nil {
		return provider.PermissionUnknown, err
	}
	if !found || record.Permission == nil {
		return provider.PermissionUnknown, nil
	}
	return provider.PermissionFromBool(*record.Permission), nil
}

// Set records a grant or a denial. PermissionUnknown cannot be stored.
func (s *PermissionStore) Set(ctx context.Context, info provider.ConnectionInfo, domain string, permission provider.Permission) error {
	var granted bool
	switch permission {
	case provider.PermissionGranted:
		granted = true
	case provider.PermissionDenied:
	default:
		return fmt.Errorf("permission store: refusing to store %s permission", permission)
	}

	owner, err := s.deriver.Child(info.Secret, domain)
	if err != nil {
		return err
	}
	return s.records.SetJSON(ctx, owner, s.dataKey, permissionRecord{Permission: &granted})
}
