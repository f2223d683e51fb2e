// Package registry stores signed JSON records owned by ed25519 keys. Identity and
// permission records of the provider live here.
package registry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/skyprovider/internal/models"
	"github.com/charlesng35/skyprovider/pkg/crypto"
)

// ErrInvalidSignature is returned when a stored record does not verify against its owner key.
var ErrInvalidSignature = errors.New("registry: record signature is invalid")

const signingDomain = "skyprovider/registry"

// RecordStore reads and writes signed records.
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore(db *gorm.DB) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("registry: db is required")
	}
	return &RecordStore{db: db}, nil
}

func signingMessage(publicKey, dataKey string, revision uint64, data []byte) []byte {
	message := make([]byte, 0, len(signingDomain)+len(publicKey)+len(dataKey)+len(data)+11)
	message = append(message, signingDomain...)
	message = append(message, 0)
	message = append(message, publicKey...)
	message = append(message, 0)
	message = append(message, dataKey...)
	message = append(message, 0)
	message = binary.BigEndian.AppendUint64(message, revision)
	return append(message, data...)
}

// GetJSON loads the record (publicKey, dataKey) into out. found is false when no record
// exists. A record that fails signature verification is an error.
func (s *RecordStore) GetJSON(ctx context.Context, publicKey, dataKey string, out any) (found bool, err error) {
	publicKey = strings.ToLower(strings.TrimSpace(publicKey))

	var entry models.RegistryEntry
	err = s.db.WithContext(ctx).
		Where("public_key = ? AND data_key = ?", publicKey, dataKey).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("registry: load record: %w", err)
	}

	if !crypto.Verify(entry.PublicKey, signingMessage(entry.PublicKey, entry.DataKey, entry.Revision, entry.Data), entry.Signature) {
		return false, ErrInvalidSignature
	}
	if err := json.Unmarshal(entry.Data, out); err != nil {
		return false, fmt.Errorf("registry: decode record: %w", err)
	}
	return true, nil
}

// SetJSON writes value as the record (owner, dataKey), signed by owner. Each write bumps
// the record revision.
func (s *RecordStore) SetJSON(ctx context.Context, owner crypto.KeyPair, dataKey string, value any) error {
	if strings.TrimSpace(dataKey) == "" {
		return fmt.Errorf("registry: data key is required")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("registry: encode record: %w", err)
	}
	publicKey := owner.PublicKeyHex()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.RegistryEntry
		revision := uint64(0)
		err := tx.Select("revision").
			Where("public_key = ? AND data_key = ?", publicKey, dataKey).
			First(&current).Error
		switch {
		case err == nil:
			revision = current.Revision + 1
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("registry: load revision: %w", err)
		}

		entry := models.RegistryEntry{
			PublicKey: publicKey,
			DataKey:   dataKey,
			Data:      datatypes.JSON(data),
			Signature: owner.Sign(signingMessage(publicKey, dataKey, revision, data)),
			Revision:  revision,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "public_key"}, {Name: "data_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "signature", "revision", "updated_at"}),
		}).Create(&entry).Error
		if err != nil {
			return fmt.Errorf("registry: write record: %w", err)
		}
		return nil
	})
}
