package models

import (
	"gorm.io/datatypes"
)

// RegistryEntry is a signed JSON record owned by an ed25519 public key. Identity
// records hold {"identity": ...}; permission records hold {"permission": ...}.
type RegistryEntry struct {
	BaseModel
	PublicKey string         `gorm:"size:64;not null;uniqueIndex:idx_registry_owner_key" json:"public_key"`
	DataKey   string         `gorm:"size:255;not null;uniqueIndex:idx_registry_owner_key" json:"data_key"`
	Data      datatypes.JSON `json:"data"`
	Signature []byte         `json:"-"`
	Revision  uint64         `gorm:"not null;default:0" json:"revision"`
}

// TableName keeps the table name stable across model renames.
func (RegistryEntry) TableName() string {
	return "registry_entries"
}
