package models

import (
	"time"
)

// CacheEntry is a key/value row backing the provider's local persistent store. The
// login secret lives here under a per-device key.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
