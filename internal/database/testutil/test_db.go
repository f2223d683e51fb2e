package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/skyprovider/internal/database"
)

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
}

// WithAutoMigrate enables automatic schema migration after opening the test database.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// MustOpenTestDB opens an in-memory SQLite database for tests, applying migrations when requested.
// The returned connection is automatically closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := testDBConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)

	if cfg.autoMigrate {
		require.NoError(t, database.Migrate(db))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
