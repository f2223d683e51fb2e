package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateAssignsID(t *testing.T) {
	var m BaseModel
	require.NoError(t, m.BeforeCreate(nil))
	require.NotEmpty(t, m.ID)

	existing := BaseModel{ID: "fixed"}
	require.NoError(t, existing.BeforeCreate(nil))
	require.Equal(t, "fixed", existing.ID)
}

func TestRegistryEntryTableName(t *testing.T) {
	require.Equal(t, "registry_entries", RegistryEntry{}.TableName())
}
