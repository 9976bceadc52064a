package cloudconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFreshEnvironmentReturnsZeroValue(t *testing.T) {
	store := &Store{Dir: filepath.Join(t.TempDir(), "locustctl")}

	config, err := store.Load()

	require.NoError(t, err)
	assert.Equal(t, CloudConfig{}, config)
}

func TestSaveCreatesParentDirectories(t *testing.T) {
	store := &Store{Dir: filepath.Join(t.TempDir(), "deeply", "nested", "locustctl")}

	err := store.Save(CloudConfig{Region: "eu-north-1"})

	require.NoError(t, err)
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "eu-north-1", loaded.Region)
}

func TestRoundTripIsByteStable(t *testing.T) {
	store := &Store{Dir: t.TempDir()}
	require.NoError(t, store.Save(CloudConfig{
		IDToken:             "id-token",
		RefreshToken:        "refresh-token",
		RefreshTokenExpires: 1700000000,
		Region:              "us-east-1",
	}))

	before, err := os.ReadFile(store.path())
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(loaded))

	after, err := os.ReadFile(store.path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	store := &Store{Dir: t.TempDir()}
	require.NoError(t, os.WriteFile(store.path(), []byte("not json"), 0o600))

	_, err := store.Load()

	assert.Error(t, err)
}
