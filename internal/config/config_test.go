package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "accounts.toml"))
	require.NoError(t, err)
	assert.Empty(t, f.Accounts)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "accounts.toml")
	f := &File{Accounts: []AccountFile{
		{ID: "acct-1", Host: "imap.example.com", Port: 993, Enabled: true, ConflictPolicy: "merge"},
	}}
	require.NoError(t, Save(path, f))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got.Accounts, 1)
	assert.Equal(t, "acct-1", got.Accounts[0].ID)
	assert.Equal(t, "imap.example.com", got.Accounts[0].Host)
	assert.True(t, got.Accounts[0].Enabled)
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "accounts.toml")
	require.NoError(t, Save(path, &File{}))
	_, err := Load(path)
	require.NoError(t, err)
}

func TestLoadEnvOverlayAppliesDefaults(t *testing.T) {
	o, err := LoadEnvOverlay()
	require.NoError(t, err)
	assert.Equal(t, 30, o.DefaultTimeoutSeconds)
	assert.Equal(t, 4, o.MaxSyncConcurrency)
	assert.Equal(t, "info", o.LogLevel)
}

func TestLoadEnvOverlayReadsEnvironment(t *testing.T) {
	t.Setenv("PARLOR_LOG_LEVEL", "debug")
	t.Setenv("PARLOR_MAX_SYNC_CONCURRENCY", "8")

	o, err := LoadEnvOverlay()
	require.NoError(t, err)
	assert.Equal(t, "debug", o.LogLevel)
	assert.Equal(t, 8, o.MaxSyncConcurrency)
}
