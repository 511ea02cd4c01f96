package account

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "accounts.toml"))
	require.NoError(t, err)
	return s
}

func TestNewStoreOnMissingFileStartsEmpty(t *testing.T) {
	s := openTestStore(t)
	assert.Empty(t, s.List())
	assert.Equal(t, 0, s.Count())
}

func TestCreateAssignsIDWhenAbsent(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Create(Account{Host: "imap.example.com", Port: 993})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "imap.example.com", got.Host)
}

func TestCreateKeepsSuppliedID(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Create(Account{ID: "acct-1", Host: "imap.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "acct-1", a.ID)
}

func TestCreatePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.toml")
	s, err := NewStore(path)
	require.NoError(t, err)
	_, err = s.Create(Account{ID: "acct-1", Host: "imap.example.com", Enabled: true})
	require.NoError(t, err)

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	got, ok := reloaded.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, "imap.example.com", got.Host)
	assert.True(t, got.Enabled)
}

func TestReplaceUnknownAccountErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.Replace(Account{ID: "missing"})
	assert.Error(t, err)
}

func TestReplaceSwapsWholeRecord(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Create(Account{ID: "acct-1", Host: "old.example.com"})
	require.NoError(t, err)

	a.Host = "new.example.com"
	require.NoError(t, s.Replace(a))

	got, ok := s.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, "new.example.com", got.Host)
}

func TestRemoveDeletesAccount(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(Account{ID: "acct-1"})
	require.NoError(t, err)

	require.NoError(t, s.Remove("acct-1"))
	_, ok := s.Get("acct-1")
	assert.False(t, ok)
}

func TestCountReflectsCurrentAccounts(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(Account{ID: "acct-1"})
	require.NoError(t, err)
	_, err = s.Create(Account{ID: "acct-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())
}

func TestReloadDefaultsEmptyConflictPolicyToMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.toml")
	s, err := NewStore(path)
	require.NoError(t, err)
	_, err = s.Create(Account{ID: "acct-1"})
	require.NoError(t, err)

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	got, ok := reloaded.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, ConflictMerge, got.ConflictPolicy)
}

func TestWithIDReturnsCopy(t *testing.T) {
	a := Account{ID: "old"}
	b := a.WithID("new")
	assert.Equal(t, "old", a.ID)
	assert.Equal(t, "new", b.ID)
}
