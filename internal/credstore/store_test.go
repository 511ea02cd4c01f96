package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore forces the encrypted-file fallback path so the test
// doesn't depend on a real OS keyring/Secret Service being present,
// the way CI containers and this sandbox are not guaranteed to have one.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	enc, err := newFileEncryptor(t.TempDir())
	require.NoError(t, err)
	return &Store{
		enc:          enc,
		fallbackPath: t.TempDir() + "/credstore.enc.json",
		fallback:     make(map[string]string),
	}
}

func TestSetGetPasswordFallback(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetPassword("acct-1", "hunter2"))
	got, err := s.GetPassword("acct-1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestGetPasswordNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPassword("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePassword(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetPassword("acct-1", "hunter2"))
	require.NoError(t, s.DeletePassword("acct-1"))
	_, err := s.GetPassword("acct-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetRefreshToken("acct-1", "refresh-xyz"))
	got, err := s.GetRefreshToken("acct-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-xyz", got)
}

func TestFileEncryptorRoundTrip(t *testing.T) {
	enc, err := newFileEncryptor(t.TempDir())
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("secret value")
	require.NoError(t, err)
	assert.NotEqual(t, "secret value", ciphertext)

	plain, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret value", plain)
}
