// Package credstore stores account passwords and OAuth2 refresh tokens
// outside the sqlite database: the OS keyring when available, an
// encrypted on-disk fallback otherwise. It is the secret side of
// internal/account, which only ever holds non-secret configuration.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/parlorsh/parlor/internal/errs"
	"github.com/parlorsh/parlor/internal/logging"
)

const serviceName = "parlor"
const fallbackFileName = "credstore.enc.json"

// ErrNotFound is returned when no credential is stored for an account.
var ErrNotFound = fmt.Errorf("credstore: credential not found")

// Store provides secret storage with OS keyring as primary and an
// encrypted file as fallback, mirroring the two-tier strategy most
// terminal-based mail clients need to run unattended on headless Linux.
type Store struct {
	enc            *fileEncryptor
	keyringEnabled bool
	fallbackPath   string

	mu       sync.Mutex
	fallback map[string]string // accountID+kind -> ciphertext, used only when keyring is unavailable
	log      zerolog.Logger
}

// NewStore builds a Store, testing keyring availability once at startup
// and loading the encrypted fallback file (if any) from dataDir.
func NewStore(dataDir string) (*Store, error) {
	log := logging.WithComponent("credstore")

	enc, err := newFileEncryptor(dataDir)
	if err != nil {
		return nil, err
	}

	enabled := testKeyring()
	if enabled {
		log.Info().Msg("OS keyring available, using as primary credential storage")
	} else {
		log.Warn().Msg("OS keyring unavailable, using encrypted file storage")
	}

	s := &Store{
		enc:            enc,
		keyringEnabled: enabled,
		fallbackPath:   filepath.Join(dataDir, fallbackFileName),
		fallback:       make(map[string]string),
		log:            log,
	}
	if err := s.loadFallback(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadFallback() error {
	raw, err := os.ReadFile(s.fallbackPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindStorage, "credstore.loadFallback", err)
	}
	if err := json.Unmarshal(raw, &s.fallback); err != nil {
		return errs.Wrap(errs.KindStorage, "credstore.loadFallback", err)
	}
	return nil
}

func (s *Store) saveFallback() error {
	raw, err := json.Marshal(s.fallback)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "credstore.saveFallback", err)
	}
	if err := os.WriteFile(s.fallbackPath, raw, 0o600); err != nil {
		return errs.Wrap(errs.KindStorage, "credstore.saveFallback", err)
	}
	return nil
}

func testKeyring() bool {
	const testKey = "parlor-keyring-check"
	if err := gokeyring.Set(serviceName, testKey, "probe"); err != nil {
		return false
	}
	_ = gokeyring.Delete(serviceName, testKey)
	return true
}

func passwordKey(accountID string) string { return accountID + ":password" }
func refreshKey(accountID string) string  { return accountID + ":oauth2-refresh" }

// SetPassword stores accountID's IMAP password.
func (s *Store) SetPassword(accountID, password string) error {
	return s.set(passwordKey(accountID), password)
}

// GetPassword retrieves accountID's IMAP password.
func (s *Store) GetPassword(accountID string) (string, error) {
	return s.get(passwordKey(accountID))
}

// DeletePassword removes accountID's stored password.
func (s *Store) DeletePassword(accountID string) error {
	return s.delete(passwordKey(accountID))
}

// SetRefreshToken stores accountID's OAuth2 refresh token, the
// long-lived credential internal/oauth2.Source exchanges for access
// tokens.
func (s *Store) SetRefreshToken(accountID, token string) error {
	return s.set(refreshKey(accountID), token)
}

// GetRefreshToken retrieves accountID's OAuth2 refresh token.
func (s *Store) GetRefreshToken(accountID string) (string, error) {
	return s.get(refreshKey(accountID))
}

// DeleteRefreshToken removes accountID's stored refresh token.
func (s *Store) DeleteRefreshToken(accountID string) error {
	return s.delete(refreshKey(accountID))
}

func (s *Store) set(key, value string) error {
	if value == "" {
		return nil
	}
	if s.keyringEnabled {
		if err := gokeyring.Set(serviceName, key, value); err == nil {
			s.mu.Lock()
			delete(s.fallback, key)
			err := s.saveFallback()
			s.mu.Unlock()
			return err
		}
		s.log.Warn().Str("key", key).Msg("keyring write failed, using encrypted fallback")
	}

	encrypted, err := s.enc.Encrypt(value)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "credstore.set", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[key] = encrypted
	return s.saveFallback()
}

func (s *Store) get(key string) (string, error) {
	if s.keyringEnabled {
		value, err := gokeyring.Get(serviceName, key)
		if err == nil {
			return value, nil
		}
		if err != gokeyring.ErrNotFound {
			s.log.Warn().Err(err).Str("key", key).Msg("keyring read failed, trying fallback")
		}
	}

	s.mu.Lock()
	encrypted, ok := s.fallback[key]
	s.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}
	plain, err := s.enc.Decrypt(encrypted)
	if err != nil {
		return "", errs.Wrap(errs.KindStorage, "credstore.get", err)
	}
	return plain, nil
}

func (s *Store) delete(key string) error {
	if s.keyringEnabled {
		_ = gokeyring.Delete(serviceName, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fallback, key)
	return s.saveFallback()
}

// IsKeyringEnabled reports whether the OS keyring is being used as
// primary storage.
func (s *Store) IsKeyringEnabled() bool {
	return s.keyringEnabled
}
