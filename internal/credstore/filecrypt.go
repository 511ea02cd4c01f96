package credstore

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/parlorsh/parlor/internal/errs"
)

// fileEncryptor is the fallback used when the OS keyring is unavailable
// (headless Linux without a Secret Service provider, some CI containers).
// It is weaker than the OS keyring — the key lives on disk next to the
// ciphertext — but still keeps plaintext secrets out of the sqlite file
// and process listings. Sealing uses secretbox (XSalsa20-Poly1305) rather
// than hand-rolling an AEAD mode out of stdlib primitives.
type fileEncryptor struct {
	key [32]byte
}

const keyFileName = "credstore.key"

// newFileEncryptor loads the secretbox key from dataDir, generating and
// persisting one with 0600 permissions on first use.
func newFileEncryptor(dataDir string) (*fileEncryptor, error) {
	path := filepath.Join(dataDir, keyFileName)

	raw, err := os.ReadFile(path)
	if err == nil && len(raw) == 32 {
		var key [32]byte
		copy(key[:], raw)
		return &fileEncryptor{key: key}, nil
	}

	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "credstore.newFileEncryptor", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "credstore.newFileEncryptor", err)
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "credstore.newFileEncryptor", err)
	}
	return &fileEncryptor{key: key}, nil
}

func (e *fileEncryptor) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &e.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *fileEncryptor) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(raw) < 24 {
		return "", fmt.Errorf("credstore: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &e.key)
	if !ok {
		return "", fmt.Errorf("credstore: decryption failed, key mismatch or corrupt ciphertext")
	}
	return string(plain), nil
}
