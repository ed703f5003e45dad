package remote

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyLen   = 32
	nonceLen = 24
)

// Keychain seals and opens stored WebDAV passwords with a machine-local key
// so credentials never sit in the config file as plaintext. The key is
// generated on first use and kept in a mode-0600 file.
type Keychain struct {
	key [keyLen]byte
}

// OpenKeychain loads the key file, creating it with a fresh random key if
// it does not exist yet.
func OpenKeychain(keyFile string) (*Keychain, error) {
	kc := &Keychain{}

	data, err := os.ReadFile(keyFile)
	switch {
	case err == nil:
		if len(data) != keyLen {
			return nil, fmt.Errorf("invalid key file %s: expected %d bytes, got %d", keyFile, keyLen, len(data))
		}
		copy(kc.key[:], data)
		return kc, nil

	case os.IsNotExist(err):
		if _, err := rand.Read(kc.key[:]); err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyFile), 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
		if err := os.WriteFile(keyFile, kc.key[:], 0600); err != nil {
			return nil, fmt.Errorf("failed to write key file: %w", err)
		}
		return kc, nil

	default:
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
}

// Seal encrypts a password for storage. The result is base64 so it can live
// in the TOML config.
func (kc *Keychain) Seal(password string) (string, error) {
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(password), &nonce, &kc.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a password previously produced by Seal.
func (kc *Keychain) Open(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid sealed password: %w", err)
	}
	if len(data) < nonceLen {
		return "", fmt.Errorf("invalid sealed password: too short")
	}

	var nonce [nonceLen]byte
	copy(nonce[:], data[:nonceLen])

	plain, ok := secretbox.Open(nil, data[nonceLen:], &nonce, &kc.key)
	if !ok {
		return "", fmt.Errorf("failed to decrypt password: wrong key or corrupt data")
	}
	return string(plain), nil
}
