// Package cipher provides AES-256-GCM authenticated encryption for the
// storage layer's subject/snippet/body fields, with the 32-byte master
// key persisted to disk exactly as described in the storage component's
// key lifecycle: generated once via the OS CSPRNG, then reloaded and
// length-validated on every subsequent start.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/logging"
)

const keyLength = 32
const nonceLength = 12

// ErrInvalidKeyLength is returned when an existing master key file does
// not contain exactly 32 bytes. This is a fatal condition: the caller
// cannot safely proceed without a key of the expected length.
var ErrInvalidKeyLength = errors.New("cipher: stored master key has invalid length")

// ErrDecryption is returned for any tamper, truncation, or key-mismatch
// failure during decryption. The cause is intentionally not distinguished
// further, mirroring the source's blanket decryption-failure behavior.
var ErrDecryption = errors.New("cipher: decryption failed")

// Cipher performs authenticated encryption/decryption with a single
// 32-byte master key loaded once at construction.
type Cipher struct {
	key []byte
	log zerolog.Logger
}

// Load reads the master key from keyPath, generating and persisting a
// fresh one (0600, POSIX) if the file does not yet exist. A file present
// but of the wrong length is a fatal key error.
func Load(keyPath string) (*Cipher, error) {
	log := logging.WithComponent("cipher")

	key, err := loadOrCreateMasterKey(keyPath)
	if err != nil {
		return nil, err
	}

	log.Info().Str("path", keyPath).Msg("master key ready")
	return &Cipher{key: key, log: log}, nil
}

func loadOrCreateMasterKey(keyPath string) ([]byte, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != keyLength {
			return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(data), keyLength)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("cipher: failed to read master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("cipher: failed to create key directory: %w", err)
	}

	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cipher: failed to generate master key: %w", err)
	}

	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("cipher: failed to persist master key: %w", err)
	}
	// WriteFile's creation mode is filtered by the process umask; enforce 0600 explicitly.
	if err := os.Chmod(keyPath, 0600); err != nil {
		return nil, fmt.Errorf("cipher: failed to set master key permissions: %w", err)
	}

	return key, nil
}

// EncryptBytes generates a fresh random nonce and returns
// base64(nonce || ciphertext+tag).
func (c *Cipher) EncryptBytes(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("cipher: failed to init AES block: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher: failed to init GCM: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cipher: failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// EncryptString is EncryptBytes for a string plaintext.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	return c.EncryptBytes([]byte(plaintext))
}

// DecryptBytes reverses EncryptBytes. Any tamper, truncation, or key
// mismatch surfaces as ErrDecryption.
func (c *Cipher) DecryptBytes(opaque string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return nil, ErrDecryption
	}
	if len(raw) < nonceLength {
		return nil, ErrDecryption
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to init AES block: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: failed to init GCM: %w", err)
	}

	nonce, ciphertext := raw[:nonceLength], raw[nonceLength:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// DecryptString is DecryptBytes with a UTF-8 validity check, matching
// the source's decrypt_string which additionally rejects non-UTF-8
// plaintext as a decryption failure.
func (c *Cipher) DecryptString(opaque string) (string, error) {
	plaintext, err := c.DecryptBytes(opaque)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
