// Package crypto seals connection secrets at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrNoKey is returned by a Sealer created without a key.
var ErrNoKey = errors.New("encryption key not configured")

// Sealer encrypts and decrypts strings with a fixed 32 byte key.
// The zero value (or one built from an empty key) passes data through unchanged.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a Sealer from key. An empty key yields a pass-through Sealer.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return &Sealer{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Enabled reports whether the sealer actually encrypts.
func (s *Sealer) Enabled() bool {
	return s != nil && s.gcm != nil
}

// Seal encrypts plaintext and returns base64 of nonce||ciphertext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values that do not look sealed are returned as-is so rows written
// before a key was configured stay readable.
func (s *Sealer) Open(value string) (string, error) {
	if !s.Enabled() {
		if IsEncrypted(value) && !looksLikeJSON(value) {
			return "", ErrNoKey
		}
		return value, nil
	}
	if !IsEncrypted(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 ciphertext: %w", err)
	}
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", nonceSize, len(data))
	}

	nonce, encrypted := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted checks if a string looks like Seal output (base64 long enough to hold a GCM nonce).
func IsEncrypted(data string) bool {
	if len(data) == 0 || looksLikeJSON(data) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return false
	}
	return len(decoded) >= 13
}

func looksLikeJSON(data string) bool {
	return len(data) > 0 && (data[0] == '{' || data[0] == '[')
}
