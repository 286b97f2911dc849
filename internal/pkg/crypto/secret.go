// Package crypto provides authenticated encryption for small secrets such as
// storage mount sub-paths. Values are sealed with XChaCha20-Poly1305 and
// encoded as URL-safe base64 so they can be stored in text columns.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidCiphertext is returned when a stored value cannot be decoded
	// or fails authentication.
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
)

// SecretBox seals and opens short strings with a key derived from a
// configured passphrase.
type SecretBox struct {
	key []byte
}

// NewSecretBox derives a 256-bit key from the given secret.
func NewSecretBox(secret string) (*SecretBox, error) {
	if secret == "" {
		return nil, errors.New("crypto: empty secret")
	}
	sum := sha256.Sum256([]byte(secret))
	return &SecretBox{key: sum[:]}, nil
}

// Seal encrypts plaintext and returns a base64-encoded token.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (b *SecretBox) Open(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	return string(plaintext), nil
}
