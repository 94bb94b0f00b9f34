// Package cryptoutil seals webhook signing secrets at rest.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks a secret sealed with AES-256-GCM. Values without it are plaintext.
const sealedPrefix = "v1:"

// ErrNoKey is returned when a sealed secret is read without a configured key.
var ErrNoKey = errors.New("secret is sealed but no encryption key is configured")

// SecretBox seals and opens subscription secrets. A zero SecretBox passes plaintext through.
type SecretBox struct {
	key []byte
}

// NewSecretBox constructs a SecretBox. An empty key yields a plaintext-only box;
// otherwise the key must be 32 bytes.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) == 0 {
		return &SecretBox{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	return &SecretBox{key: append([]byte(nil), key...)}, nil
}

// IsSealed reports whether stored carries the sealed prefix.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}

// Seal encrypts plaintext with a random nonce and returns a prefixed base64 string.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if len(b.key) == 0 {
		return "", ErrNoKey
	}
	gcm, err := b.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	// nonce||ciphertext
	buf := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

// Open returns the plaintext of stored. Unsealed values are returned unchanged.
func (b *SecretBox) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if len(b.key) == 0 {
		return "", ErrNoKey
	}
	data, err := base64.StdEncoding.DecodeString(stored[len(sealedPrefix):])
	if err != nil {
		return "", fmt.Errorf("decode sealed secret: %w", err)
	}
	gcm, err := b.gcm()
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	pt, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed secret: %w", err)
	}
	return string(pt), nil
}

func (b *SecretBox) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
