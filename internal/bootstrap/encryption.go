package bootstrap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/target/listing-relay/internal/data/cryptoutil"
)

// CreateSecretBox builds the SecretBox that seals subscription signing secrets.
// An empty key yields a plaintext-only box, which cannot open sealed secrets.
func CreateSecretBox(key string, logger *slog.Logger) (*cryptoutil.SecretBox, error) {
	if key == "" {
		if logger != nil {
			logger.Warn("subscription secret key is empty, signing secrets are read as plaintext")
		}
		return cryptoutil.NewSecretBox(nil)
	}

	box, err := cryptoutil.NewSecretBox(DeriveSecretKey(key))
	if err != nil {
		return nil, fmt.Errorf("create secret box: %w", err)
	}
	return box, nil
}

// DeriveSecretKey turns the configured key into 32 AES key bytes.
// A 64-character hex string is decoded as-is; anything else is hashed.
func DeriveSecretKey(key string) []byte {
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		return decoded
	}
	hash := sha256.Sum256([]byte(key))
	return hash[:]
}
