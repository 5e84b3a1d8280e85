// Package security provides optional at-rest encryption for the remote
// cache tier, so a shared Redis instance never sees proxied response
// bodies in the clear.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// cacheKeySalt is fixed: the passphrase (CACHE_ENCRYPTION_KEY) is a
// high-entropy operator secret, not a user password, and a deployment
// derives exactly one key from it, so a per-value salt buys nothing.
var cacheKeySalt = []byte("gateway-cache-encryption-v1")

// DeriveKey returns a 32-byte AES-256 key from a passphrase using Argon2id.
func DeriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), cacheKeySalt, 1, 64*1024, 4, 32)
}

// Encrypt encrypts plaintext with AES-256-GCM, prepending a random 12-byte
// nonce, and returns the result base64-encoded.
func Encrypt(plaintext []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// KeySealer adapts a derived key to the cache package's Sealer interface.
type KeySealer struct {
	Key []byte
}

// NewKeySealer derives a key from passphrase and returns a ready-to-use
// KeySealer.
func NewKeySealer(passphrase string) *KeySealer {
	return &KeySealer{Key: DeriveKey(passphrase)}
}

// Seal implements cache.Sealer.
func (s *KeySealer) Seal(plaintext []byte) (string, error) {
	return Encrypt(plaintext, s.Key)
}

// Open implements cache.Sealer.
func (s *KeySealer) Open(ciphertext string) ([]byte, error) {
	return Decrypt(ciphertext, s.Key)
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
