// Package tokenstore persists OAuth credentials per (user, server) pair,
// encrypted at rest with a process-wide key.
package tokenstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens token payloads with XChaCha20-Poly1305. The random
// nonce is prefixed to the ciphertext.
type Cipher struct {
	key []byte
}

// NewCipher builds a cipher from a hex-encoded 32-byte key. The key is
// process-wide configuration and never derived from token material.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Cipher{key: key}, nil
}

// NewRandomKey returns a fresh hex-encoded key, for setup tooling.
func NewRandomKey() string {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(key)
}

// Seal encrypts plaintext. Never fails for valid ciphers.
func (c *Cipher) Seal(plaintext []byte) []byte {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		panic("chacha20poly1305: " + err.Error()) // key length is validated in NewCipher
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return aead.Seal(nonce, nonce, plaintext, nil)
}

// Open decrypts a sealed payload. A wrong key or corrupted ciphertext is an
// authentication failure, never silently-empty plaintext.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		panic("chacha20poly1305: " + err.Error())
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
