// Package secrets encrypts stored credentials at rest.
//
// Values written by the stores are wrapped with AES-256-GCM and carry an
// "enc:" prefix so plaintext rows from older deployments keep working.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const encPrefix = "enc:"

// Cipher wraps a fixed AES-256-GCM key.
// Params: 32-byte key.
// Returns: reusable encrypt/decrypt helper.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a cipher from a 32-byte key.
// Params: key raw key material.
// Returns: cipher or key error.
func New(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// MaybeEncrypt encrypts plaintext unless it is empty or already wrapped.
// Params: value plaintext secret.
// Returns: "enc:"-prefixed ciphertext or error.
func (c *Cipher) MaybeEncrypt(value string) (string, error) {
	if value == "" || strings.HasPrefix(value, encPrefix) {
		return value, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(value), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// MaybeDecrypt decrypts a wrapped value and passes plaintext through.
// Params: value stored secret column.
// Returns: plaintext or error.
func (c *Cipher) MaybeDecrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("secret payload too short")
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plain), nil
}
