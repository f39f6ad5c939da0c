/**
 * @description
 * CredentialVault provides symmetric encryption for Plaid access tokens
 * before they are persisted. AES-256-GCM with a random nonce per message;
 * ciphertext is base64(nonce || sealed) so it stores cleanly in a text
 * column.
 *
 * Key features:
 * - Authenticated encryption: tampered ciphertext fails to decrypt.
 * - Empty-string passthrough: an absent credential stays absent.
 *
 * @dependencies
 * - crypto/aes, crypto/cipher, crypto/rand: Standard Go libraries.
 */
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidKey is returned when the encryption key is not 32 bytes.
var ErrInvalidKey = errors.New("encryption key must be exactly 32 bytes")

// CredentialVault encrypts and decrypts provider credentials at rest.
type CredentialVault struct {
	aead cipher.AEAD
}

// New creates a CredentialVault from a 32-byte AES-256 key.
func New(key string) (*CredentialVault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CredentialVault{aead: aead}, nil
}

// Encrypt seals a plaintext credential and returns base64 ciphertext.
// The empty string encrypts to the empty string.
func (v *CredentialVault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64 ciphertext produced by Encrypt.
// The empty string decrypts to the empty string.
func (v *CredentialVault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return string(plaintext), nil
}
