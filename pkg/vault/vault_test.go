package vault

import (
	"strings"
	"testing"
)

const testKey = "01234567890123456789012345678901" // 32 bytes for AES-256

func TestNew_InvalidKeyLength(t *testing.T) {
	if _, err := New("too-short"); err != ErrInvalidKey {
		t.Fatalf("New() error = %v, want %v", err, ErrInvalidKey)
	}
	if _, err := New(""); err != ErrInvalidKey {
		t.Fatalf("New(\"\") error = %v, want %v", err, ErrInvalidKey)
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tests := []string{
		"access-sandbox-1f3c7b2a",
		"",
		"Transação bancária — conta corrente ☕",
		strings.Repeat("long token ", 500),
		"\x00\x01\x02binary\xff",
	}

	for _, plaintext := range tests {
		ciphertext, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plaintext, err)
		}
		if plaintext != "" && ciphertext == plaintext {
			t.Errorf("Encrypt(%q) returned plaintext", plaintext)
		}
		decrypted, err := v.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("roundtrip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncrypt_DifferentCiphertexts(t *testing.T) {
	v, _ := New(testKey)

	c1, _ := v.Encrypt("same token")
	c2, _ := v.Encrypt("same token")
	if c1 == c2 {
		t.Error("Encrypt() produced identical ciphertexts for same plaintext (nonce should differ)")
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	v, _ := New(testKey)

	ciphertext, _ := v.Encrypt("secret token")
	tampered := ciphertext[:len(ciphertext)-2] + "XX"
	if _, err := v.Decrypt(tampered); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}
}

func TestDecrypt_InvalidInput(t *testing.T) {
	v, _ := New(testKey)

	if _, err := v.Decrypt("not-valid-base64!!!"); err == nil {
		t.Error("Decrypt() accepted invalid base64")
	}
	if _, err := v.Decrypt("YQ=="); err == nil {
		t.Error("Decrypt() accepted ciphertext shorter than nonce")
	}
}
