package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrInvalidKey is returned for a token key that is not 32 hex-encoded bytes
var ErrInvalidKey = errors.New("token key must be 32 bytes, hex encoded")

// ErrDecrypt is returned when a sealed value cannot be opened
var ErrDecrypt = errors.New("failed to decrypt sealed value")

// SecretboxCipher seals shop credentials with NaCl secretbox. Sealed values
// are base64(nonce || box).
type SecretboxCipher struct {
	key [32]byte
}

// NewSecretboxCipher creates a cipher from a hex encoded 32 byte key
func NewSecretboxCipher(hexKey string) (*SecretboxCipher, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	c := &SecretboxCipher{}
	copy(c.key[:], raw)
	return c, nil
}

// Encrypt seals plaintext under a fresh random nonce
func (c *SecretboxCipher) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func (c *SecretboxCipher) Decrypt(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
