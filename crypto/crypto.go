// Package crypto seals platform OAuth tokens at rest with AES-256-GCM.
//
// Each ciphertext is bound to a context string (the provider name) through
// GCM additional data, so a token sealed for one provider cannot be opened
// as another's. A short key id derived from the key is stored next to the
// ciphertext to detect rows sealed under a different key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrOpen is returned when a ciphertext fails authentication.
var ErrOpen = errors.New("decryption failed: authentication or integrity check failed")

// Sealer is an authenticated cipher for short secrets.
type Sealer interface {
	Seal(plaintext, context []byte) ([]byte, error)
	Open(ciphertext, context []byte) ([]byte, error)
	KeyID() string
}

// AESGCM implements Sealer with AES-256-GCM. Output layout is nonce || ciphertext || tag.
type AESGCM struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESGCM builds a sealer from a base64-encoded 32-byte key
// (generate one with `openssl rand -base64 32`).
func NewAESGCM(base64Key string) (*AESGCM, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &AESGCM{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID identifies the key without revealing it.
func (g *AESGCM) KeyID() string { return g.keyID }

// Seal encrypts plaintext bound to context with a fresh random nonce.
func (g *AESGCM) Seal(plaintext, context []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext is empty")
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return g.aead.Seal(nonce, nonce, plaintext, context), nil
}

// Open authenticates and decrypts a Seal output. The context must match.
func (g *AESGCM) Open(ciphertext, context []byte) ([]byte, error) {
	n := g.aead.NonceSize()
	if len(ciphertext) < n+g.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}
	pt, err := g.aead.Open(nil, ciphertext[:n], ciphertext[n:], context)
	if err != nil {
		// The underlying error carries no useful detail.
		return nil, ErrOpen
	}
	return pt, nil
}

// SealString seals s for text storage (base64). Empty input stays empty.
func SealString(s Sealer, plaintext, context string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ct, err := s.Seal([]byte(plaintext), []byte(context))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// OpenString reverses SealString.
func OpenString(s Sealer, sealed, context string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := s.Open(ct, []byte(context))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
