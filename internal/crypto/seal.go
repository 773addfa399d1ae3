// Package crypto seals OAuth tokens before they are written to the database.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the sealing key from the configured secret.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	keyLen       uint32 = chacha20poly1305.KeySize
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKey derives a 32-byte sealing key from a secret and salt using Argon2id.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, keyLen)
}

// Sealer encrypts short secrets with XChaCha20-Poly1305 and a random nonce.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer constructs a Sealer for a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext bound to aad. The output is nonce||ciphertext.
// An empty plaintext seals to nil.
func (s *Sealer) Seal(plaintext string, aad []byte) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, []byte(plaintext), aad), nil
}

// Open decrypts a blob produced by Seal with the same aad.
func (s *Sealer) Open(blob, aad []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return "", errors.New("sealed value too short")
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	pt, err := s.aead.Open(nil, nonce, blob[chacha20poly1305.NonceSizeX:], aad)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
