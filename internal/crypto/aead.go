// Package crypto implements the AES-256-GCM sealing and the X25519 key
// agreement the clipboard clients use. The relay itself never decrypts
// traffic; this package backs client-side tooling and end-to-end tests.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the AES-256-GCM nonce size (12 bytes).
	NonceSize = 12

	// TagSize is the GCM authentication tag size (16 bytes).
	TagSize = 16

	// aesKeySize is the AES-256 key size in bytes.
	aesKeySize = 32
)

var (
	ErrKeyLength   = errors.New("AES-256-GCM requires a 32-byte key")
	ErrNonceLength = errors.New("AES-256-GCM requires a 12-byte nonce")
	ErrTagLength   = errors.New("AES-256-GCM requires a 16-byte tag")
)

// EncryptionResult carries the three wire components of a sealed payload.
// Nonce and Tag travel base64-encoded in the envelope's encryption block;
// Ciphertext travels in the ciphertext field.
type EncryptionResult struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
	Tag        [TagSize]byte
}

// Encrypt seals plaintext with AES-256-GCM under a random nonce and
// splits the combined output into ciphertext and tag.
func Encrypt(key, plaintext, aad []byte) (EncryptionResult, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return EncryptionResult{}, err
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return EncryptionResult{}, fmt.Errorf("generate nonce: %w", err)
	}

	combined := aead.Seal(nil, nonce[:], plaintext, aad)
	splitAt := len(combined) - TagSize

	res := EncryptionResult{Nonce: nonce, Ciphertext: combined[:splitAt]}
	copy(res.Tag[:], combined[splitAt:])
	return res, nil
}

// Decrypt opens a payload previously split into ciphertext and tag.
func Decrypt(key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrNonceLength
	}
	if len(tag) != TagSize {
		return nil, ErrTagLength
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	combined := make([]byte, 0, len(ciphertext)+len(tag))
	combined = append(combined, ciphertext...)
	combined = append(combined, tag...)

	plaintext, err := aead.Open(nil, nonce, combined, aad)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != aesKeySize {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}
	return aead, nil
}
