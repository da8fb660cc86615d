package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// hkdfSalt and hkdfInfo pin the derivation context shared with the
	// clipboard clients. Changing either breaks interop with every
	// deployed client.
	hkdfSalt = "hypo-clipboard-ecdh"
	hkdfInfo = "hypo-aes-256-gcm"

	x25519KeySize = 32
)

var (
	ErrPrivateKeyLength = errors.New("private key must be 32 bytes")
	ErrPublicKeyLength  = errors.New("public key must be 32 bytes")
)

// DeriveSymmetricKey performs X25519 key agreement and expands the
// shared secret into an AES-256 key via HKDF-SHA256.
func DeriveSymmetricKey(private, public []byte) ([]byte, error) {
	if len(private) != x25519KeySize {
		return nil, ErrPrivateKeyLength
	}
	if len(public) != x25519KeySize {
		return nil, ErrPublicKeyLength
	}

	priv, err := ecdh.X25519().NewPrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := ecdh.X25519().NewPublicKey(public)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	sharedSecret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	reader := hkdf.New(sha256.New, sharedSecret, []byte(hkdfSalt), []byte(hkdfInfo))
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}
	return key, nil
}

// GenerateKeyPair creates an X25519 keypair from the operating system RNG.
func GenerateKeyPair() (private, public []byte, err error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	return priv.Bytes(), priv.PublicKey().Bytes(), nil
}
