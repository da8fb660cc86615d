package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// AES-256-GCM parameters the clipboard clients encrypt with.
const (
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrMissingEncryption = errors.New("missing encryption block")
	ErrMissingNonce      = errors.New("missing nonce")
	ErrMissingTag        = errors.New("missing tag")
	ErrNonceEncoding     = errors.New("invalid nonce encoding")
	ErrNonceLength       = errors.New("nonce must be 12 bytes")
	ErrTagEncoding       = errors.New("invalid tag encoding")
	ErrTagLength         = errors.New("tag must be 16 bytes")
	ErrMissingBody       = errors.New("missing data/ciphertext field")
	ErrBodyEncoding      = errors.New("invalid data encoding")
)

// EncryptionHeader carries the AEAD parameters of a clipboard payload.
// Empty nonce and tag together mark an intentional plaintext message.
type EncryptionHeader struct {
	Nonce *string `json:"nonce"`
	Tag   *string `json:"tag"`
}

// ClipboardPayload is the validated subset of a clipboard envelope
// payload. Ciphertext is the preferred field name; Data is a legacy
// alias some clients still send.
type ClipboardPayload struct {
	Encryption *EncryptionHeader `json:"encryption"`
	Ciphertext *string           `json:"ciphertext"`
	Data       *string           `json:"data"`
	Target     string            `json:"target,omitempty"`
}

// ParseClipboardPayload parses the raw payload of a clipboard envelope.
func ParseClipboardPayload(raw json.RawMessage) (*ClipboardPayload, error) {
	var p ClipboardPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse clipboard payload: %w", err)
	}
	return &p, nil
}

// Validate checks the encryption block and body encoding. It never
// decrypts and never inspects the ciphertext contents. Callers drop
// failing payloads without replying to the sender.
func (p *ClipboardPayload) Validate() error {
	if p.Encryption == nil {
		return ErrMissingEncryption
	}
	if p.Encryption.Nonce == nil {
		return ErrMissingNonce
	}
	if p.Encryption.Tag == nil {
		return ErrMissingTag
	}
	nonce, tag := *p.Encryption.Nonce, *p.Encryption.Tag

	// Empty nonce and tag mean an intentional plaintext message.
	if nonce == "" && tag == "" {
		return p.validateBody()
	}

	decoded, err := DecodeBase64(nonce)
	if err != nil {
		return ErrNonceEncoding
	}
	if len(decoded) != NonceSize {
		return ErrNonceLength
	}
	decoded, err = DecodeBase64(tag)
	if err != nil {
		return ErrTagEncoding
	}
	if len(decoded) != TagSize {
		return ErrTagLength
	}
	return p.validateBody()
}

func (p *ClipboardPayload) validateBody() error {
	body := p.Ciphertext
	if body == nil {
		body = p.Data
	}
	if body == nil {
		return ErrMissingBody
	}
	if _, err := DecodeBase64(*body); err != nil {
		return ErrBodyEncoding
	}
	return nil
}

// DecodeBase64 decodes standard-alphabet base64 with or without
// padding. Some clients emit unpadded strings.
func DecodeBase64(s string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
