// Package protocol implements the relay wire format: length-prefixed
// binary frames carrying JSON envelopes, plus the envelope schema and
// the clipboard payload validator.
//
// Frames are forwarded byte-identically between devices. The relay
// parses the envelope only to pick a route; it never decrypts and never
// rewrites the payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Header size: 4 bytes big-endian unsigned length.
const FrameHeaderSize = 4

var (
	ErrFrameTooShort      = errors.New("frame too short: need at least 4 bytes")
	ErrFrameTruncated     = errors.New("frame truncated")
	ErrFrameTrailingBytes = errors.New("frame has trailing bytes")
	ErrFrameInvalidUTF8   = errors.New("frame body is not valid UTF-8")
)

// EncodeFrame serializes a JSON string into a length-prefixed binary frame.
func EncodeFrame(jsonStr string) []byte {
	buf := make([]byte, FrameHeaderSize+len(jsonStr))
	binary.BigEndian.PutUint32(buf[:FrameHeaderSize], uint32(len(jsonStr)))
	copy(buf[FrameHeaderSize:], jsonStr)
	return buf
}

// DecodeFrame deserializes a length-prefixed binary frame into its JSON
// string. The declared length must match the remaining bytes exactly.
func DecodeFrame(data []byte) (string, error) {
	body, err := frameBody(data)
	if err != nil {
		return "", err
	}
	if uint64(len(data)-FrameHeaderSize) > uint64(len(body)) {
		return "", fmt.Errorf("%w: declared %d, got %d", ErrFrameTrailingBytes, len(body), len(data)-FrameHeaderSize)
	}
	if !utf8.Valid(body) {
		return "", ErrFrameInvalidUTF8
	}
	return string(body), nil
}

// DecodeFrameLenient decodes like DecodeFrame but tolerates trailing
// bytes after the declared length. Kept for legacy clients only.
func DecodeFrameLenient(data []byte) (string, error) {
	body, err := frameBody(data)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(body) {
		return "", ErrFrameInvalidUTF8
	}
	return string(body), nil
}

// frameBody returns the declared-length slice after the header.
func frameBody(data []byte) ([]byte, error) {
	if len(data) < FrameHeaderSize {
		return nil, fmt.Errorf("%w: got %d", ErrFrameTooShort, len(data))
	}
	declared := binary.BigEndian.Uint32(data[:FrameHeaderSize])
	rest := data[FrameHeaderSize:]
	if uint64(len(rest)) < uint64(declared) {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrFrameTruncated, declared, len(rest))
	}
	return rest[:declared], nil
}
