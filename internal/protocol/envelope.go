package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the envelope protocol version the relay emits.
const Version = "1.0"

// Envelope message types.
const (
	TypeClipboard = "clipboard"
	TypeControl   = "control"
	TypeError     = "error"
)

// Control actions understood by the relay.
const (
	ActionRegisterKey         = "register_key"
	ActionDeregisterKey       = "deregister_key"
	ActionQueryConnectedPeers = "query_connected_peers"
)

// CodeDeviceNotConnected is sent back when a targeted recipient is offline.
const CodeDeviceNotConnected = "device_not_connected"

var (
	ErrEnvelopeID        = errors.New("envelope id is not a valid uuid")
	ErrEnvelopeTimestamp = errors.New("envelope timestamp missing")
	ErrEnvelopeVersion   = errors.New("envelope version missing")
	ErrEnvelopeType      = errors.New("unknown envelope type")
)

// Envelope is the outer JSON message carried inside each frame. The
// payload schema depends on Type and is left opaque here so that
// forwarded frames stay byte-identical.
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// ControlPayload is the inbound payload of a control envelope.
type ControlPayload struct {
	Action       string   `json:"action"`
	SymmetricKey string   `json:"symmetric_key,omitempty"`
	DeviceIDs    []string `json:"device_ids,omitempty"`
}

// ConnectedPeersPayload is the relay's reply to query_connected_peers.
type ConnectedPeersPayload struct {
	ConnectedDevices  []string `json:"connected_devices"`
	OriginalMessageID string   `json:"original_message_id"`
}

// ErrorPayload is the payload of a relay-synthesized error envelope.
type ErrorPayload struct {
	Code              string   `json:"code"`
	Message           string   `json:"message"`
	OriginalMessageID string   `json:"original_message_id"`
	TargetDeviceID    string   `json:"target_device_id,omitempty"`
	ConnectedDevices  []string `json:"connected_devices,omitempty"`
}

// ParseEnvelope parses and checks the outer envelope. Inbound envelopes
// must carry a UUID id, a timestamp, a version, and a clipboard or
// control type; anything else is dropped by the caller.
func ParseEnvelope(jsonStr string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(jsonStr), &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if _, err := uuid.Parse(env.ID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrEnvelopeID, env.ID)
	}
	if env.Timestamp == "" {
		return nil, ErrEnvelopeTimestamp
	}
	if env.Version == "" {
		return nil, ErrEnvelopeVersion
	}
	if env.Type != TypeClipboard && env.Type != TypeControl {
		return nil, fmt.Errorf("%w: %q", ErrEnvelopeType, env.Type)
	}
	return &env, nil
}

// NewEnvelope builds a relay-synthesized envelope around the given payload.
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		Type:      msgType,
		Payload:   raw,
	}, nil
}

// EncodeBinary serializes the envelope to JSON and wraps it in a
// length-prefixed binary frame.
func (e *Envelope) EncodeBinary() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return EncodeFrame(string(raw)), nil
}
