package relay

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/callzhang/hypo/internal/protocol"
	"github.com/callzhang/hypo/internal/session"
)

// ControlPlane handles control-type envelopes: symmetric key
// registration and connected-peer queries. Control messages are
// consumed by the relay and never forwarded to other devices.
type ControlPlane struct {
	registry *session.Registry
	keys     *session.KeyStore
	log      zerolog.Logger
}

func NewControlPlane(registry *session.Registry, keys *session.KeyStore, logger zerolog.Logger) *ControlPlane {
	return &ControlPlane{
		registry: registry,
		keys:     keys,
		log:      logger,
	}
}

// Handle dispatches a control envelope from the given device. Unknown
// or malformed control messages are logged and dropped; they never
// terminate the connection.
func (c *ControlPlane) Handle(senderID string, env *protocol.Envelope) {
	var payload protocol.ControlPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.log.Warn().
			Err(err).
			Str("device_id", senderID).
			Msg("Invalid control payload")
		return
	}

	switch payload.Action {
	case protocol.ActionRegisterKey:
		c.registerKey(senderID, payload.SymmetricKey)
	case protocol.ActionDeregisterKey:
		c.keys.Remove(senderID)
		c.log.Info().Str("device_id", senderID).Msg("Deregistered symmetric key")
	case protocol.ActionQueryConnectedPeers:
		c.replyConnectedPeers(senderID, env.ID, payload.DeviceIDs)
	default:
		c.log.Warn().
			Str("device_id", senderID).
			Str("action", payload.Action).
			Msg("Unknown control action")
	}
}

func (c *ControlPlane) registerKey(senderID, encoded string) {
	if encoded == "" {
		c.log.Warn().
			Str("device_id", senderID).
			Msg("register_key missing symmetric_key field")
		return
	}
	key, err := protocol.DecodeBase64(encoded)
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("device_id", senderID).
			Msg("Symmetric key is not valid base64")
		return
	}
	if err := c.keys.Store(senderID, key); err != nil {
		c.log.Warn().
			Err(err).
			Str("device_id", senderID).
			Int("key_bytes", len(key)).
			Msg("Rejected symmetric key")
		return
	}
	c.log.Info().Str("device_id", senderID).Msg("Registered symmetric key")
}

// replyConnectedPeers answers a query_connected_peers request. A nil
// filter returns every connected device; a supplied filter narrows the
// reply to the intersection, matched case-insensitively.
func (c *ControlPlane) replyConnectedPeers(senderID, originalID string, filter []string) {
	devices := c.registry.ConnectedDevices()
	if filter != nil {
		wanted := make(map[string]struct{}, len(filter))
		for _, id := range filter {
			wanted[strings.ToLower(id)] = struct{}{}
		}
		matched := make([]string, 0, len(devices))
		for _, id := range devices {
			if _, ok := wanted[id]; ok {
				matched = append(matched, id)
			}
		}
		devices = matched
	}

	env, err := protocol.NewEnvelope(protocol.TypeControl, protocol.ConnectedPeersPayload{
		ConnectedDevices:  devices,
		OriginalMessageID: originalID,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to build connected peers reply")
		return
	}
	frame, err := env.EncodeBinary()
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode connected peers reply")
		return
	}
	if err := c.registry.SendBinary(senderID, frame); err != nil {
		c.log.Debug().
			Err(err).
			Str("device_id", senderID).
			Msg("Could not deliver connected peers reply")
		return
	}
	c.log.Debug().
		Str("device_id", senderID).
		Int("peers", len(devices)).
		Msg("Answered connected peers query")
}
