// Package relay implements the WebSocket relay core: connection
// admission, the per-connection read/write loops, clipboard routing,
// and the in-band control plane. The relay forwards encrypted frames
// byte-for-byte and never inspects ciphertext.
package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/callzhang/hypo/internal/protocol"
	"github.com/callzhang/hypo/internal/session"
	"github.com/callzhang/hypo/internal/stats"
)

// Router delivers validated clipboard frames to their recipients.
type Router struct {
	registry *session.Registry
	stats    *stats.Collector
	log      zerolog.Logger
}

func NewRouter(registry *session.Registry, collector *stats.Collector, logger zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		stats:    collector,
		log:      logger,
	}
}

// RouteClipboard forwards the sender's original frame bytes, either to
// the payload's target device or to every other connected device. The
// frame is relayed exactly as received; env and payload are only
// consulted for routing.
func (r *Router) RouteClipboard(senderID string, frame []byte, env *protocol.Envelope, payload *protocol.ClipboardPayload) {
	if payload.Target != "" {
		r.routeTargeted(senderID, frame, env, strings.ToLower(payload.Target))
		return
	}

	n := r.registry.BroadcastExcept(senderID, frame)
	r.stats.MessageProcessed()
	recordForwarded("broadcast", len(frame))
	r.log.Info().
		Str("sender", senderID).
		Int("recipients", n).
		Int("frame_bytes", len(frame)).
		Msg("Broadcast clipboard message")
}

func (r *Router) routeTargeted(senderID string, frame []byte, env *protocol.Envelope, target string) {
	err := r.registry.SendBinary(target, frame)
	if err == nil {
		r.stats.MessageProcessed()
		recordForwarded("targeted", len(frame))
		r.log.Debug().
			Str("sender", senderID).
			Str("target", target).
			Int("frame_bytes", len(frame)).
			Msg("Forwarded clipboard message")
		return
	}

	switch {
	case errors.Is(err, session.ErrDeviceNotConnected):
		r.log.Warn().
			Str("sender", senderID).
			Str("target", target).
			Msg("Target device is not connected")
		recordRoutingError("device_not_connected")
		r.stats.Error()
		r.sendDeviceNotConnected(senderID, env.ID, target)
	default:
		r.log.Error().
			Err(err).
			Str("sender", senderID).
			Str("target", target).
			Msg("Failed to deliver clipboard message")
		recordRoutingError("send_failed")
		r.stats.Error()
	}
}

// sendDeviceNotConnected tells the sender its target is offline. The
// notification is best effort: if the sender is itself gone by now the
// error is logged and dropped.
func (r *Router) sendDeviceNotConnected(senderID, originalID, target string) {
	env, err := protocol.NewEnvelope(protocol.TypeError, protocol.ErrorPayload{
		Code:              protocol.CodeDeviceNotConnected,
		Message:           fmt.Sprintf("target device %s is not connected", target),
		OriginalMessageID: originalID,
		TargetDeviceID:    target,
		ConnectedDevices:  r.registry.ConnectedDevices(),
	})
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to build error envelope")
		return
	}
	frame, err := env.EncodeBinary()
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encode error envelope")
		return
	}
	if err := r.registry.SendBinary(senderID, frame); err != nil {
		r.log.Debug().
			Err(err).
			Str("sender", senderID).
			Msg("Could not deliver device_not_connected notification")
	}
}
