package relay

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/callzhang/hypo/internal/protocol"
	"github.com/callzhang/hypo/internal/session"
	"github.com/callzhang/hypo/internal/stats"
)

const (
	// writeWait bounds every write to the peer, pings included.
	writeWait = 10 * time.Second
	// pingInterval keeps intermediaries from reaping idle connections.
	// Reads are never subject to a deadline: a silent but healthy
	// device stays connected indefinitely, and a dead one surfaces as
	// a failed ping write.
	pingInterval = 25 * time.Second
)

// Conn is one registered device connection. The read loop runs on the
// HTTP handler goroutine; the write loop runs on its own goroutine and
// owns all writes to the socket.
type Conn struct {
	ws       *websocket.Conn
	deviceID string
	platform string
	token    uint64
	receiver *session.Queue

	registry *session.Registry
	router   *Router
	control  *ControlPlane
	stats    *stats.Collector

	strictEmptyFrames bool
	log               zerolog.Logger
}

// writeLoop drains the session queue onto the socket and emits
// periodic pings. It exits when the queue is closed (a newer session
// took over) or a write fails.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if c.registry.UnregisterWithToken(c.deviceID, c.token) {
			c.log.Info().Msg("Session closed")
		} else {
			c.log.Debug().Msg("Stale writer exited; newer session is active")
		}
		recordActiveConnections(c.registry.ActiveCount())
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.receiver.Out():
			if !ok {
				// Replaced by a newer registration for the same
				// device id.
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session replaced"))
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("Failed to relay frame; client should retry")
				return
			}
			c.receiver.Refill()
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes frames from the device until the socket errors or
// the peer closes. Malformed traffic is dropped per frame; only
// transport failures end the session.
func (c *Conn) readLoop() {
	defer func() {
		if c.registry.UnregisterWithToken(c.deviceID, c.token) {
			c.log.Info().Msg("WebSocket closed")
		} else {
			c.log.Debug().Msg("Skipped unregister; newer session is active")
		}
		recordActiveConnections(c.registry.ActiveCount())
		c.ws.Close()
	}()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				if c.strictEmptyFrames {
					c.log.Warn().Msg("Closing connection on empty binary frame")
					c.ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "empty_binary_frame"),
						time.Now().Add(writeWait))
					return
				}
				c.log.Debug().Msg("Ignoring empty binary frame")
				continue
			}
			c.handleBinary(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

// handleBinary decodes a length-prefixed frame and relays the original
// bytes. Frames with trailing bytes are accepted for older clients;
// anything else malformed is dropped.
func (c *Conn) handleBinary(frame []byte) {
	jsonStr, err := protocol.DecodeFrame(frame)
	if errors.Is(err, protocol.ErrFrameTrailingBytes) {
		c.log.Warn().Int("frame_bytes", len(frame)).Msg("Legacy frame with trailing bytes")
		jsonStr, err = protocol.DecodeFrameLenient(frame)
	}
	if err != nil {
		c.log.Warn().Err(err).Int("frame_bytes", len(frame)).Msg("Discarding undecodable frame")
		recordDropped("frame_decode")
		c.stats.Error()
		return
	}
	c.process(jsonStr, frame)
}

// handleText accepts a bare JSON text message from older clients and
// re-encodes it as a binary frame before relaying.
func (c *Conn) handleText(data []byte) {
	jsonStr := string(data)
	c.process(jsonStr, protocol.EncodeFrame(jsonStr))
}

func (c *Conn) process(jsonStr string, frame []byte) {
	env, err := protocol.ParseEnvelope(jsonStr)
	if err != nil {
		c.log.Warn().Err(err).Msg("Received invalid message")
		recordDropped("envelope")
		c.stats.Error()
		return
	}

	if env.Type == protocol.TypeControl {
		c.control.Handle(c.deviceID, env)
		c.registry.Touch(c.deviceID)
		return
	}

	payload, err := protocol.ParseClipboardPayload(env.Payload)
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("message_id", env.ID).
			Msg("Discarding message")
		recordDropped("validation")
		c.stats.Error()
		return
	}

	c.router.RouteClipboard(c.deviceID, frame, env, payload)
	c.registry.Touch(c.deviceID)
}
