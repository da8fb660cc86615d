package relay

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/callzhang/hypo/internal/session"
	"github.com/callzhang/hypo/internal/stats"
)

// defaultMaxFrameBytes caps inbound WebSocket messages when no limit
// is configured. Clipboard payloads can carry large images, so the
// default is deliberately generous.
const defaultMaxFrameBytes = 1 << 30

// Options configures connection admission.
type Options struct {
	// AuthSecret enables HMAC token auth when non-empty.
	AuthSecret string
	// MaxFrameBytes is the read limit applied to each connection.
	MaxFrameBytes int64
	// StrictEmptyFrames closes connections that send zero-length
	// binary frames instead of ignoring them.
	StrictEmptyFrames bool
}

// Handler upgrades /ws requests and runs the relay loops for each
// admitted device.
type Handler struct {
	registry *session.Registry
	keys     *session.KeyStore
	stats    *stats.Collector
	opts     Options
	router   *Router
	control  *ControlPlane
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(registry *session.Registry, keys *session.KeyStore, collector *stats.Collector, opts Options, logger zerolog.Logger) *Handler {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = defaultMaxFrameBytes
	}
	return &Handler{
		registry: registry,
		keys:     keys,
		stats:    collector,
		opts:     opts,
		router:   NewRouter(registry, collector, logger),
		control:  NewControlPlane(registry, keys, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are native apps, not browsers; origin headers
			// carry no trust here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get("X-Device-Id")
	platform := r.Header.Get("X-Device-Platform")
	if deviceID == "" || platform == "" {
		h.log.Warn().
			Str("remote", r.RemoteAddr).
			Msg("Rejected connection with missing identity headers")
		writeJSONError(w, http.StatusBadRequest, "Missing X-Device-Id or X-Device-Platform header")
		return
	}
	deviceID = strings.ToLower(deviceID)

	if h.opts.AuthSecret != "" {
		if !VerifyAuthToken(h.opts.AuthSecret, deviceID, r.Header.Get("X-Auth-Token")) {
			h.log.Warn().
				Str("device_id", deviceID).
				Str("remote", r.RemoteAddr).
				Msg("Rejected connection with bad auth token")
			writeJSONError(w, http.StatusUnauthorized, "Invalid or missing X-Auth-Token header")
			return
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	ws.SetReadLimit(h.opts.MaxFrameBytes)

	reg := h.registry.Register(deviceID)
	recordConnectionOpened(h.registry.ActiveCount())

	connLog := h.log.With().
		Str("device_id", deviceID).
		Str("platform", platform).
		Logger()
	connLog.Info().
		Str("remote", r.RemoteAddr).
		Uint64("session_token", reg.Token).
		Msg("Device connected")

	c := &Conn{
		ws:                ws,
		deviceID:          deviceID,
		platform:          platform,
		token:             reg.Token,
		receiver:          reg.Receiver,
		registry:          h.registry,
		router:            h.router,
		control:           h.control,
		stats:             h.stats,
		strictEmptyFrames: h.opts.StrictEmptyFrames,
		log:               connLog,
	}
	go c.writeLoop()
	c.readLoop()
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
