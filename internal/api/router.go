// Package api wires the relay's HTTP surface: the WebSocket endpoint,
// health and status snapshots, the connected-peers query, Prometheus
// metrics, and the pairing handshake.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/callzhang/hypo/internal/config"
	"github.com/callzhang/hypo/internal/pairing"
	"github.com/callzhang/hypo/internal/session"
	"github.com/callzhang/hypo/internal/stats"
)

// Deps carries the shared state the HTTP layer serves.
type Deps struct {
	Config   *config.Config
	Registry *session.Registry
	Pairing  pairing.Store
	Stats    *stats.Collector
	Relay    http.Handler
	Version  string
}

// Router handles HTTP routing
type Router struct {
	mux       *http.ServeMux
	cfg       *config.Config
	registry  *session.Registry
	store     pairing.Store
	stats     *stats.Collector
	version   string
	startedAt time.Time
}

// NewRouter creates a new router instance
func NewRouter(deps Deps) http.Handler {
	r := &Router{
		mux:       http.NewServeMux(),
		cfg:       deps.Config,
		registry:  deps.Registry,
		store:     deps.Pairing,
		stats:     deps.Stats,
		version:   deps.Version,
		startedAt: time.Now(),
	}
	r.setupRoutes(deps.Relay)
	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes(relay http.Handler) {
	pairingHandlers := NewPairingHandlers(r.store, r.stats)

	r.mux.Handle("/ws", relay)
	r.mux.HandleFunc("/health", r.handleHealth)
	r.mux.HandleFunc("/status", r.handleStatus)
	r.mux.HandleFunc("/peers", r.handlePeers)
	r.mux.Handle("/metrics", promhttp.Handler())

	r.mux.HandleFunc("/pairing/code", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			pairingHandlers.HandleCreateCode(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/pairing/claim", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			pairingHandlers.HandleClaim(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/pairing/code/", pairingHandlers.HandleCodeSubpath)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.cfg.AllowedOrigins != "" {
		w.Header().Set("Access-Control-Allow-Origin", r.cfg.AllowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Device-Id, X-Device-Platform, X-Auth-Token")
	}

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")

	// The upgrader has to hijack the raw connection, so /ws bypasses
	// the status-recording wrapper.
	if req.URL.Path == "/ws" {
		r.mux.ServeHTTP(w, req)
		return
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.mux.ServeHTTP(rec, req)
	elapsed := time.Since(start)

	r.stats.RecordRequestDuration(elapsed.Seconds())
	recordAPIRequest(req.Method, normalizeRoute(req.URL.Path), rec.status, elapsed)
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", rec.status).
		Dur("duration", elapsed).
		Msg("Request handled")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// handleHealth handles health check requests
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        r.version,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(r.startedAt).Seconds()),
		"connections":    r.registry.ActiveCount(),
	})
}

// handleStatus reports the operational snapshot: connections, message
// counters, pairing backend health, and request latency.
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := r.stats.Snapshot()
	var avgMs any
	if snap.HasDurations {
		avgMs = snap.AvgRequestDuration * 1000
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(r.startedAt).Seconds()),
		"connections": map[string]any{
			"active":      r.registry.ActiveCount(),
			"devices":     r.registry.ConnectedDevices(),
			"description": "Number of active WebSocket connections (devices) and list of connected device IDs",
		},
		"messages": map[string]any{
			"processed":   snap.MessagesProcessed,
			"description": "Total number of messages processed since server start",
		},
		"pairing": map[string]any{
			"operations":  snap.PairingOps,
			"healthy":     r.store.Ping(req.Context()) == nil,
			"description": "Total number of pairing store operations since server start",
		},
		"errors": map[string]any{
			"count":       snap.Errors,
			"description": "Total number of errors since server start",
		},
		"performance": map[string]any{
			"avg_request_duration_ms": avgMs,
			"description":             "Average request duration in milliseconds (last 1000 requests)",
		},
	})
}

type peerInfo struct {
	DeviceID string `json:"device_id"`
	LastSeen string `json:"last_seen"`
}

// handlePeers answers presence queries. device_id may repeat or carry
// a comma-separated list; matching is case-insensitive.
func (r *Router) handlePeers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	wanted := make(map[string]struct{})
	for _, raw := range req.URL.Query()["device_id"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				wanted[strings.ToLower(id)] = struct{}{}
			}
		}
	}
	if len(wanted) == 0 {
		writeJSONError(w, http.StatusBadRequest, "device_id query parameter is required")
		return
	}

	connected := make([]peerInfo, 0)
	for _, info := range r.registry.ConnectedDevicesInfo() {
		if _, ok := wanted[info.DeviceID]; ok {
			connected = append(connected, peerInfo{
				DeviceID: info.DeviceID,
				LastSeen: info.LastSeen.UTC().Format(time.RFC3339),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"connected_devices": connected})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
