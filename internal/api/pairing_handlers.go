package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callzhang/hypo/internal/pairing"
	"github.com/callzhang/hypo/internal/ratelimit"
	"github.com/callzhang/hypo/internal/stats"
)

// Pairing endpoints are unauthenticated, and the 6-digit code space is
// small. Code creation and claiming share one token bucket; the
// challenge/ack poll endpoints stay unthrottled because clients poll
// them in a tight loop during the handshake.
const (
	pairingBurst      = 20
	pairingRefillRate = 0.5
)

// PairingHandlers serves the pairing handshake endpoints.
type PairingHandlers struct {
	store   pairing.Store
	stats   *stats.Collector
	limiter *ratelimit.Limiter
}

func NewPairingHandlers(store pairing.Store, collector *stats.Collector) *PairingHandlers {
	return &PairingHandlers{
		store:   store,
		stats:   collector,
		limiter: ratelimit.New(pairingBurst, pairingRefillRate),
	}
}

type createCodeRequest struct {
	InitiatorDeviceID   string `json:"initiator_device_id"`
	InitiatorDeviceName string `json:"initiator_device_name"`
	InitiatorPublicKey  string `json:"initiator_public_key"`
}

type createCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claimCodeRequest struct {
	Code                string `json:"code"`
	ResponderDeviceID   string `json:"responder_device_id"`
	ResponderDeviceName string `json:"responder_device_name"`
	ResponderPublicKey  string `json:"responder_public_key"`
}

type claimCodeResponse struct {
	InitiatorDeviceID   string    `json:"initiator_device_id"`
	InitiatorDeviceName string    `json:"initiator_device_name"`
	InitiatorPublicKey  string    `json:"initiator_public_key"`
	ExpiresAt           time.Time `json:"expires_at"`
}

type submitChallengeRequest struct {
	ResponderDeviceID string `json:"responder_device_id"`
	Challenge         string `json:"challenge"`
}

type submitAckRequest struct {
	InitiatorDeviceID string `json:"initiator_device_id"`
	Ack               string `json:"ack"`
}

// HandleCreateCode allocates a pairing code for the initiator.
func (h *PairingHandlers) HandleCreateCode(w http.ResponseWriter, req *http.Request) {
	if !h.allow(w) {
		return
	}
	var body createCodeRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.InitiatorDeviceID == "" || body.InitiatorDeviceName == "" || body.InitiatorPublicKey == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.stats.PairingOp()
	entry, err := h.store.CreateCode(req.Context(),
		body.InitiatorDeviceID, body.InitiatorDeviceName, body.InitiatorPublicKey, pairing.CodeTTL)
	if err != nil {
		h.writePairingError(w, err)
		return
	}

	log.Info().
		Str("device_id", body.InitiatorDeviceID).
		Time("expires_at", entry.ExpiresAt).
		Msg("Issued pairing code")
	writeJSON(w, http.StatusOK, createCodeResponse{Code: entry.Code, ExpiresAt: entry.ExpiresAt})
}

// HandleClaim binds the responder to a code and reveals the
// initiator's identity and public key.
func (h *PairingHandlers) HandleClaim(w http.ResponseWriter, req *http.Request) {
	if !h.allow(w) {
		return
	}
	var body claimCodeRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.Code == "" || body.ResponderDeviceID == "" || body.ResponderDeviceName == "" || body.ResponderPublicKey == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.stats.PairingOp()
	entry, err := h.store.ClaimCode(req.Context(),
		body.Code, body.ResponderDeviceID, body.ResponderDeviceName, body.ResponderPublicKey)
	if err != nil {
		h.writePairingError(w, err)
		return
	}

	log.Info().
		Str("device_id", body.ResponderDeviceID).
		Msg("Pairing code claimed")
	writeJSON(w, http.StatusOK, claimCodeResponse{
		InitiatorDeviceID:   entry.InitiatorDeviceID,
		InitiatorDeviceName: entry.InitiatorDeviceName,
		InitiatorPublicKey:  entry.InitiatorPublicKey,
		ExpiresAt:           entry.ExpiresAt,
	})
}

// HandleCodeSubpath dispatches /pairing/code/{code}/challenge and
// /pairing/code/{code}/ack.
func (h *PairingHandlers) HandleCodeSubpath(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/pairing/code/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, req)
		return
	}
	code := parts[0]

	switch parts[1] {
	case "challenge":
		switch req.Method {
		case http.MethodPost:
			h.handleSubmitChallenge(w, req, code)
		case http.MethodGet:
			h.handlePollChallenge(w, req, code)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "ack":
		switch req.Method {
		case http.MethodPost:
			h.handleSubmitAck(w, req, code)
		case http.MethodGet:
			h.handlePollAck(w, req, code)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, req)
	}
}

func (h *PairingHandlers) handleSubmitChallenge(w http.ResponseWriter, req *http.Request, code string) {
	var body submitChallengeRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.ResponderDeviceID == "" || body.Challenge == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.stats.PairingOp()
	if err := h.store.StoreChallenge(req.Context(), code, body.ResponderDeviceID, body.Challenge); err != nil {
		h.writePairingError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *PairingHandlers) handlePollChallenge(w http.ResponseWriter, req *http.Request, code string) {
	initiatorID := req.URL.Query().Get("initiator_device_id")
	if initiatorID == "" {
		writeJSONError(w, http.StatusBadRequest, "initiator_device_id query parameter is required")
		return
	}

	h.stats.PairingOp()
	challenge, err := h.store.ConsumeChallenge(req.Context(), code, initiatorID)
	if err != nil {
		h.writePairingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

func (h *PairingHandlers) handleSubmitAck(w http.ResponseWriter, req *http.Request, code string) {
	var body submitAckRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.InitiatorDeviceID == "" || body.Ack == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.stats.PairingOp()
	if err := h.store.StoreAck(req.Context(), code, body.InitiatorDeviceID, body.Ack); err != nil {
		h.writePairingError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *PairingHandlers) handlePollAck(w http.ResponseWriter, req *http.Request, code string) {
	responderID := req.URL.Query().Get("responder_device_id")
	if responderID == "" {
		writeJSONError(w, http.StatusBadRequest, "responder_device_id query parameter is required")
		return
	}

	h.stats.PairingOp()
	ack, err := h.store.ConsumeAck(req.Context(), code, responderID)
	if err != nil {
		h.writePairingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ack": ack})
}

func (h *PairingHandlers) allow(w http.ResponseWriter) bool {
	if h.limiter.Allow() {
		return true
	}
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func (h *PairingHandlers) writePairingError(w http.ResponseWriter, err error) {
	status := pairingStatus(err)
	if status >= http.StatusInternalServerError {
		h.stats.Error()
		log.Error().Err(err).Msg("Pairing store failure")
	}
	writeJSONError(w, status, err.Error())
}

// pairingStatus maps store sentinels onto HTTP status codes. Unknown
// errors are backend failures and surface as 500s.
func pairingStatus(err error) int {
	switch {
	case errors.Is(err, pairing.ErrNotFound),
		errors.Is(err, pairing.ErrChallengeNotAvailable),
		errors.Is(err, pairing.ErrAckNotAvailable):
		return http.StatusNotFound
	case errors.Is(err, pairing.ErrExpired):
		return http.StatusGone
	case errors.Is(err, pairing.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, pairing.ErrNotClaimed):
		return http.StatusBadRequest
	case errors.Is(err, pairing.ErrAllocationFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
