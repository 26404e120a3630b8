package kbshandler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-key-broker/api"
	"github.com/ruteri/tee-key-broker/interfaces"
	"github.com/ruteri/tee-key-broker/sessions"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes HTTP requests for the attestation session protocol.
// All protocol decisions live in the session manager; the handler only
// decodes requests, maps errors to status codes, and encodes responses.
type Handler struct {
	manager *sessions.Manager
	log     *slog.Logger
}

// NewHandler creates a protocol handler on top of a session manager.
func NewHandler(manager *sessions.Manager, log *slog.Logger) *Handler {
	return &Handler{manager: manager, log: log}
}

// RegisterRoutes mounts the protocol endpoints on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/kbs/v0/session", h.HandleStartSession)
	r.Post("/kbs/v0/session/{session_id}/measurement", h.HandleSubmitMeasurement)
	r.Post("/kbs/v0/session/{session_id}/secret", h.HandleReleaseSecret)
}

// HandleStartSession opens an attestation session and returns the challenge.
//
// URL format: POST /kbs/v0/session
//
// Request body: api.StartSessionRequest
// Response: api.StartSessionResponse
func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req api.StartSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, api.ClassConfiguration, "malformed request body")
		return
	}

	secretID, err := interfaces.NewSecretID(req.SecretID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, api.ClassConfiguration, "invalid secret id")
		return
	}

	challenge, err := h.manager.StartSession(r.Context(), secretID, req.GuestContext)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.StartSessionResponse{
		SessionID: challenge.SessionID.String(),
		Nonce:     challenge.Nonce,
		ExpiresAt: challenge.ExpiresAt,
	})
}

// HandleSubmitMeasurement records and verifies the guest's launch digest.
//
// URL format: POST /kbs/v0/session/{session_id}/measurement
//
// Request body: api.SubmitMeasurementRequest with the digest hex encoded
// Response: api.SubmitMeasurementResponse
//
// A digest that fails to decode or has the wrong length is a verification
// mismatch, not a request error; its response is indistinguishable from a
// well-formed mismatch.
func (h *Handler) HandleSubmitMeasurement(w http.ResponseWriter, r *http.Request) {
	sessionID := interfaces.SessionID(chi.URLParam(r, "session_id"))

	var req api.SubmitMeasurementRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, api.ClassConfiguration, "malformed request body")
		return
	}
	if req.Digest == "" {
		h.writeError(w, http.StatusBadRequest, api.ClassConfiguration, "missing digest")
		return
	}

	submitted, err := hex.DecodeString(req.Digest)
	if err != nil {
		// Undecodable digests still consume the session's single
		// verification attempt, as any malformed submission must.
		submitted = nil
	}

	verified, err := h.manager.SubmitMeasurement(r.Context(), sessionID, submitted)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, api.SubmitMeasurementResponse{Verified: verified})
}

// HandleReleaseSecret returns the secret of a verified session.
//
// URL format: POST /kbs/v0/session/{session_id}/secret
//
// Response: the secret value as application/octet-stream
func (h *Handler) HandleReleaseSecret(w http.ResponseWriter, r *http.Request) {
	sessionID := interfaces.SessionID(chi.URLParam(r, "session_id"))

	secret, err := h.manager.ReleaseSecret(r.Context(), sessionID)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(secret)
}

// writeMappedError converts engine errors to status codes and
// classifications. Error messages never include expected digests or nonces.
func (h *Handler) writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrPolicyNotFound):
		h.writeError(w, http.StatusNotFound, api.ClassConfiguration, "no policy for secret id")
	case errors.Is(err, interfaces.ErrSecretNotFound):
		h.writeError(w, http.StatusNotFound, api.ClassConfiguration, "secret not found")
	case errors.Is(err, interfaces.ErrSessionNotFound):
		h.writeError(w, http.StatusNotFound, api.ClassRetryNewSession, "unknown session")
	case errors.Is(err, interfaces.ErrSessionExpired):
		h.writeError(w, http.StatusGone, api.ClassRetryNewSession, "session expired")
	case errors.Is(err, interfaces.ErrMeasurementRecorded):
		h.writeError(w, http.StatusConflict, api.ClassRetryNewSession, "measurement already recorded")
	case errors.Is(err, interfaces.ErrSecretAlreadyReleased):
		h.writeError(w, http.StatusConflict, api.ClassRetryNewSession, "secret already released")
	case errors.Is(err, interfaces.ErrInvalidSessionState):
		h.writeError(w, http.StatusConflict, api.ClassRetryNewSession, "operation not allowed in current session state")
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		h.writeError(w, http.StatusBadGateway, api.ClassBackendUnavailable, "backend unavailable")
	default:
		h.log.Error("Unhandled engine error", "err", err)
		h.writeError(w, http.StatusInternalServerError, api.ClassBackendUnavailable, "internal error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, class, msg string) {
	h.writeJSON(w, status, api.ErrorResponse{Error: msg, Class: class})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
