package api

import (
	"time"

	"github.com/ruteri/tee-key-broker/interfaces"
)

// Error classifications returned with every failure response. They tell the
// caller whether to start a new session, fix its configuration, or wait out a
// backend outage - without revealing expected measurements or nonce values.
const (
	// ClassRetryNewSession: the session cannot make progress; a fresh session
	// may succeed.
	ClassRetryNewSession = "retry_new_session"

	// ClassConfiguration: the request references an unknown secret or policy,
	// or is malformed.
	ClassConfiguration = "configuration"

	// ClassBackendUnavailable: a transient outage of the secret backend or a
	// storage backend.
	ClassBackendUnavailable = "backend_unavailable"
)

// StartSessionRequest opens an attestation session for a secret.
type StartSessionRequest struct {
	SecretID     string                  `json:"secret_id"`
	GuestContext interfaces.GuestContext `json:"guest_context"`
}

// StartSessionResponse carries the challenge. The nonce appears here and in
// no subsequent response payload.
type StartSessionResponse struct {
	SessionID string           `json:"session_id"`
	Nonce     interfaces.Nonce `json:"nonce"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// SubmitMeasurementRequest carries the guest's launch digest, hex encoded.
type SubmitMeasurementRequest struct {
	Digest string `json:"digest"`
}

// SubmitMeasurementResponse reports the verification verdict. The verdict
// shape is identical for policy violations and digest mismatches.
type SubmitMeasurementResponse struct {
	Verified bool `json:"verified"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}
