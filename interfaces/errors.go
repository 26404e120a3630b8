package interfaces

import "errors"

// Protocol state errors. These are precondition rejections surfaced directly
// to the caller and never retried by the engine.
var (
	// ErrSessionNotFound indicates the session id is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session deadline has passed. An expired
	// session is frozen: every subsequent operation fails with this error.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidSessionState indicates an operation was invoked in a state
	// its precondition does not allow.
	ErrInvalidSessionState = errors.New("operation not allowed in current session state")

	// ErrMeasurementRecorded indicates a second measurement submission for a
	// session that already recorded one. The first submission is never
	// overwritten, which prevents multi-guess attacks against the digest
	// comparison.
	ErrMeasurementRecorded = errors.New("measurement already recorded for session")

	// ErrSecretAlreadyReleased indicates a release attempt on a session that
	// already released its secret. The rejection is idempotent; no second
	// backend fetch occurs.
	ErrSecretAlreadyReleased = errors.New("secret already released for session")
)

// Configuration and backend errors.
var (
	// ErrPolicyNotFound indicates no policy record exists for the secret id.
	ErrPolicyNotFound = errors.New("no policy for secret id")

	// ErrSecretNotFound indicates the secret backend holds no value for the id.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable indicates the secret backend or a storage backend
	// could not be reached. The caller may start a new session; the engine
	// never retries on its own.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Storage errors.
var (
	// ErrSessionExists indicates a create collision on a session id.
	ErrSessionExists = errors.New("session already exists")

	// ErrStaleSession indicates a conditional store write observed a state
	// other than the expected one. The in-flight operation is aborted without
	// partially applying its transition.
	ErrStaleSession = errors.New("session state changed concurrently")
)
