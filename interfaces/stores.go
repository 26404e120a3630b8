package interfaces

import "context"

// SessionStore is the durable record of session metadata. Implementations
// must apply conditional writes atomically: either the whole mutation is
// visible or none of it is. Secret values are never handed to this layer.
type SessionStore interface {
	// Create persists a new session row. Returns ErrSessionExists if the id
	// is already present.
	Create(ctx context.Context, session *Session) error

	// Load retrieves a session by id. The returned session is a copy owned by
	// the caller. Returns ErrSessionNotFound for unknown ids.
	Load(ctx context.Context, id SessionID) (*Session, error)

	// SaveIfState persists the session's mutable fields if and only if the
	// stored row is still in the expected state. Returns ErrStaleSession if
	// the state no longer matches.
	SaveIfState(ctx context.Context, session *Session, expect SessionState) error

	// CompareAndSwapState transitions the stored row from one state to
	// another. Returns ErrStaleSession if the row is not in the from state.
	CompareAndSwapState(ctx context.Context, id SessionID, from, to SessionState) error
}

// PolicyStore resolves the policy record guarding a secret. Lookups are
// read-only and keyed by secret id.
type PolicyStore interface {
	// PolicyFor returns the policy for a secret id, or ErrPolicyNotFound.
	PolicyFor(ctx context.Context, id SecretID) (*Policy, error)
}

// SecretBackend is the capability to read a secret value from the external
// custodian. Implementations classify failures as ErrSecretNotFound or
// ErrBackendUnavailable and must not retry: release is at-most-once.
type SecretBackend interface {
	Get(ctx context.Context, id SecretID) ([]byte, error)
}
