package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/tee-key-broker/cryptoutils"
	"github.com/ruteri/tee-key-broker/interfaces"
	"github.com/ruteri/tee-key-broker/metrics"
)

// DefaultSessionTTL is how long a guest has to complete attestation and
// collect its secret.
const DefaultSessionTTL = 3 * time.Hour

// Challenge is returned to the guest when a session is started.
type Challenge struct {
	SessionID interfaces.SessionID
	Nonce     interfaces.Nonce
	ExpiresAt time.Time
}

// Manager owns the attestation session state machine. It serializes all
// transitions for a given session id and enforces one-shot nonces and
// one-shot secret release.
type Manager struct {
	store    interfaces.SessionStore
	policies interfaces.PolicyStore
	gate     *ReleaseGate
	verifier *Verifier

	ttl   time.Duration
	locks *lockTable
	log   *slog.Logger

	// now is swapped out by tests to exercise expiry.
	now func() time.Time
}

// NewManager creates a session manager with the given collaborators. A zero
// ttl selects DefaultSessionTTL.
func NewManager(store interfaces.SessionStore, policies interfaces.PolicyStore, backend interfaces.SecretBackend, ttl time.Duration, log *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &Manager{
		store:    store,
		policies: policies,
		gate:     NewReleaseGate(backend, log),
		verifier: NewVerifier(log),
		ttl:      ttl,
		locks:    newLockTable(),
		log:      log,
		now:      time.Now,
	}
}

// StartSession creates a session for the secret id, mints its challenge
// nonce, and issues the challenge. The nonce is generated exactly once per
// session and never regenerated.
func (m *Manager) StartSession(ctx context.Context, secretID interfaces.SecretID, guestCtx interfaces.GuestContext) (*Challenge, error) {
	if err := secretID.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrPolicyNotFound, err)
	}

	// A session for a secret nobody can unlock is useless; reject up front.
	if _, err := m.policies.PolicyFor(ctx, secretID); err != nil {
		return nil, err
	}

	nonce, err := cryptoutils.GenerateNonce()
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &interfaces.Session{
		ID:           interfaces.NewSessionID(),
		State:        interfaces.StateRequested,
		SecretID:     secretID,
		Nonce:        nonce,
		GuestContext: guestCtx,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
	}

	unlock := m.locks.acquire(session.ID)
	defer unlock()

	if err := m.store.Create(ctx, session); err != nil {
		return nil, err
	}
	if err := m.store.CompareAndSwapState(ctx, session.ID, interfaces.StateRequested, interfaces.StateChallengeIssued); err != nil {
		return nil, err
	}

	metrics.SessionsStarted.Inc()
	m.log.Info("Session started",
		slog.String("session_id", session.ID.String()),
		slog.String("secret_id", secretID.String()))

	return &Challenge{
		SessionID: session.ID,
		Nonce:     nonce,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// SubmitMeasurement records the guest's launch digest and verifies it. The
// digest is recorded at most once: a second submission for the same session
// is rejected rather than overwriting the first. Returns whether the session
// reached the verified state.
func (m *Manager) SubmitMeasurement(ctx context.Context, id interfaces.SessionID, submittedDigest []byte) (bool, error) {
	unlock := m.locks.acquire(id)
	defer unlock()

	session, err := m.loadLive(ctx, id)
	if err != nil {
		return false, err
	}

	if session.State != interfaces.StateChallengeIssued {
		if len(session.SubmittedDigest) > 0 {
			return false, interfaces.ErrMeasurementRecorded
		}
		return false, fmt.Errorf("%w: %s", interfaces.ErrInvalidSessionState, session.State)
	}

	policy, err := m.policies.PolicyFor(ctx, session.SecretID)
	if err != nil {
		return false, err
	}

	session.SubmittedDigest = append([]byte(nil), submittedDigest...)
	session.State = interfaces.StateMeasurementReceived
	if err := m.store.SaveIfState(ctx, session, interfaces.StateChallengeIssued); err != nil {
		return false, err
	}

	verdict := m.verifier.Verify(session.GuestContext, session.SubmittedDigest, policy, session.Nonce)

	next := interfaces.StateFailed
	if verdict == VerdictMatch {
		next = interfaces.StateVerified
	}
	if err := m.store.CompareAndSwapState(ctx, id, interfaces.StateMeasurementReceived, next); err != nil {
		return false, err
	}

	if verdict == VerdictMatch {
		metrics.MeasurementsVerified.Inc()
		m.log.Info("Measurement verified", slog.String("session_id", id.String()))
		return true, nil
	}

	metrics.MeasurementsRejected.Inc()
	m.log.Info("Measurement rejected", slog.String("session_id", id.String()))
	return false, nil
}

// ReleaseSecret fetches the secret for a verified session and marks the
// session consumed. Exactly one release occurs per verified session; once
// released, further attempts fail idempotently without a second backend
// fetch.
func (m *Manager) ReleaseSecret(ctx context.Context, id interfaces.SessionID) ([]byte, error) {
	unlock := m.locks.acquire(id)
	defer unlock()

	session, err := m.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}

	if session.State != interfaces.StateVerified {
		if session.State == interfaces.StateSecretReleased {
			return nil, interfaces.ErrSecretAlreadyReleased
		}
		return nil, fmt.Errorf("%w: %s", interfaces.ErrInvalidSessionState, session.State)
	}

	secret, err := m.gate.Release(ctx, session.SecretID)
	if err != nil {
		metrics.ReleaseFailures.Inc()
		if swapErr := m.store.CompareAndSwapState(ctx, id, interfaces.StateVerified, interfaces.StateFailed); swapErr != nil {
			m.log.Error("Failed to mark session failed after release error",
				slog.String("session_id", id.String()), "err", swapErr)
		}
		return nil, err
	}

	// The consumed mark must land before the secret leaves the engine.
	if err := m.store.CompareAndSwapState(ctx, id, interfaces.StateVerified, interfaces.StateSecretReleased); err != nil {
		return nil, err
	}

	metrics.SecretsReleased.Inc()
	m.log.Info("Secret released", slog.String("session_id", id.String()))
	return secret, nil
}

// loadLive loads a session and applies lazy expiry: a session past its
// deadline is frozen in the expired state and every operation on it fails,
// regardless of its prior state. Callers hold the per-session lock.
func (m *Manager) loadLive(ctx context.Context, id interfaces.SessionID) (*interfaces.Session, error) {
	session, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if session.State == interfaces.StateExpired {
		return nil, interfaces.ErrSessionExpired
	}

	if !session.State.Terminal() && session.ExpiredAt(m.now()) {
		if err := m.store.CompareAndSwapState(ctx, id, session.State, interfaces.StateExpired); err != nil {
			return nil, err
		}
		metrics.SessionsExpired.Inc()
		m.log.Info("Session expired", slog.String("session_id", id.String()),
			slog.String("prior_state", session.State.String()))
		return nil, interfaces.ErrSessionExpired
	}

	return session, nil
}
