package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-key-broker/interfaces"
)

// ReleaseGate is the sole caller permitted to fetch secret values from the
// external backend. It classifies failures and never retries: a failed fetch
// surfaces as a failed session, and the caller must start a new session.
type ReleaseGate struct {
	backend interfaces.SecretBackend
	log     *slog.Logger
}

// NewReleaseGate creates the gate in front of a secret backend.
func NewReleaseGate(backend interfaces.SecretBackend, log *slog.Logger) *ReleaseGate {
	return &ReleaseGate{backend: backend, log: log}
}

// Release fetches the secret value for the id. The value is returned on the
// single path to the caller and is not retained, cached, or logged.
func (g *ReleaseGate) Release(ctx context.Context, id interfaces.SecretID) ([]byte, error) {
	secret, err := g.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrSecretNotFound) {
			g.log.Warn("No secret provisioned for id", slog.String("secret_id", id.String()))
			return nil, err
		}
		if errors.Is(err, interfaces.ErrBackendUnavailable) {
			g.log.Error("Secret backend unreachable", slog.String("secret_id", id.String()), "err", err)
			return nil, err
		}
		// Unclassified backend failures are treated as outages.
		g.log.Error("Secret backend error", slog.String("secret_id", id.String()), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	return secret, nil
}
