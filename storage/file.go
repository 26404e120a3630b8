package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/tee-key-broker/interfaces"
)

// FilePolicyStore reads policy records from a directory on the local file
// system, one JSON file per secret id. Suitable for development and small
// static deployments.
type FilePolicyStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFilePolicyStore creates a policy store rooted at the given directory.
func NewFilePolicyStore(baseDir string, log *slog.Logger) (*FilePolicyStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create policy directory: %w", err)
	}

	return &FilePolicyStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// PolicyFor reads and decodes the policy record for a secret id.
// The id's restricted character set keeps lookups inside the base directory.
func (s *FilePolicyStore) PolicyFor(ctx context.Context, id interfaces.SecretID) (*interfaces.Policy, error) {
	if err := id.Validate(); err != nil {
		return nil, interfaces.ErrPolicyNotFound
	}

	data, err := os.ReadFile(s.policyPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrPolicyNotFound
		}
		s.log.Error("Failed to read policy file", slog.String("secret_id", id.String()), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	var policy interfaces.Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		s.log.Error("Malformed policy record", slog.String("secret_id", id.String()), "err", err)
		return nil, fmt.Errorf("malformed policy record for %s: %w", id, err)
	}

	if policy.SecretID != id {
		return nil, fmt.Errorf("policy record for %s carries secret id %s", id, policy.SecretID)
	}

	return &policy, nil
}

// WritePolicy stores a policy record. Used by provisioning tooling only; the
// session engine never writes policies.
func (s *FilePolicyStore) WritePolicy(ctx context.Context, policy *interfaces.Policy) error {
	if err := policy.SecretID.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	if err := os.WriteFile(s.policyPath(policy.SecretID), data, 0644); err != nil {
		return fmt.Errorf("failed to write policy file: %w", err)
	}

	s.log.Info("Policy record written",
		slog.String("secret_id", policy.SecretID.String()),
		slog.String("location", s.locationURI))
	return nil
}

// LocationURI returns the URI identifying this store.
func (s *FilePolicyStore) LocationURI() string {
	return s.locationURI
}

func (s *FilePolicyStore) policyPath(id interfaces.SecretID) string {
	return filepath.Join(s.baseDir, id.String()+".json")
}
