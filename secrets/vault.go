package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/ruteri/tee-key-broker/interfaces"
)

// secretField is the key under which the secret value is stored in KV v2 data.
const secretField = "secret"

// VaultBackend reads secret values from a HashiCorp Vault KV v2 mount.
type VaultBackend struct {
	client       *vault.Client
	mountPath    string
	secretPrefix string
	log          *slog.Logger
	locationURI  string
}

// NewVaultBackend creates a Vault-backed secret store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: access token scoped to read-only retrieval of the secret path
//   - mountPath: KV v2 mount (e.g. "secret")
//   - secretPrefix: path prefix within the mount (e.g. "kbs")
//   - log: structured logger; secret values are never logged
func NewVaultBackend(address, token, mountPath, secretPrefix string, log *slog.Logger) (*VaultBackend, error) {
	config := vault.DefaultConfig()
	config.Address = address
	// At-most-once release: one request, one verdict.
	config.MaxRetries = 0
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.Trim(mountPath, "/")
	secretPrefix = strings.Trim(secretPrefix, "/")

	return &VaultBackend{
		client:       client,
		mountPath:    mountPath,
		secretPrefix: secretPrefix,
		log:          log,
		locationURI:  fmt.Sprintf("vault://%s/%s/%s", address, mountPath, secretPrefix),
	}, nil
}

// Get reads the secret value for an id. A missing secret maps to
// ErrSecretNotFound and transport failures to ErrBackendUnavailable; the
// value itself is returned on the single path to the caller and not retained.
func (b *VaultBackend) Get(ctx context.Context, id interfaces.SecretID) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, interfaces.ErrSecretNotFound
	}

	path := b.dataPath(id)
	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			slog.String("secret_id", id.String()), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		b.log.Debug("Secret not found in Vault",
			slog.String("path", path),
			slog.String("secret_id", id.String()))
		return nil, interfaces.ErrSecretNotFound
	}

	// KV v2 wraps the stored fields in a nested "data" object.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response for %s", id)
	}

	value, ok := data[secretField].(string)
	if !ok {
		return nil, fmt.Errorf("secret field missing in Vault data for %s", id)
	}

	return []byte(value), nil
}

// LocationURI returns the URI identifying this backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) dataPath(id interfaces.SecretID) string {
	if b.secretPrefix == "" {
		return fmt.Sprintf("%s/data/%s", b.mountPath, id)
	}
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.secretPrefix, id)
}
