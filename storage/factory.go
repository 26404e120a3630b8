package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/tee-key-broker/interfaces"
)

// Factory creates session and policy store backends from URI strings.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a storage factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// SessionStoreFor creates a session store from a location URI.
//
// Supported schemes:
//   - mem:// - in-memory store
//
// A durable row store slots in here once a deployment needs crash recovery;
// the engine only depends on the conditional-write contract.
func (f *Factory) SessionStoreFor(locationURI string) (interfaces.SessionStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid session store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemorySessionStore(), nil
	default:
		return nil, fmt.Errorf("unsupported session store scheme: %s", u.Scheme)
	}
}

// PolicyStoreFor creates a policy store from a location URI.
//
// Supported schemes:
//   - mem:// - empty in-memory store
//   - file:///etc/kbs/policies - JSON records on the local file system
//   - s3://bucket/prefix/?region=us-west-2 - JSON records in S3
func (f *Factory) PolicyStoreFor(locationURI string) (interfaces.PolicyStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid policy store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryPolicyStore(), nil
	case "file":
		return NewFilePolicyStore(u.Path, f.log)
	case "s3":
		return f.createS3PolicyStore(u)
	default:
		return nil, fmt.Errorf("unsupported policy store scheme: %s", u.Scheme)
	}
}

func (f *Factory) createS3PolicyStore(u *url.URL) (*S3PolicyStore, error) {
	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("missing bucket name in S3 URI")
	}

	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3PolicyStore(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}
