package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/tee-key-broker/interfaces"
)

// S3PolicyStore reads policy records from Amazon S3 or a compatible object
// store. Reads work against publicly readable buckets without credentials;
// provisioning writes require static credentials.
type S3PolicyStore struct {
	client         *s3.S3
	writeClient    *s3.S3
	bucketName     string
	prefix         string
	log            *slog.Logger
	locationURI    string
	hasWriteAccess bool
}

// NewS3PolicyStore creates an S3-backed policy store. If accessKey and
// secretKey are provided the store can also write records.
func NewS3PolicyStore(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3PolicyStore, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	baseCfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		baseCfg.Endpoint = aws.String(endpoint)
	}

	baseSess, err := session.NewSession(&baseCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	readClient := s3.New(baseSess)

	hasWriteAccess := accessKey != "" && secretKey != ""
	writeClient := readClient
	if hasWriteAccess {
		writeCfg := baseCfg.Copy()
		writeCfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")

		writeSess, err := session.NewSession(writeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS write session: %w", err)
		}
		writeClient = s3.New(writeSess)
	}

	return &S3PolicyStore{
		client:         readClient,
		writeClient:    writeClient,
		bucketName:     bucketName,
		prefix:         prefix,
		log:            log,
		locationURI:    uri,
		hasWriteAccess: hasWriteAccess,
	}, nil
}

// PolicyFor fetches and decodes the policy record for a secret id.
func (s *S3PolicyStore) PolicyFor(ctx context.Context, id interfaces.SecretID) (*interfaces.Policy, error) {
	if err := id.Validate(); err != nil {
		return nil, interfaces.ErrPolicyNotFound
	}

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, interfaces.ErrPolicyNotFound
		}
		s.log.Error("Failed to fetch policy from S3",
			slog.String("secret_id", id.String()),
			slog.String("bucket", s.bucketName), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	var policy interfaces.Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("malformed policy record for %s: %w", id, err)
	}

	if policy.SecretID != id {
		return nil, fmt.Errorf("policy record for %s carries secret id %s", id, policy.SecretID)
	}

	return &policy, nil
}

// WritePolicy stores a policy record. Requires write credentials.
func (s *S3PolicyStore) WritePolicy(ctx context.Context, policy *interfaces.Policy) error {
	if !s.hasWriteAccess {
		return fmt.Errorf("S3 policy store at %s has no write credentials", s.locationURI)
	}
	if err := policy.SecretID.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	_, err = s.writeClient.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.objectKey(policy.SecretID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	s.log.Info("Policy record written",
		slog.String("secret_id", policy.SecretID.String()),
		slog.String("location", s.locationURI))
	return nil
}

// LocationURI returns the URI identifying this store.
func (s *S3PolicyStore) LocationURI() string {
	return s.locationURI
}

func (s *S3PolicyStore) objectKey(id interfaces.SecretID) string {
	return path.Join(s.prefix, id.String()+".json")
}
