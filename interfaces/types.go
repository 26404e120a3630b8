package interfaces

import (
	"crypto/sha256"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tee-key-broker/cryptoutils"
)

type Nonce = cryptoutils.Nonce
type MeasurementDigest = cryptoutils.MeasurementDigest

// SecretID identifies a secret held by the secret backend and the policy
// record guarding it.
type SecretID string

var secretIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// NewSecretID validates and creates a secret identifier. The character set is
// restricted so identifiers are safe to embed in storage paths.
func NewSecretID(id string) (SecretID, error) {
	if !secretIDPattern.MatchString(id) {
		return "", errors.New("invalid secret id format")
	}
	return SecretID(id), nil
}

// String returns the identifier as a string.
func (id SecretID) String() string {
	return string(id)
}

// Validate checks if the identifier has a valid format.
func (id SecretID) Validate() error {
	_, err := NewSecretID(string(id))
	return err
}

// SessionID is the only external handle into the session state machine.
type SessionID string

// NewSessionID generates a globally unique session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// String returns the identifier as a string.
func (id SessionID) String() string {
	return string(id)
}

// Validate checks if the identifier is a well-formed UUID.
func (id SessionID) Validate() error {
	_, err := uuid.Parse(string(id))
	return err
}

// SessionState enumerates the states of the attestation session machine.
// Transitions are strictly monotonic forward; no operation ever moves a
// session backward.
type SessionState int

const (
	StateRequested SessionState = iota
	StateChallengeIssued
	StateMeasurementReceived
	StateVerified
	StateSecretReleased
	StateFailed
	StateExpired
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateChallengeIssued:
		return "challenge-issued"
	case StateMeasurementReceived:
		return "measurement-received"
	case StateVerified:
		return "verified"
	case StateSecretReleased:
		return "secret-released"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s SessionState) Terminal() bool {
	switch s {
	case StateSecretReleased, StateFailed, StateExpired:
		return true
	default:
		return false
	}
}

// GuestContext carries the build and policy fields a guest declares when
// starting a session. The fields are inputs to launch digest recomputation
// and are immutable once recorded.
type GuestContext struct {
	APIMajor    uint8  `json:"api_major"`
	APIMinor    uint8  `json:"api_minor"`
	BuildID     uint8  `json:"build_id"`
	PolicyFlags uint32 `json:"policy_flags"`
}

// Policy is the record guarding one secret: the expected boot component
// digests and the platform requirements a guest must satisfy to unlock it.
// Policy records are read-only from the session engine's perspective.
type Policy struct {
	SecretID SecretID `json:"secret_id"`

	FirmwareDigest MeasurementDigest `json:"firmware_digest"`
	KernelDigest   MeasurementDigest `json:"kernel_digest"`
	InitrdDigest   MeasurementDigest `json:"initrd_digest"`

	// BuildID is the exact platform build the guest must run.
	BuildID uint8 `json:"build_id"`

	// Allowed guest API version range, inclusive on both ends.
	MinAPIMajor uint8 `json:"min_api_major"`
	MinAPIMinor uint8 `json:"min_api_minor"`
	MaxAPIMajor uint8 `json:"max_api_major"`
	MaxAPIMinor uint8 `json:"max_api_minor"`

	// RequiredFlags must all be set in the guest's declared policy flags.
	RequiredFlags uint32 `json:"required_flags"`
}

// ReferenceMeasurement folds the expected component digests into the single
// reference value used in launch digest recomputation.
func (p *Policy) ReferenceMeasurement() MeasurementDigest {
	h := sha256.New()
	h.Write(p.FirmwareDigest[:])
	h.Write(p.KernelDigest[:])
	h.Write(p.InitrdDigest[:])

	var ref MeasurementDigest
	copy(ref[:], h.Sum(nil))
	return ref
}

// Session is one attestation attempt by one guest instance. Everything except
// the release result is persisted through the SessionStore; secret values
// never reach durable storage.
type Session struct {
	ID       SessionID    `json:"id"`
	State    SessionState `json:"state"`
	SecretID SecretID     `json:"secret_id"`

	Nonce        Nonce        `json:"nonce"`
	GuestContext GuestContext `json:"guest_context"`

	// SubmittedDigest is recorded at most once and never overwritten.
	SubmittedDigest []byte `json:"submitted_digest,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the session deadline has passed at the given time.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	dup := *s
	if s.SubmittedDigest != nil {
		dup.SubmittedDigest = append([]byte(nil), s.SubmittedDigest...)
	}
	return &dup
}
