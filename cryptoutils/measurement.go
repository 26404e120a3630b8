package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MeasurementDigestSize is the length of a SHA-256 based measurement digest.
const MeasurementDigestSize = sha256.Size

// LaunchDigestSize is the length of the keyed launch digest a guest submits.
const LaunchDigestSize = sha256.Size

// launchDigestInfo is the HKDF info string separating launch digest keys from
// any other key material derived from session nonces.
const launchDigestInfo = "tee-key-broker/launch-digest/v1"

// launchDigestPrefix versions the canonical digest encoding.
const launchDigestPrefix = 0x04

// MeasurementDigest is a 32-byte SHA-256 digest of a boot component
// (firmware, kernel, or initrd image).
type MeasurementDigest [MeasurementDigestSize]byte

// NewMeasurementDigestFromBytes creates a measurement digest from raw bytes.
func NewMeasurementDigestFromBytes(source []byte) (MeasurementDigest, error) {
	if len(source) != MeasurementDigestSize {
		return MeasurementDigest{}, errors.New("invalid measurement digest length")
	}

	var d MeasurementDigest
	copy(d[:], source)
	return d, nil
}

// NewMeasurementDigestFromHex creates a measurement digest from a hex string.
func NewMeasurementDigestFromHex(source string) (MeasurementDigest, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != MeasurementDigestSize*2 {
		return MeasurementDigest{}, errors.New("invalid measurement digest length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return MeasurementDigest{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewMeasurementDigestFromBytes(raw)
}

// ComputeMeasurementDigest hashes raw component data into a digest.
func ComputeMeasurementDigest(data []byte) MeasurementDigest {
	return MeasurementDigest(sha256.Sum256(data))
}

// String returns the hex representation.
func (d MeasurementDigest) String() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns the raw 32-byte digest.
func (d MeasurementDigest) Bytes() []byte {
	return d[:]
}

// MarshalJSON encodes the digest as a hex string.
func (d MeasurementDigest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a hex-encoded digest.
func (d *MeasurementDigest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := NewMeasurementDigestFromHex(s)
	if err != nil {
		return err
	}

	*d = parsed
	return nil
}

// launchDigestKey derives the HMAC key for a session's launch digest from the
// session nonce.
func launchDigestKey(nonce Nonce) ([]byte, error) {
	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, nonce[:], nil, []byte(launchDigestInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive launch digest key: %w", err)
	}
	return key, nil
}

// ComputeLaunchDigest recomputes the expected keyed launch digest for a
// session. The canonical encoding is a version prefix byte, the guest API
// major and minor versions, the build identifier, the platform policy flags
// in little-endian order, and the policy's reference measurement. The MAC key
// is derived from the session nonce, so the result is valid for exactly one
// challenge.
func ComputeLaunchDigest(apiMajor, apiMinor, buildID uint8, policyFlags uint32, reference MeasurementDigest, nonce Nonce) ([]byte, error) {
	key, err := launchDigestKey(nonce)
	if err != nil {
		return nil, err
	}

	var flags [4]byte
	binary.LittleEndian.PutUint32(flags[:], policyFlags)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte{launchDigestPrefix, apiMajor, apiMinor, buildID})
	mac.Write(flags[:])
	mac.Write(reference[:])
	return mac.Sum(nil), nil
}

// DigestsEqual compares a submitted digest against the expected value in
// constant time. A submission of the wrong length is a mismatch, and the
// comparison cost is paid regardless so malformed input cannot be told apart
// from a well-formed mismatch by timing.
func DigestsEqual(expected, submitted []byte) bool {
	if len(submitted) == len(expected) {
		return subtle.ConstantTimeCompare(expected, submitted) == 1
	}

	var dummy [LaunchDigestSize]byte
	subtle.ConstantTimeCompare(expected, dummy[:])
	return false
}
