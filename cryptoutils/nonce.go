package cryptoutils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// NonceSize is the fixed challenge nonce length in bytes. The length does not
// depend on policy so that nonce handling is uniform across all sessions.
const NonceSize = 32

// Nonce is a single-use random challenge value. It is bound to exactly one
// session for its entire lifetime and is never regenerated.
type Nonce [NonceSize]byte

// GenerateNonce mints a fresh nonce from the operating system CSPRNG.
func GenerateNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return n, nil
}

// NewNonceFromBytes creates a nonce from a raw byte slice.
func NewNonceFromBytes(source []byte) (Nonce, error) {
	if len(source) != NonceSize {
		return Nonce{}, errors.New("invalid nonce length")
	}

	var n Nonce
	copy(n[:], source)
	return n, nil
}

// Bytes returns the raw nonce bytes.
func (n Nonce) Bytes() []byte {
	return n[:]
}

// String returns the base64 representation used on the wire.
func (n Nonce) String() string {
	return base64.StdEncoding.EncodeToString(n[:])
}

// MarshalJSON encodes the nonce as a base64 string.
func (n Nonce) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// UnmarshalJSON decodes a base64-encoded nonce.
func (n *Nonce) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid nonce encoding: %w", err)
	}

	parsed, err := NewNonceFromBytes(raw)
	if err != nil {
		return err
	}

	*n = parsed
	return nil
}
