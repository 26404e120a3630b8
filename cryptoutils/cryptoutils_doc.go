// Package cryptoutils provides the cryptographic primitives of the key broker:
// single-use challenge nonces, launch digest recomputation, and constant-time
// digest comparison.
//
// # Launch Digest
//
// The expected launch digest is an HMAC-SHA256 over the canonical encoding of
// the guest's protocol version fields, build identifier, platform policy flags,
// and the policy's reference measurement. The MAC key is derived from the
// session nonce with HKDF-SHA256, which binds the digest to exactly one
// session: a digest captured from an earlier session never verifies against a
// fresh challenge.
//
// # Comparison Discipline
//
// Digest comparison must never leak the position of the first differing byte.
// DigestsEqual is implemented on top of crypto/subtle and burns the same
// comparison cost for submissions of the wrong length, so a malformed digest
// is indistinguishable in timing from a well-formed mismatch.
package cryptoutils
