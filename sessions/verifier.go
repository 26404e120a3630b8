package sessions

import (
	"log/slog"

	"github.com/ruteri/tee-key-broker/cryptoutils"
	"github.com/ruteri/tee-key-broker/interfaces"
)

// Verdict is the outcome of measurement verification. A mismatch is a
// terminal session transition, not an error, and its response shape does not
// reveal whether policy evaluation or digest comparison caused it.
type Verdict int

const (
	VerdictMismatch Verdict = iota
	VerdictMatch
)

// Verifier recomputes the expected launch digest for a session and compares
// it against the guest-submitted value.
type Verifier struct {
	log *slog.Logger
}

// NewVerifier creates a digest verifier.
func NewVerifier(log *slog.Logger) *Verifier {
	return &Verifier{log: log}
}

// Verify evaluates the policy preconditions and, when they hold, recomputes
// the expected keyed digest and compares it in constant time against the
// submission. A guest whose declared context is outside the policy's allowed
// set yields a mismatch without computing the keyed hash.
func (v *Verifier) Verify(guestCtx interfaces.GuestContext, submitted []byte, policy *interfaces.Policy, nonce interfaces.Nonce) Verdict {
	if !policyAllows(policy, guestCtx) {
		v.log.Debug("Guest context outside policy allowed set",
			slog.String("secret_id", policy.SecretID.String()))
		return VerdictMismatch
	}

	expected, err := cryptoutils.ComputeLaunchDigest(
		guestCtx.APIMajor, guestCtx.APIMinor, guestCtx.BuildID,
		guestCtx.PolicyFlags, policy.ReferenceMeasurement(), nonce)
	if err != nil {
		v.log.Error("Failed to compute expected launch digest", "err", err)
		return VerdictMismatch
	}

	if !cryptoutils.DigestsEqual(expected, submitted) {
		return VerdictMismatch
	}
	return VerdictMatch
}

// policyAllows checks the guest's declared context against the policy's
// allowed set: exact build id, API version within the inclusive range, and
// all required platform flags present.
func policyAllows(p *interfaces.Policy, g interfaces.GuestContext) bool {
	if g.BuildID != p.BuildID {
		return false
	}
	if versionLess(g.APIMajor, g.APIMinor, p.MinAPIMajor, p.MinAPIMinor) {
		return false
	}
	if versionLess(p.MaxAPIMajor, p.MaxAPIMinor, g.APIMajor, g.APIMinor) {
		return false
	}
	if g.PolicyFlags&p.RequiredFlags != p.RequiredFlags {
		return false
	}
	return true
}

// versionLess reports whether version a.b precedes version c.d.
func versionLess(a, b, c, d uint8) bool {
	if a != c {
		return a < c
	}
	return b < d
}
