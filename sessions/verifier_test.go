package sessions

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/tee-key-broker/cryptoutils"
	"github.com/ruteri/tee-key-broker/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVerifier() *Verifier {
	return NewVerifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestVerifyMatch(t *testing.T) {
	policy := testPolicy("fakeid")
	guestCtx := testGuestContext()
	nonce, err := cryptoutils.GenerateNonce()
	require.NoError(t, err)

	digest, err := cryptoutils.ComputeLaunchDigest(
		guestCtx.APIMajor, guestCtx.APIMinor, guestCtx.BuildID,
		guestCtx.PolicyFlags, policy.ReferenceMeasurement(), nonce)
	require.NoError(t, err)

	assert.Equal(t, VerdictMatch, testVerifier().Verify(guestCtx, digest, policy, nonce))
}

func TestVerifyWrongNonce(t *testing.T) {
	policy := testPolicy("fakeid")
	guestCtx := testGuestContext()
	nonce, err := cryptoutils.GenerateNonce()
	require.NoError(t, err)
	otherNonce, err := cryptoutils.GenerateNonce()
	require.NoError(t, err)

	digest, err := cryptoutils.ComputeLaunchDigest(
		guestCtx.APIMajor, guestCtx.APIMinor, guestCtx.BuildID,
		guestCtx.PolicyFlags, policy.ReferenceMeasurement(), otherNonce)
	require.NoError(t, err)

	assert.Equal(t, VerdictMismatch, testVerifier().Verify(guestCtx, digest, policy, nonce))
}

func TestVerifyMalformedDigest(t *testing.T) {
	policy := testPolicy("fakeid")
	guestCtx := testGuestContext()
	nonce, err := cryptoutils.GenerateNonce()
	require.NoError(t, err)

	verifier := testVerifier()
	assert.Equal(t, VerdictMismatch, verifier.Verify(guestCtx, []byte{0x01}, policy, nonce))
	assert.Equal(t, VerdictMismatch, verifier.Verify(guestCtx, nil, policy, nonce))
}

func TestPolicyAllows(t *testing.T) {
	base := &interfaces.Policy{
		BuildID:       3,
		MinAPIMajor:   1,
		MinAPIMinor:   2,
		MaxAPIMajor:   2,
		MaxAPIMinor:   0,
		RequiredFlags: 0x5,
	}

	tests := []struct {
		name  string
		guest interfaces.GuestContext
		want  bool
	}{
		{"all satisfied", interfaces.GuestContext{APIMajor: 1, APIMinor: 2, BuildID: 3, PolicyFlags: 0x5}, true},
		{"extra flags fine", interfaces.GuestContext{APIMajor: 1, APIMinor: 5, BuildID: 3, PolicyFlags: 0xff}, true},
		{"at max version", interfaces.GuestContext{APIMajor: 2, APIMinor: 0, BuildID: 3, PolicyFlags: 0x5}, true},
		{"wrong build", interfaces.GuestContext{APIMajor: 1, APIMinor: 2, BuildID: 4, PolicyFlags: 0x5}, false},
		{"below min minor", interfaces.GuestContext{APIMajor: 1, APIMinor: 1, BuildID: 3, PolicyFlags: 0x5}, false},
		{"above max major", interfaces.GuestContext{APIMajor: 2, APIMinor: 1, BuildID: 3, PolicyFlags: 0x5}, false},
		{"missing required flag", interfaces.GuestContext{APIMajor: 1, APIMinor: 2, BuildID: 3, PolicyFlags: 0x4}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policyAllows(base, tc.guest))
		})
	}
}

func TestVerifyPolicyViolationIgnoresDigest(t *testing.T) {
	policy := testPolicy("fakeid")
	guestCtx := testGuestContext()
	guestCtx.PolicyFlags = 0

	nonce, err := cryptoutils.GenerateNonce()
	require.NoError(t, err)

	// Even a digest computed over the violating context is rejected.
	digest, err := cryptoutils.ComputeLaunchDigest(
		guestCtx.APIMajor, guestCtx.APIMinor, guestCtx.BuildID,
		guestCtx.PolicyFlags, policy.ReferenceMeasurement(), nonce)
	require.NoError(t, err)

	assert.Equal(t, VerdictMismatch, testVerifier().Verify(guestCtx, digest, policy, nonce))
}
