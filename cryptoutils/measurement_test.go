package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReference() MeasurementDigest {
	return ComputeMeasurementDigest([]byte("firmware+kernel+initrd"))
}

func TestComputeLaunchDigestDeterministic(t *testing.T) {
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	first, err := ComputeLaunchDigest(1, 0, 3, 0x7, testReference(), nonce)
	require.NoError(t, err)
	second, err := ComputeLaunchDigest(1, 0, 3, 0x7, testReference(), nonce)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, LaunchDigestSize)
}

func TestComputeLaunchDigestBindsNonce(t *testing.T) {
	nonceA, err := GenerateNonce()
	require.NoError(t, err)
	nonceB, err := GenerateNonce()
	require.NoError(t, err)

	digestA, err := ComputeLaunchDigest(1, 0, 3, 0x7, testReference(), nonceA)
	require.NoError(t, err)
	digestB, err := ComputeLaunchDigest(1, 0, 3, 0x7, testReference(), nonceB)
	require.NoError(t, err)

	// A digest captured from one session must never verify against another.
	assert.NotEqual(t, digestA, digestB)
}

func TestComputeLaunchDigestBindsAllInputs(t *testing.T) {
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	base, err := ComputeLaunchDigest(1, 0, 3, 0x7, testReference(), nonce)
	require.NoError(t, err)

	variants := []struct {
		name                                 string
		apiMajor, apiMinor, buildID          uint8
		policyFlags                          uint32
		reference                            MeasurementDigest
	}{
		{"api major", 2, 0, 3, 0x7, testReference()},
		{"api minor", 1, 1, 3, 0x7, testReference()},
		{"build id", 1, 0, 4, 0x7, testReference()},
		{"policy flags", 1, 0, 3, 0x3, testReference()},
		{"reference measurement", 1, 0, 3, 0x7, ComputeMeasurementDigest([]byte("other"))},
	}

	for _, tc := range variants {
		t.Run(tc.name, func(t *testing.T) {
			digest, err := ComputeLaunchDigest(tc.apiMajor, tc.apiMinor, tc.buildID, tc.policyFlags, tc.reference, nonce)
			require.NoError(t, err)
			assert.NotEqual(t, base, digest)
		})
	}
}

func TestDigestsEqual(t *testing.T) {
	nonce, err := GenerateNonce()
	require.NoError(t, err)
	expected, err := ComputeLaunchDigest(1, 0, 3, 0x7, testReference(), nonce)
	require.NoError(t, err)

	assert.True(t, DigestsEqual(expected, append([]byte(nil), expected...)))

	// Single bit flips anywhere in the digest must mismatch.
	flippedFirst := append([]byte(nil), expected...)
	flippedFirst[0] ^= 0x01
	assert.False(t, DigestsEqual(expected, flippedFirst))

	flippedLast := append([]byte(nil), expected...)
	flippedLast[len(flippedLast)-1] ^= 0x80
	assert.False(t, DigestsEqual(expected, flippedLast))
}

func TestDigestsEqualMalformedLength(t *testing.T) {
	nonce, err := GenerateNonce()
	require.NoError(t, err)
	expected, err := ComputeLaunchDigest(1, 0, 3, 0x7, testReference(), nonce)
	require.NoError(t, err)

	assert.False(t, DigestsEqual(expected, nil))
	assert.False(t, DigestsEqual(expected, expected[:LaunchDigestSize-1]))
	assert.False(t, DigestsEqual(expected, append(append([]byte(nil), expected...), 0x00)))
}

func TestMeasurementDigestHexRoundTrip(t *testing.T) {
	digest := ComputeMeasurementDigest([]byte("component"))

	parsed, err := NewMeasurementDigestFromHex(digest.String())
	require.NoError(t, err)
	assert.Equal(t, digest, parsed)

	_, err = NewMeasurementDigestFromHex("abcd")
	assert.Error(t, err)

	_, err = NewMeasurementDigestFromHex("zz" + digest.String()[2:])
	assert.Error(t, err)
}
