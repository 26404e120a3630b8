package kbshandler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-key-broker/api"
	"github.com/ruteri/tee-key-broker/cryptoutils"
	"github.com/ruteri/tee-key-broker/interfaces"
	"github.com/ruteri/tee-key-broker/sessions"
	"github.com/ruteri/tee-key-broker/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	secrets map[interfaces.SecretID][]byte
}

func (b *fakeBackend) Get(ctx context.Context, id interfaces.SecretID) ([]byte, error) {
	secret, ok := b.secrets[id]
	if !ok {
		return nil, interfaces.ErrSecretNotFound
	}
	return secret, nil
}

func demoPolicy() *interfaces.Policy {
	return &interfaces.Policy{
		SecretID:       "fakeid",
		FirmwareDigest: cryptoutils.ComputeMeasurementDigest([]byte("fw")),
		KernelDigest:   cryptoutils.ComputeMeasurementDigest([]byte("kernel")),
		InitrdDigest:   cryptoutils.ComputeMeasurementDigest([]byte("initrd")),
		BuildID:        3,
		MaxAPIMajor:    255,
		MaxAPIMinor:    255,
	}
}

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	policies := storage.NewMemoryPolicyStore()
	policies.SetPolicy(demoPolicy())

	backend := &fakeBackend{secrets: map[interfaces.SecretID][]byte{"fakeid": []byte("test")}}
	manager := sessions.NewManager(storage.NewMemorySessionStore(), policies, backend, 0, logger)

	router := chi.NewRouter()
	NewHandler(manager, logger).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func guestDigest(t *testing.T, guestCtx interfaces.GuestContext, nonce interfaces.Nonce) []byte {
	t.Helper()

	digest, err := cryptoutils.ComputeLaunchDigest(
		guestCtx.APIMajor, guestCtx.APIMinor, guestCtx.BuildID,
		guestCtx.PolicyFlags, demoPolicy().ReferenceMeasurement(), nonce)
	require.NoError(t, err)
	return digest
}

func TestProtocolRoundTrip(t *testing.T) {
	server := setupServer(t)
	client := &Client{ServerAddr: server.URL}
	ctx := context.Background()

	guestCtx := interfaces.GuestContext{APIMajor: 1, BuildID: 3}

	challenge, err := client.StartSession(ctx, "fakeid", guestCtx)
	require.NoError(t, err)
	require.NotEmpty(t, challenge.SessionID)
	require.NotEqual(t, interfaces.Nonce{}, challenge.Nonce)

	verified, err := client.SubmitMeasurement(ctx, challenge.SessionID, guestDigest(t, guestCtx, challenge.Nonce))
	require.NoError(t, err)
	assert.True(t, verified)

	secret, err := client.FetchSecret(ctx, challenge.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []byte("test"), secret)

	// The session is consumed.
	_, err = client.FetchSecret(ctx, challenge.SessionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestNonceOnlyInChallengeResponse(t *testing.T) {
	server := setupServer(t)
	ctx := context.Background()

	guestCtx := interfaces.GuestContext{APIMajor: 1, BuildID: 3}
	client := &Client{ServerAddr: server.URL}
	challenge, err := client.StartSession(ctx, "fakeid", guestCtx)
	require.NoError(t, err)

	nonceB64 := challenge.Nonce.String()

	body, err := json.Marshal(api.SubmitMeasurementRequest{Digest: "00ff"})
	require.NoError(t, err)
	resp, err := http.Post(server.URL+"/kbs/v0/session/"+challenge.SessionID+"/measurement",
		"application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(raw), nonceB64, "nonce leaked into a later response")
	assert.NotContains(t, string(raw), "expected", "response hints at the expected digest")
}

func TestStartSessionUnknownSecretID(t *testing.T) {
	server := setupServer(t)
	client := &Client{ServerAddr: server.URL}

	_, err := client.StartSession(context.Background(), "no-such-secret", interfaces.GuestContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), api.ClassConfiguration)
}

func TestStartSessionInvalidBody(t *testing.T) {
	server := setupServer(t)

	resp, err := http.Post(server.URL+"/kbs/v0/session", "application/json", strings.NewReader("{broken"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartSessionInvalidSecretID(t *testing.T) {
	server := setupServer(t)

	body, err := json.Marshal(api.StartSessionRequest{SecretID: "../escape"})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/kbs/v0/session", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var parsed api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Equal(t, api.ClassConfiguration, parsed.Class)
}

func TestSubmitMeasurementUnknownSession(t *testing.T) {
	server := setupServer(t)
	client := &Client{ServerAddr: server.URL}

	_, err := client.SubmitMeasurement(context.Background(), "f2b43338-0000-0000-0000-000000000000", []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), api.ClassRetryNewSession)
}

func TestSubmitMeasurementMissingDigest(t *testing.T) {
	server := setupServer(t)
	client := &Client{ServerAddr: server.URL}
	ctx := context.Background()

	challenge, err := client.StartSession(ctx, "fakeid", interfaces.GuestContext{APIMajor: 1, BuildID: 3})
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/kbs/v0/session/"+challenge.SessionID+"/measurement",
		"application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The rejected request did not consume the verification attempt.
	guestCtx := interfaces.GuestContext{APIMajor: 1, BuildID: 3}
	verified, err := client.SubmitMeasurement(ctx, challenge.SessionID, guestDigest(t, guestCtx, challenge.Nonce))
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestSubmitMeasurementUndecodableDigest(t *testing.T) {
	server := setupServer(t)
	client := &Client{ServerAddr: server.URL}
	ctx := context.Background()

	challenge, err := client.StartSession(ctx, "fakeid", interfaces.GuestContext{APIMajor: 1, BuildID: 3})
	require.NoError(t, err)

	// Non-hex digests consume the attempt and verify as a mismatch.
	resp, err := http.Post(server.URL+"/kbs/v0/session/"+challenge.SessionID+"/measurement",
		"application/json", strings.NewReader(`{"digest":"zz-not-hex"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed api.SubmitMeasurementResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.False(t, parsed.Verified)

	guestCtx := interfaces.GuestContext{APIMajor: 1, BuildID: 3}
	_, err = client.SubmitMeasurement(ctx, challenge.SessionID, guestDigest(t, guestCtx, challenge.Nonce))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestFailedVerificationBlocksSecret(t *testing.T) {
	server := setupServer(t)
	client := &Client{ServerAddr: server.URL}
	ctx := context.Background()

	guestCtx := interfaces.GuestContext{APIMajor: 1, BuildID: 4}

	challenge, err := client.StartSession(ctx, "fakeid", guestCtx)
	require.NoError(t, err)

	verified, err := client.SubmitMeasurement(ctx, challenge.SessionID, guestDigest(t, guestCtx, challenge.Nonce))
	require.NoError(t, err)
	assert.False(t, verified)

	_, err = client.FetchSecret(ctx, challenge.SessionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), api.ClassRetryNewSession)
}

func TestReleaseSecretContentType(t *testing.T) {
	server := setupServer(t)
	client := &Client{ServerAddr: server.URL}
	ctx := context.Background()

	guestCtx := interfaces.GuestContext{APIMajor: 1, BuildID: 3}
	challenge, err := client.StartSession(ctx, "fakeid", guestCtx)
	require.NoError(t, err)
	verified, err := client.SubmitMeasurement(ctx, challenge.SessionID, guestDigest(t, guestCtx, challenge.Nonce))
	require.NoError(t, err)
	require.True(t, verified)

	resp, err := http.Post(server.URL+"/kbs/v0/session/"+challenge.SessionID+"/secret", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("test"), raw)
}
