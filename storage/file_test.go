package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/tee-key-broker/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFileStore(t *testing.T) *FilePolicyStore {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewFilePolicyStore(t.TempDir(), logger)
	require.NoError(t, err)
	return store
}

func TestFilePolicyStoreRoundTrip(t *testing.T) {
	store := testFileStore(t)
	ctx := context.Background()

	policy := &interfaces.Policy{
		SecretID:      "fakeid",
		BuildID:       3,
		MaxAPIMajor:   255,
		MaxAPIMinor:   255,
		RequiredFlags: 0x1,
	}
	require.NoError(t, store.WritePolicy(ctx, policy))

	loaded, err := store.PolicyFor(ctx, "fakeid")
	require.NoError(t, err)
	assert.Equal(t, policy.SecretID, loaded.SecretID)
	assert.Equal(t, policy.BuildID, loaded.BuildID)
	assert.Equal(t, policy.RequiredFlags, loaded.RequiredFlags)
}

func TestFilePolicyStoreMissing(t *testing.T) {
	store := testFileStore(t)

	_, err := store.PolicyFor(context.Background(), "absent")
	assert.ErrorIs(t, err, interfaces.ErrPolicyNotFound)
}

func TestFilePolicyStoreRejectsTraversal(t *testing.T) {
	store := testFileStore(t)

	_, err := store.PolicyFor(context.Background(), interfaces.SecretID("../../etc/passwd"))
	assert.ErrorIs(t, err, interfaces.ErrPolicyNotFound)
}

func TestFilePolicyStoreMalformedRecord(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewFilePolicyStore(dir, logger)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))

	_, err = store.PolicyFor(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrPolicyNotFound)
}

func TestFilePolicyStoreIDMismatch(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewFilePolicyStore(dir, logger)
	require.NoError(t, err)

	// A record renamed on disk must not unlock a different secret.
	require.NoError(t, store.WritePolicy(context.Background(), &interfaces.Policy{SecretID: "original"}))
	require.NoError(t, os.Rename(filepath.Join(dir, "original.json"), filepath.Join(dir, "renamed.json")))

	_, err = store.PolicyFor(context.Background(), "renamed")
	require.Error(t, err)
}
