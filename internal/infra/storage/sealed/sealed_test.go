package sealed_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-groupbot/internal/infra/storage/boltstore"
	"telegram-groupbot/internal/infra/storage/sealed"
)

func TestStore_RoundTripAndBackendSeesCiphertext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner, err := boltstore.Open(filepath.Join(t.TempDir(), "users.bbolt"))
	require.NoError(t, err)
	store, err := sealed.New(inner, "passphrase")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Upsert(ctx, 1, 12345, "abcde"))

	rec, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "abcde", rec.AppHash)
	assert.False(t, rec.HasSession())

	require.NoError(t, store.SetSession(ctx, 1, "session-token"))

	raw, err := inner.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.AppHash, "v1:"))
	assert.True(t, strings.HasPrefix(raw.Session, "v1:"))
	assert.NotContains(t, raw.Session, "session-token")

	rec, err = store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "session-token", rec.Session)
}

func TestStore_WrongSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner, err := boltstore.Open(filepath.Join(t.TempDir(), "users.bbolt"))
	require.NoError(t, err)
	defer inner.Close()

	writer, err := sealed.New(inner, "one")
	require.NoError(t, err)
	require.NoError(t, writer.Upsert(ctx, 2, 1, "hash"))

	reader, err := sealed.New(inner, "two")
	require.NoError(t, err)
	_, err = reader.Get(ctx, 2)
	require.ErrorIs(t, err, sealed.ErrCorrupted)
}

func TestStore_PlaintextPassThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner, err := boltstore.Open(filepath.Join(t.TempDir(), "users.bbolt"))
	require.NoError(t, err)
	defer inner.Close()
	require.NoError(t, inner.Upsert(ctx, 3, 1, "legacy"))

	store, err := sealed.New(inner, "secret")
	require.NoError(t, err)
	rec, err := store.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "legacy", rec.AppHash)
}

func TestNew_EmptySecret(t *testing.T) {
	t.Parallel()
	_, err := sealed.New(nil, "")
	require.Error(t, err)
}
