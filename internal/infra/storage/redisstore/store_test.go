package redisstore

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-groupbot/internal/domain/credentials"
)

func TestDecodeRecord(t *testing.T) {
	t.Parallel()

	_, err := decodeRecord(1, map[string]string{})
	require.ErrorIs(t, err, credentials.ErrNotFound)

	_, err = decodeRecord(1, map[string]string{fieldAppID: "x"})
	require.Error(t, err)

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec, err := decodeRecord(5, map[string]string{
		fieldAppID:     "12345",
		fieldAppHash:   "abcde",
		fieldUpdatedAt: ts.Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	assert.Equal(t, credentials.UserCredential{UserID: 5, AppID: 12345, AppHash: "abcde", UpdatedAt: ts}, rec)
	assert.False(t, rec.HasSession())
}

// TestStore_Live гоняет контракт против настоящего Redis; без TEST_REDIS_ADDR пропускается.
func TestStore_Live(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}
	ctx := context.Background()

	store, err := Open(ctx, Options{Addr: addr, Prefix: "groupbot-test-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":"})
	require.NoError(t, err)
	defer store.Close()

	require.ErrorIs(t, store.SetSession(ctx, 1, "x"), credentials.ErrNotFound)

	require.NoError(t, store.Upsert(ctx, 1, 10, "a"))
	require.NoError(t, store.SetSession(ctx, 1, "token"))
	require.NoError(t, store.Upsert(ctx, 1, 20, "b"))

	rec, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20, rec.AppID)
	assert.Equal(t, "b", rec.AppHash)
	assert.Empty(t, rec.Session)
}
