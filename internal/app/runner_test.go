package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-groupbot/internal/domain/credentials"
	"telegram-groupbot/internal/infra/config"
	"telegram-groupbot/internal/infra/storage/sealed"
)

type fakeBot struct {
	err     error
	started bool
}

func (b *fakeBot) Run(ctx context.Context) error {
	b.started = true
	if b.err != nil {
		return b.err
	}
	<-ctx.Done()
	return nil
}

type fakeService struct {
	started bool
	closed  int
}

func (s *fakeService) Start(context.Context) { s.started = true }
func (s *fakeService) Close()                { s.closed++ }

type fakeStore struct {
	credentials.Store
	closed int
}

func (s *fakeStore) Close() error {
	s.closed++
	return nil
}

func TestRunner_GracefulStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bot := &fakeBot{}
	svc := &fakeService{}
	store := &fakeStore{}
	r := NewRunner(ctx, cancel, bot, svc, store)

	cancel()
	require.NoError(t, r.Run())

	assert.True(t, bot.started)
	assert.True(t, svc.started)
	assert.Equal(t, 1, svc.closed)
	assert.Equal(t, 1, store.closed)
}

func TestRunner_BotErrorCancelsMain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	boom := errors.New("poll failed")
	svc := &fakeService{}
	store := &fakeStore{}
	r := NewRunner(ctx, cancel, &fakeBot{err: boom}, svc, store)

	require.ErrorIs(t, r.Run(), boom)
	assert.Error(t, ctx.Err())
	assert.Equal(t, 1, svc.closed)
	assert.Equal(t, 1, store.closed)
}

func TestOpenStore_BoltWithSecret(t *testing.T) {
	ctx := context.Background()
	env := config.EnvConfig{
		StoreDriver: config.StoreDriverBolt,
		StoreFile:   filepath.Join(t.TempDir(), "nested", "users.bbolt"),
		StoreSecret: "s3cret",
	}

	store, err := openStore(ctx, env)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, ok := store.(*sealed.Store)
	assert.True(t, ok)

	require.NoError(t, store.Upsert(ctx, 5, 10, "hash"))
	cred, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "hash", cred.AppHash)
}

func TestOpenStore_BoltPlain(t *testing.T) {
	env := config.EnvConfig{
		StoreDriver: config.StoreDriverBolt,
		StoreFile:   filepath.Join(t.TempDir(), "users.bbolt"),
	}

	store, err := openStore(context.Background(), env)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, ok := store.(*sealed.Store)
	assert.False(t, ok)
}
