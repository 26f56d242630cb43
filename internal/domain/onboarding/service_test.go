package onboarding_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-groupbot/internal/domain/account"
	"telegram-groupbot/internal/domain/account/accounttest"
	"telegram-groupbot/internal/domain/groups"
	"telegram-groupbot/internal/domain/onboarding"
	"telegram-groupbot/internal/infra/storage/boltstore"
)

const userID int64 = 777

type fixture struct {
	svc    *onboarding.Service
	store  *boltstore.Store
	dialer *accounttest.Dialer
	now    time.Time
}

func newFixture(t *testing.T, conns ...*accounttest.Conn) *fixture {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "users.bbolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:  store,
		dialer: &accounttest.Dialer{Queue: conns},
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = onboarding.New(store, f.dialer, onboarding.Options{
		AuthTimeout: time.Second,
		PendingTTL:  time.Minute,
		MaxGroups:   5,
		Now:         func() time.Time { return f.now },
	})
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) state(t *testing.T) onboarding.State {
	t.Helper()
	st, err := f.svc.State(context.Background(), userID)
	require.NoError(t, err)
	return st
}

func TestRegister_ReplacesRecordAndResetsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Register(ctx, userID, 1, "first"))
	require.NoError(t, f.store.SetSession(ctx, userID, "token"))
	require.NoError(t, f.svc.Register(ctx, userID, 2, "second"))

	cred, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, cred.AppID)
	assert.Equal(t, "second", cred.AppHash)
	assert.Empty(t, cred.Session)
	assert.Equal(t, onboarding.StateCredentialsStored, f.state(t))
}

func TestRequestCode_RequiresCredentials(t *testing.T) {
	f := newFixture(t)

	err := f.svc.RequestCode(context.Background(), userID, "+100")

	require.ErrorIs(t, err, onboarding.ErrNotRegistered)
	assert.Zero(t, f.dialer.DialCount())
	assert.Equal(t, onboarding.StateUnregistered, f.state(t))
}

func TestLogin_WithoutTwoFactor(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{CodeHash: "h1", Session: "tok"}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))
	assert.Equal(t, onboarding.StateCodeRequested, f.state(t))
	assert.Equal(t, account.Credentials{AppID: 42, AppHash: "hash"}, conn.Creds)

	out, err := f.svc.SubmitCode(ctx, userID, "12345")
	require.NoError(t, err)
	assert.Equal(t, onboarding.OutcomeAuthenticated, out)

	cred, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Session)
	assert.Equal(t, 1, conn.ClosedCount())
	assert.Zero(t, f.svc.Pending())
	assert.Equal(t, onboarding.StateAuthenticated, f.state(t))
}

func TestLogin_InvalidCodeAllowsRetry(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{SignInErrs: []error{account.ErrInvalidCode}}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))

	_, err := f.svc.SubmitCode(ctx, userID, "00000")
	require.ErrorIs(t, err, onboarding.ErrInvalidCode)
	assert.Equal(t, onboarding.StateCodeRequested, f.state(t))
	assert.Zero(t, conn.ClosedCount())

	out, err := f.svc.SubmitCode(ctx, userID, "12345")
	require.NoError(t, err)
	assert.Equal(t, onboarding.OutcomeAuthenticated, out)
	assert.Equal(t, []string{"00000", "12345"}, conn.Codes)
	assert.Equal(t, 1, f.dialer.DialCount())
}

func TestLogin_TwoFactor(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{
		SignInErrs:   []error{account.ErrPasswordNeeded},
		PasswordErrs: []error{account.ErrInvalidPassword},
		Session:      "tok-2fa",
	}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))

	// Пароль до кода не принимается, вход остаётся на этапе кода.
	require.ErrorIs(t, f.svc.SubmitPassword(ctx, userID, "secret"), onboarding.ErrAwaitingCode)
	assert.Equal(t, onboarding.StateCodeRequested, f.state(t))

	out, err := f.svc.SubmitCode(ctx, userID, "12345")
	require.NoError(t, err)
	assert.Equal(t, onboarding.OutcomeTwoFactorRequired, out)
	assert.Equal(t, onboarding.StateTwoFactorRequired, f.state(t))

	cred, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, cred.Session)

	// Повторный /code на этапе 2FA не принимается, вход не сбрасывается.
	_, err = f.svc.SubmitCode(ctx, userID, "12345")
	require.ErrorIs(t, err, onboarding.ErrAwaitingPassword)
	assert.Equal(t, onboarding.StateTwoFactorRequired, f.state(t))

	require.ErrorIs(t, f.svc.SubmitPassword(ctx, userID, "wrong"), onboarding.ErrInvalidPassword)
	assert.Equal(t, onboarding.StateTwoFactorRequired, f.state(t))

	require.NoError(t, f.svc.SubmitPassword(ctx, userID, "secret"))
	cred, err = f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "tok-2fa", cred.Session)
	assert.Equal(t, []string{"wrong", "secret"}, conn.Passwords)
	assert.Equal(t, 1, conn.ClosedCount())
	assert.Equal(t, 1, f.dialer.DialCount(), "2FA reuses the login connection")
}

func TestSubmitCode_OtherErrorAbandonsLogin(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{SignInErrs: []error{account.ErrCodeExpired}}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))

	_, err := f.svc.SubmitCode(ctx, userID, "12345")
	require.ErrorIs(t, err, account.ErrCodeExpired)
	assert.Equal(t, 1, conn.ClosedCount())
	assert.Equal(t, onboarding.StateCredentialsStored, f.state(t))

	_, err = f.svc.SubmitCode(ctx, userID, "12345")
	require.ErrorIs(t, err, onboarding.ErrNoPendingLogin)
}

func TestSubmitWithoutLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SubmitCode(ctx, userID, "1")
	require.ErrorIs(t, err, onboarding.ErrNoPendingLogin)
	require.ErrorIs(t, f.svc.SubmitPassword(ctx, userID, "pw"), onboarding.ErrNoPendingLogin)
}

func TestRequestCode_SendFailureClosesConnection(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("flood")
	conn := &accounttest.Conn{SendCodeErr: boom}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.ErrorIs(t, f.svc.RequestCode(ctx, userID, "+100"), boom)
	assert.Equal(t, 1, conn.ClosedCount())
	assert.Equal(t, onboarding.StateCredentialsStored, f.state(t))
}

func TestRequestCode_ReplacesPreviousLogin(t *testing.T) {
	ctx := context.Background()
	first := &accounttest.Conn{}
	second := &accounttest.Conn{}
	f := newFixture(t, first, second)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+200"))

	assert.Equal(t, 1, first.ClosedCount())
	assert.Zero(t, second.ClosedCount())
	assert.Equal(t, 1, f.svc.Pending())
}

func TestRegister_DropsPendingLogin(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))
	require.NoError(t, f.svc.Register(ctx, userID, 43, "other"))

	assert.Equal(t, 1, conn.ClosedCount())
	assert.Zero(t, f.svc.Pending())
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{}
	f := newFixture(t, conn)

	assert.False(t, f.svc.Cancel(userID))
	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))

	assert.True(t, f.svc.Cancel(userID))
	assert.Equal(t, 1, conn.ClosedCount())
	assert.Equal(t, onboarding.StateCredentialsStored, f.state(t))
}

func TestExpirePending(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))

	f.now = f.now.Add(30 * time.Second)
	assert.Zero(t, f.svc.ExpirePending())

	f.now = f.now.Add(time.Minute)
	assert.Equal(t, 1, f.svc.ExpirePending())
	assert.Equal(t, 1, conn.ClosedCount())
	assert.Zero(t, f.svc.Pending())
}

func TestExpirePending_SkipsBusyUser(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))
	f.now = f.now.Add(2 * time.Minute)

	unlock := f.svc.LockUser(userID)
	assert.Zero(t, f.svc.ExpirePending())
	assert.Equal(t, 1, f.svc.Pending())
	assert.Equal(t, 1, f.svc.LockedUsers())
	unlock()

	assert.Equal(t, 1, f.svc.ExpirePending())
	assert.Zero(t, f.svc.LockedUsers())
}

func TestUserLocksReleasedAfterCommands(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{SignInErrs: []error{account.ErrInvalidCode}, Session: "tok"}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))
	_, err := f.svc.SubmitCode(ctx, userID, "1")
	require.ErrorIs(t, err, onboarding.ErrInvalidCode)
	assert.Zero(t, f.svc.LockedUsers(), "pending login does not pin the lock")

	_, err = f.svc.SubmitCode(ctx, userID, "2")
	require.NoError(t, err)
	_, err = f.svc.CreateGroups(ctx, userID+1, 1)
	require.ErrorIs(t, err, onboarding.ErrNotRegistered)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Go(func() {
			f.svc.Cancel(userID + int64(i%4))
		})
	}
	wg.Wait()
	assert.Zero(t, f.svc.LockedUsers())
}

func TestClose_ClosesPendingConnections(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.svc.RequestCode(ctx, userID, "+100"))
	f.svc.Start(ctx)

	f.svc.Close()
	assert.Equal(t, 1, conn.ClosedCount())
	assert.Zero(t, f.svc.Pending())
}

func TestCreateGroups_RequiresSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateGroups(ctx, userID, 2)
	require.ErrorIs(t, err, onboarding.ErrNotRegistered)

	require.NoError(t, f.svc.Register(ctx, userID, 12345, "abcde"))
	_, err = f.svc.CreateGroups(ctx, userID, 2)
	require.ErrorIs(t, err, onboarding.ErrNotAuthenticated)
	assert.Zero(t, f.dialer.DialCount())
}

func TestCreateGroups_TooMany(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateGroups(context.Background(), userID, 6)
	require.ErrorIs(t, err, onboarding.ErrTooManyGroups)
	assert.Zero(t, f.dialer.DialCount())
}

func TestCreateGroups_UsesStoredSession(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.store.SetSession(ctx, userID, "stored"))

	rep, err := f.svc.CreateGroups(ctx, userID, 2)
	require.NoError(t, err)
	require.NoError(t, rep.Err)
	assert.Len(t, rep.Links, 2)
	assert.Equal(t, account.Credentials{AppID: 42, AppHash: "hash", Session: "stored"}, conn.Creds)
	for _, g := range conn.Groups {
		assert.Equal(t, groups.OnboardingMessages, conn.MessagesFor(g.ID))
	}
	assert.Equal(t, 1, conn.ClosedCount())
}

func TestCreateGroups_PartialFailureClosesConnection(t *testing.T) {
	ctx := context.Background()
	conn := &accounttest.Conn{FailCreateAt: 2, CreateErr: errors.New("CHANNELS_TOO_MUCH")}
	f := newFixture(t, conn)

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.store.SetSession(ctx, userID, "stored"))

	rep, err := f.svc.CreateGroups(ctx, userID, 3)
	require.NoError(t, err)
	require.Error(t, rep.Err)
	assert.Len(t, rep.Links, 1)
	assert.Equal(t, 2, rep.Failed())
	assert.Equal(t, 1, conn.ClosedCount())
}

func TestCreateGroups_DialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.dialer.DialErr = account.ErrNetwork

	require.NoError(t, f.svc.Register(ctx, userID, 42, "hash"))
	require.NoError(t, f.store.SetSession(ctx, userID, "stored"))

	_, err := f.svc.CreateGroups(ctx, userID, 1)
	require.ErrorIs(t, err, account.ErrNetwork)
}
