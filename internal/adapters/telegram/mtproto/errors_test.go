package mtproto

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-groupbot/internal/domain/account"
)

func TestClassifySignIn(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "passwordNeeded", err: auth.ErrPasswordAuthNeeded, want: account.ErrPasswordNeeded},
		{name: "signUp", err: &auth.SignUpRequired{}, want: account.ErrSignUpRequired},
		{name: "codeInvalid", err: tgerr.New(400, "PHONE_CODE_INVALID"), want: account.ErrInvalidCode},
		{name: "codeEmpty", err: tgerr.New(400, "PHONE_CODE_EMPTY"), want: account.ErrInvalidCode},
		{name: "codeExpired", err: tgerr.New(400, "PHONE_CODE_EXPIRED"), want: account.ErrCodeExpired},
		{name: "eof", err: io.EOF, want: account.ErrNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, classifySignIn(tc.err), tc.want)
		})
	}

	assert.NoError(t, classifySignIn(nil))
}

func TestClassifyPassword(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, classifyPassword(auth.ErrPasswordInvalid), account.ErrInvalidPassword)

	other := errors.New("boom")
	got := classifyPassword(other)
	require.ErrorIs(t, got, other)
	assert.NotErrorIs(t, got, account.ErrInvalidPassword)
}

func TestIsNetworkError(t *testing.T) {
	t.Parallel()

	assert.False(t, isNetworkError(nil))
	assert.False(t, isNetworkError(context.Canceled))
	assert.True(t, isNetworkError(context.DeadlineExceeded))
	assert.True(t, isNetworkError(io.EOF))
	assert.False(t, isNetworkError(tgerr.New(400, "CHAT_TITLE_EMPTY")))
}

func TestChannelFromUpdates(t *testing.T) {
	t.Parallel()

	ch := &tg.Channel{ID: 10, AccessHash: 20, Title: "AutoGroup 1", Megagroup: true}
	got, err := channelFromUpdates(&tg.Updates{Chats: []tg.ChatClass{&tg.Chat{ID: 1}, ch}})
	require.NoError(t, err)
	assert.Equal(t, ch, got)

	got, err = channelFromUpdates(&tg.UpdatesCombined{Chats: []tg.ChatClass{ch}})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.ID)

	_, err = channelFromUpdates(&tg.Updates{})
	require.Error(t, err)

	_, err = channelFromUpdates(&tg.UpdatesTooLong{})
	require.Error(t, err)
}
