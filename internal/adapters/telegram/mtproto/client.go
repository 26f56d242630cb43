// Package mtproto — реализация account.Dialer/account.Conn поверх gotd.
//
// Каждое подключение — отдельный telegram.Client, запущенный в фоновой горутине: соединение
// живо, пока колбэк client.Run заблокирован. Так подключение, открытое на /login, переживает
// обработчик команды и дожидается /code и /2fa. Close отменяет Run и ждёт его завершения.
// Сессия хранится в памяти (session.MemoryStorage) и наружу выходит токеном.
package mtproto

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"telegram-groupbot/internal/domain/account"
	"telegram-groupbot/internal/infra/logger"
	"telegram-groupbot/internal/infra/telegram/session"
	"telegram-groupbot/internal/support/version"
)

// Options — параметры MTProto‑клиентов.
type Options struct {
	// TestDC переключает клиентов на тестовые DC Telegram.
	TestDC bool
	// ThrottleRPS — ограничение частоты RPC на одно подключение; burst = 2*RPS.
	ThrottleRPS int
	// FloodWaitMaxRetries — сколько раз переждать FLOOD_WAIT, прежде чем вернуть ошибку.
	FloodWaitMaxRetries int
}

// Dialer открывает gotd‑подключения.
type Dialer struct {
	opts Options
}

var _ account.Dialer = (*Dialer)(nil)

// NewDialer создаёт Dialer. Неположительный ThrottleRPS заменяется на 1.
func NewDialer(opts Options) *Dialer {
	if opts.ThrottleRPS <= 0 {
		opts.ThrottleRPS = 1
	}
	if opts.FloodWaitMaxRetries < 0 {
		opts.FloodWaitMaxRetries = 0
	}
	return &Dialer{opts: opts}
}

// Dial поднимает клиента и ждёт установления соединения (или ошибки/отмены ctx).
// ctx ограничивает только подключение: дальше соединение живёт до Close.
func (d *Dialer) Dial(ctx context.Context, creds account.Credentials) (account.Conn, error) {
	storage, err := session.FromToken(creds.Session)
	if err != nil {
		return nil, err
	}

	options := telegram.Options{
		SessionStorage: storage,
		NoUpdates:      true,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter().WithMaxRetries(uint(d.opts.FloodWaitMaxRetries)),
			ratelimit.New(rate.Limit(d.opts.ThrottleRPS), d.opts.ThrottleRPS*2), //nolint:mnd // burst = 2*rate
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   version.Name,
			SystemVersion: "server",
			AppVersion:    version.Version,
		},
	}
	if d.opts.TestDC {
		options.DCList = dcs.Test()
	}

	client := telegram.NewClient(creds.AppID, creds.AppHash, options)
	runCtx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		client:  client,
		api:     client.API(),
		sender:  message.NewSender(client.API()),
		storage: storage,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.runErr = client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		logger.Debug("mtproto: connection ready", zap.Int("app_id", creds.AppID))
		return c, nil
	case <-c.done:
		cancel()
		if c.runErr == nil {
			return nil, errors.New("connect: client stopped before ready")
		}
		return nil, classify(errors.Wrap(c.runErr, "connect"))
	case <-ctx.Done():
		cancel()
		<-c.done
		return nil, classify(errors.Wrap(ctx.Err(), "connect"))
	}
}

// Conn — живое gotd‑подключение одного пользователя.
type Conn struct {
	client  *telegram.Client
	api     *tg.Client
	sender  *message.Sender
	storage *session.MemoryStorage

	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	closeOnce sync.Once
}

var _ account.Conn = (*Conn)(nil)

// SendCode запрашивает код подтверждения для phone.
func (c *Conn) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", classify(errors.Wrap(err, "send code"))
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", errors.Errorf("send code: unexpected response %T", sent)
	}
	return code.PhoneCodeHash, nil
}

// SignIn проверяет код на этом же подключении.
func (c *Conn) SignIn(ctx context.Context, phone, code, codeHash string) error {
	if _, err := c.client.Auth().SignIn(ctx, phone, code, codeHash); err != nil {
		return classifySignIn(err)
	}
	return nil
}

// Password завершает вход паролем 2FA. gotd сам запрашивает параметры SRP.
func (c *Conn) Password(ctx context.Context, password string) error {
	if _, err := c.client.Auth().Password(ctx, password); err != nil {
		return classifyPassword(err)
	}
	return nil
}

// ExportSession сериализует текущую сессию.
func (c *Conn) ExportSession() (string, error) {
	return c.storage.Token()
}

// CreateGroup создаёт приватную супергруппу (megagroup без username).
func (c *Conn) CreateGroup(ctx context.Context, title, about string) (account.Group, error) {
	upd, err := c.api.ChannelsCreateChannel(ctx, &tg.ChannelsCreateChannelRequest{
		Megagroup: true,
		Title:     title,
		About:     about,
	})
	if err != nil {
		return account.Group{}, classify(errors.Wrap(err, "create channel"))
	}
	ch, err := channelFromUpdates(upd)
	if err != nil {
		return account.Group{}, err
	}
	return account.Group{ID: ch.ID, AccessHash: ch.AccessHash, Title: ch.Title}, nil
}

// ShowHistory выключает скрытие истории для новых участников.
// CHAT_NOT_MODIFIED означает, что история уже видима.
func (c *Conn) ShowHistory(ctx context.Context, g account.Group) error {
	_, err := c.api.ChannelsTogglePreHistoryHidden(ctx, &tg.ChannelsTogglePreHistoryHiddenRequest{
		Channel: inputChannel(g),
		Enabled: false,
	})
	if err != nil && !tgerr.Is(err, "CHAT_NOT_MODIFIED") {
		return classify(errors.Wrap(err, "toggle pre-history"))
	}
	return nil
}

// SendText отправляет одно текстовое сообщение; random_id генерирует message.Sender.
func (c *Conn) SendText(ctx context.Context, g account.Group, text string) error {
	if _, err := c.sender.To(inputPeer(g)).Text(ctx, text); err != nil {
		return classify(errors.Wrap(err, "send message"))
	}
	return nil
}

// ExportInvite создаёт пригласительную ссылку в группу.
func (c *Conn) ExportInvite(ctx context.Context, g account.Group) (string, error) {
	res, err := c.api.MessagesExportChatInvite(ctx, &tg.MessagesExportChatInviteRequest{
		Peer: inputPeer(g),
	})
	if err != nil {
		return "", classify(errors.Wrap(err, "export invite"))
	}
	invite, ok := res.(*tg.ChatInviteExported)
	if !ok {
		return "", errors.Errorf("export invite: unexpected response %T", res)
	}
	return invite.Link, nil
}

// Close останавливает клиента и ждёт завершения Run. Повторные вызовы безопасны.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		if c.runErr != nil && !errors.Is(c.runErr, context.Canceled) {
			err = errors.Wrap(c.runErr, "mtproto: run")
		}
	})
	return err
}

// channelFromUpdates достаёт созданный канал из ответа channels.createChannel.
func channelFromUpdates(upd tg.UpdatesClass) (*tg.Channel, error) {
	var chats []tg.ChatClass
	switch u := upd.(type) {
	case *tg.Updates:
		chats = u.Chats
	case *tg.UpdatesCombined:
		chats = u.Chats
	default:
		return nil, errors.Errorf("create channel: unexpected updates %T", upd)
	}
	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return ch, nil
		}
	}
	return nil, errors.New("create channel: no channel in response")
}

func inputChannel(g account.Group) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: g.ID, AccessHash: g.AccessHash}
}

func inputPeer(g account.Group) *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: g.ID, AccessHash: g.AccessHash}
}
