package botapi

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"telegram-groupbot/internal/infra/logger"
	"telegram-groupbot/internal/infra/throttle"
)

// testEndpoint — шаблон Bot API для тестовых DC.
const testEndpoint = "https://api.telegram.org/bot%s/test/%s"

// sendMaxRetries — повторы отправки ответа при временных сбоях Bot API.
const sendMaxRetries = 3

// sendTimeout ограничивает доставку ответа. Отмена контекста приложения её не прерывает:
// команда, завершённая во время остановки, всё равно получает ответ.
const sendTimeout = 30 * time.Second

// botAPI — часть tgbotapi.BotAPI, которой пользуется Bot.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Options настраивает бота.
type Options struct {
	Token          string
	TestDC         bool
	PollTimeoutSec int
	SendRPS        int
	// CommandTimeout ограничивает выполнение одной команды; 0 — без ограничения.
	CommandTimeout time.Duration
}

// Bot принимает апдейты long polling'ом и отвечает на команды.
// Каждый апдейт обрабатывается в своей горутине.
type Bot struct {
	api      botAPI
	handler  *Handler
	throttle *throttle.Throttler
	opts     Options

	wg sync.WaitGroup
}

// New авторизует бота по токену через getMe.
func New(opts Options, handler *Handler) (*Bot, error) {
	var (
		api *tgbotapi.BotAPI
		err error
	)
	if opts.TestDC {
		api, err = tgbotapi.NewBotAPIWithAPIEndpoint(opts.Token, testEndpoint)
	} else {
		api, err = tgbotapi.NewBotAPI(opts.Token)
	}
	if err != nil {
		return nil, errors.Wrap(err, "bot api auth")
	}
	logger.Info("bot authorized", zap.String("username", api.Self.UserName))
	return newBot(api, handler, opts), nil
}

func newBot(api botAPI, handler *Handler, opts Options) *Bot {
	if opts.SendRPS <= 0 {
		opts.SendRPS = 20
	}
	return &Bot{
		api:     api,
		handler: handler,
		opts:    opts,
		throttle: throttle.New(opts.SendRPS,
			throttle.WithMaxRetries(sendMaxRetries),
			throttle.WithWaitExtractors(RetryAfterExtractor()),
		),
	}
}

// Run читает апдейты до отмены ctx, затем дожидается выполняющихся обработчиков.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = b.opts.PollTimeoutSec
	cfg.AllowedUpdates = []string{"message"}
	updates := b.api.GetUpdatesChan(cfg)

	logger.Info("bot polling started")
	defer func() {
		b.api.StopReceivingUpdates()
		b.wg.Wait()
		logger.Info("bot polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Go(func() {
				b.handleUpdate(ctx, upd)
			})
		}
	}
}

// handleUpdate обрабатывает одно сообщение. Паника не выходит за пределы горутины.
func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return
	}

	command := msg.Command()
	log := logger.Logger().With(
		zap.String("request_id", uuid.NewString()),
		zap.Int64("user_id", msg.From.ID),
		zap.String("command", command),
	)
	if !Sensitive(command) && logger.IsDebugEnabled() {
		log = log.With(zap.String("args", msg.CommandArguments()))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("command panicked", zap.Any("panic", r))
		}
	}()

	cmdCtx := ctx
	if b.opts.CommandTimeout > 0 && command != "creategroups" {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, b.opts.CommandTimeout)
		defer cancel()
	}

	started := time.Now()
	log.Debug("command received")
	reply := b.handler.Handle(cmdCtx, msg.From.ID, command, msg.CommandArguments())

	sendCtx, cancelSend := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancelSend()
	if err := b.send(sendCtx, msg.Chat.ID, reply); err != nil {
		log.Warn("reply not delivered", zap.Error(err))
		return
	}
	log.Info("command handled", zap.Duration("took", time.Since(started)))
}

// send отправляет текст с ограничением частоты и повторами.
func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	out := tgbotapi.NewMessage(chatID, text)
	out.DisableWebPagePreview = true
	return b.throttle.Do(ctx, func() error {
		_, err := b.api.Send(out)
		return classifySendError(err)
	})
}
