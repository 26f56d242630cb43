// Package app — верхний уровень сборки бота. Здесь связываются конфигурация, хранилище
// учётных данных, фабрика MTProto‑подключений, оркестратор onboarding и фронтенд Bot API.
// Жизненный цикл сервисов (старт, graceful shutdown) ведёт Runner.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"telegram-groupbot/internal/adapters/botapi"
	"telegram-groupbot/internal/adapters/telegram/mtproto"
	"telegram-groupbot/internal/domain/credentials"
	"telegram-groupbot/internal/domain/onboarding"
	"telegram-groupbot/internal/infra/config"
	"telegram-groupbot/internal/infra/logger"
	"telegram-groupbot/internal/infra/storage/boltstore"
	"telegram-groupbot/internal/infra/storage/redisstore"
	"telegram-groupbot/internal/infra/storage/sealed"
)

// App агрегирует зависимости бота.
type App struct {
	env        config.EnvConfig
	mainCtx    context.Context
	mainCancel context.CancelFunc

	store   credentials.Store
	service *onboarding.Service
	bot     *botapi.Bot
	runner  *Runner
}

// NewApp создаёт каркас приложения. Фактическая сборка выполняется в Init.
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc, env config.EnvConfig) *App {
	return &App{
		env:        env,
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Init открывает хранилище и собирает сервисы. При ошибке уже открытые ресурсы закрываются.
func (a *App) Init() error {
	logger.Info("Groupbot initializing...")

	store, err := openStore(a.mainCtx, a.env)
	if err != nil {
		return err
	}
	a.store = store

	dialer := mtproto.NewDialer(mtproto.Options{
		TestDC:              a.env.TestDC,
		ThrottleRPS:         a.env.ThrottleRPS,
		FloodWaitMaxRetries: a.env.FloodWaitMaxRetries,
	})

	a.service = onboarding.New(store, dialer, onboarding.Options{
		AuthTimeout: time.Duration(a.env.AuthTimeoutSec) * time.Second,
		PendingTTL:  time.Duration(a.env.PendingLoginTTLSec) * time.Second,
		MaxGroups:   a.env.MaxGroups,
	})

	bot, err := botapi.New(botapi.Options{
		Token:          a.env.BotToken,
		TestDC:         a.env.TestDC,
		PollTimeoutSec: a.env.PollTimeoutSec,
		CommandTimeout: time.Duration(a.env.AuthTimeoutSec) * time.Second,
	}, botapi.NewHandler(a.service))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("init bot: %w", err)
	}
	a.bot = bot

	a.runner = NewRunner(a.mainCtx, a.mainCancel, a.bot, a.service, a.store)
	return nil
}

// Run блокируется до остановки приложения.
func (a *App) Run() error {
	if a.runner == nil {
		return fmt.Errorf("app is not initialized")
	}
	return a.runner.Run()
}

// openStore выбирает backend по STORE_DRIVER и, при заданном STORE_SECRET, оборачивает его
// шифрующим декоратором.
func openStore(ctx context.Context, env config.EnvConfig) (credentials.Store, error) {
	var (
		store credentials.Store
		err   error
	)
	switch env.StoreDriver {
	case config.StoreDriverRedis:
		store, err = redisstore.Open(ctx, redisstore.Options{
			Addr:     env.RedisAddr,
			Password: env.RedisPassword,
			DB:       env.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		logger.Info("credential store: redis", zap.String("addr", env.RedisAddr), zap.Int("db", env.RedisDB))
	default:
		store, err = boltstore.Open(env.StoreFile)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		logger.Info("credential store: bolt", zap.String("file", env.StoreFile))
	}

	if env.StoreSecret == "" {
		logger.Warn("STORE_SECRET is not set; api_hash and sessions are stored in plain text")
		return store, nil
	}
	sealedStore, err := sealed.New(store, env.StoreSecret)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init sealed store: %w", err)
	}
	return sealedStore, nil
}
