package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-groupbot/internal/app"
	"telegram-groupbot/internal/infra/config"
	"telegram-groupbot/internal/infra/logger"
	"telegram-groupbot/internal/support/version"
)

func main() {
	// envPath определяет расположение .env с токеном бота и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()

	logger.Init(env.LogLevel)
	logger.InitFile(logger.FileOptions{
		Path:       env.LogFile,
		Level:      env.LogFileLevel,
		MaxSizeMB:  env.LogFileMaxSize,
		MaxBackups: env.LogFileMaxBackups,
		MaxAgeDays: env.LogFileMaxAge,
		Compress:   env.LogFileCompress,
	})
	defer logger.Close()
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}
	logger.Info("starting", zap.String("name", version.Name), zap.String("version", version.Version))

	// Контекст с обработкой Ctrl+C/SIGTERM. stop() снимает подписку на сигналы.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := app.NewApp(ctx, stop, env)
	if err := a.Init(); err != nil {
		stop()
		logger.Fatal("app init failed", zap.Error(err))
	}

	if err := a.Run(); err != nil {
		stop()
		logger.Fatal("app run failed", zap.Error(err))
	}
	stop()
	logger.Info("Graceful shutdown complete")
}
