// Файл runner.go — оркестрация жизненного цикла: запуск сервисов в правильном порядке
// и graceful shutdown в обратном. Бот перестаёт принимать апдейты и дожидается уже
// начатых команд, после чего закрываются незавершённые входы и хранилище.
package app

import (
	"context"
	"sync"

	"telegram-groupbot/internal/domain/credentials"
	"telegram-groupbot/internal/infra/logger"
)

// botRunner — фронтенд, блокирующийся до отмены контекста.
type botRunner interface {
	Run(ctx context.Context) error
}

// pendingService — оркестратор с фоновой очисткой незавершённых входов.
type pendingService interface {
	Start(ctx context.Context)
	Close()
}

// Runner запускает и останавливает сервисы бота.
type Runner struct {
	mainCtx    context.Context
	mainCancel context.CancelFunc
	bot        botRunner
	service    pendingService
	store      credentials.Store

	stopOnce sync.Once
}

// NewRunner подготавливает Runner.
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	bot botRunner,
	service pendingService,
	store credentials.Store,
) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		bot:        bot,
		service:    service,
		store:      store,
	}
}

// Run стартует очистку входов и long polling. Возвращает после отмены mainCtx
// и остановки всех сервисов. Ошибка бота инициирует общий shutdown.
func (r *Runner) Run() error {
	logger.Debug("starting service pending_logins")
	r.service.Start(r.mainCtx)
	logger.Debug("service pending_logins started")

	logger.Info("Groupbot running...")
	err := r.bot.Run(r.mainCtx)
	if err != nil {
		logger.Errorf("bot stopped with error: %v", err)
		r.mainCancel()
	}

	r.stopAllServices()
	return err
}

func (r *Runner) stopAllServices() {
	r.stopOnce.Do(func() {
		logger.Debug("stopping service pending_logins")
		r.service.Close()
		logger.Debug("service pending_logins stopped")

		logger.Debug("closing credential store")
		if err := r.store.Close(); err != nil {
			logger.Errorf("failed to close credential store: %v", err)
		}
		logger.Debug("credential store closed")
	})
}
