package mtproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"telegram-groupbot/internal/domain/account"
)

// classifySignIn переводит ошибки auth.SignIn в доменные ошибки account.
// Неизвестные ошибки проходят через classify.
func classifySignIn(err error) error {
	if err == nil {
		return nil
	}
	var signUp *auth.SignUpRequired
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return account.ErrPasswordNeeded
	case errors.As(err, &signUp):
		return account.ErrSignUpRequired
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return fmt.Errorf("%w: %w", account.ErrInvalidCode, err)
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return fmt.Errorf("%w: %w", account.ErrCodeExpired, err)
	}
	return classify(err)
}

// classifyPassword переводит ошибки auth.Password в доменные ошибки account.
func classifyPassword(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrPasswordInvalid) {
		return fmt.Errorf("%w: %w", account.ErrInvalidPassword, err)
	}
	return classify(err)
}

// classify помечает сетевые ошибки account.ErrNetwork, остальные возвращает как есть.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %w", account.ErrNetwork, err)
	}
	return err
}

// isNetworkError определяет, сигнализирует ли ошибка о сетевой проблеме/разрыве.
// Сетевыми считаем: закрытие соединения/движка (pool.ErrConnDead, rpc.ErrEngineClosed),
// исчерпание ретраев rpc.RetryLimitReachedErr, дедлайны, EOF и net.Error.
// Отмену контекста сетевой не считаем.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) || errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
