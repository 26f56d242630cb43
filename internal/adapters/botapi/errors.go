package botapi

import (
	"errors"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-groupbot/internal/infra/throttle"
)

// permanentError — ошибка Bot API, при которой повтор не поможет (большинство 4xx).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) StopRetry() bool { return true }

// classifySendError помечает постоянные ошибки, чтобы троттлер не повторял их.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.RetryAfter > 0 || apiErr.Code == http.StatusTooManyRequests {
		return err
	}
	if apiErr.Code >= 400 && apiErr.Code < 500 {
		return &permanentError{err: err}
	}
	return err
}

// RetryAfterExtractor извлекает parameters.retry_after из ошибки Bot API.
// Серверный интервал соблюдается без джиттера.
func RetryAfterExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) {
			return 0, false
		}
		if apiErr.RetryAfter <= 0 {
			return 0, false
		}
		return time.Duration(apiErr.RetryAfter) * time.Second, true
	}
}
