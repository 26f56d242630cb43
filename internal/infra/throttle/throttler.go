// Package throttle — ограничение частоты и повторные попытки для исходящих вызовов бота.
// В основе — токен-бакет golang.org/x/time/rate и экспоненциальный backoff с джиттером.
// Серверные указания подождать (retry_after) извлекаются настраиваемыми WaitExtractor,
// а ошибки, реализующие StopRetryer, возвращаются без повторов.
// Throttler потокобезопасен: Do можно вызывать из нескольких горутин.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// burstMultiplier задаёт ёмкость бакета как кратную rate.
const burstMultiplier = 2

// WaitExtractor анализирует ошибку и возвращает паузу перед повтором.
// Флаг показывает, что экстрактор распознал формат ошибки. Первый совпавший побеждает.
type WaitExtractor func(err error) (time.Duration, bool)

// StopRetryer объявляет ошибку окончательной: повторять вызов бессмысленно.
type StopRetryer interface {
	StopRetry() bool
}

// Option задаёт дополнительные параметры троттлера.
type Option func(*Throttler)

// WithMaxRetries ограничивает число повторов по backoff. Значение <=0 — без ограничения.
func WithMaxRetries(n int) Option {
	return func(t *Throttler) { t.maxRetries = n }
}

// WithWaitExtractors регистрирует экстракторы серверных задержек.
func WithWaitExtractors(extractors ...WaitExtractor) Option {
	return func(t *Throttler) {
		t.waitExtractors = append(t.waitExtractors, extractors...)
	}
}

// WithRandom подменяет источник случайности джиттера (для тестов).
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// WithSleep подменяет ожидание между попытками (для тестов).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.sleep = fn
		}
	}
}

// Throttler объединяет токен-бакет и стратегию повторов.
type Throttler struct {
	limiter        *rate.Limiter
	waitExtractors []WaitExtractor
	maxRetries     int
	randomFn       func() float64
	sleep          func(ctx context.Context, d time.Duration) error
}

// New создаёт троттлер на rps операций в секунду (минимум 1).
func New(rps int, opts ...Option) *Throttler {
	if rps <= 0 {
		rps = 1
	}
	t := &Throttler{
		limiter:    rate.NewLimiter(rate.Limit(rps), rps*burstMultiplier),
		maxRetries: -1,
		randomFn:   rand.Float64,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do выполняет fn с учётом лимита и повторов:
//  1. ждёт токен;
//  2. вызывает fn;
//  3. StopRetryer или сорванный контекст — вернуть сразу; extractor дал паузу — подождать
//     и повторить без роста attempt; иначе backoff с джиттером в пределах лимита.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	attempt := 0
	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		callErr := fn()
		if callErr == nil {
			return nil
		}

		var stopper StopRetryer
		switch {
		case errors.As(callErr, &stopper) && stopper.StopRetry():
			return callErr
		case errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded):
			return callErr
		}

		if wait, ok := t.extractWait(callErr); ok {
			if err := t.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if t.maxRetries > 0 && attempt >= t.maxRetries {
			return fmt.Errorf("throttle: max retries reached (%d): last error: %w", t.maxRetries, callErr)
		}
		backoff := t.expBackoff(attempt)
		attempt++
		if err := t.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (t *Throttler) extractWait(err error) (time.Duration, bool) {
	for _, extractor := range t.waitExtractors {
		if extractor == nil {
			continue
		}
		if wait, ok := extractor(err); ok {
			return wait, true
		}
	}
	return 0, false
}

// expBackoff — 2^attempt секунд, не больше 60с, с джиттером [0.85..1.15].
func (t *Throttler) expBackoff(attempt int) time.Duration {
	const (
		jitterRange = 0.3
		jitterMin   = 0.85
		maxSeconds  = 60.0
	)
	base := math.Min(math.Pow(2, float64(attempt)), maxSeconds)
	seconds := base * (t.randomFn()*jitterRange + jitterMin)
	return time.Duration(seconds * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
