package onboarding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"telegram-groupbot/internal/infra/logger"
)

// Start поднимает фоновую очистку просроченных входов. Повторные вызовы игнорируются.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	interval := janitorInterval(s.opts.PendingTTL)
	s.wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if n := s.ExpirePending(); n > 0 {
					logger.Info("pending logins expired", zap.Int("count", n))
				}
			}
		}
	})
}

// Stop останавливает очистку и дожидается горутины.
func (s *Service) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Close останавливает очистку и закрывает все незавершённые входы.
func (s *Service) Close() {
	s.Stop()

	s.pendMu.Lock()
	ids := make([]int64, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.pendMu.Unlock()

	for _, id := range ids {
		s.dropPending(id)
	}
}

// ExpirePending закрывает входы старше PendingTTL. Пользователи с выполняющейся
// командой пропускаются до следующего прохода.
func (s *Service) ExpirePending() int {
	now := s.opts.Now()

	s.pendMu.Lock()
	var expired []int64
	for id, p := range s.pending {
		if now.Sub(p.createdAt) >= s.opts.PendingTTL {
			expired = append(expired, id)
		}
	}
	s.pendMu.Unlock()

	n := 0
	for _, id := range expired {
		unlock, ok := s.tryLockUser(id)
		if !ok {
			continue
		}
		if s.isExpired(id, now) && s.dropPending(id) {
			n++
		}
		unlock()
	}
	return n
}

func (s *Service) isExpired(userID int64, now time.Time) bool {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	p, ok := s.pending[userID]
	return ok && now.Sub(p.createdAt) >= s.opts.PendingTTL
}

// janitorInterval — четверть TTL в пределах [1s, 1m].
func janitorInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	if d < time.Second {
		return time.Second
	}
	if d > time.Minute {
		return time.Minute
	}
	return d
}
