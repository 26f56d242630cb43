// Package groups реализует массовое создание приватных супергрупп поверх авторизованного
// подключения: создать группу, открыть историю, отправить приветственные сообщения,
// выпустить пригласительную ссылку. Подключение открывает и закрывает вызывающий.
package groups

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"telegram-groupbot/internal/domain/account"
	"telegram-groupbot/internal/infra/logger"
)

// About — описание каждой создаваемой группы.
const About = "Created by AutoBot"

// OnboardingMessages отправляются в каждую новую группу строго в этом порядке.
var OnboardingMessages = []string{
	"Welcome to the group!",
	"Check pinned messages for rules.",
	"Invite your friends!",
	"Have fun chatting!",
	"Be respectful to everyone.",
	"Enjoy your stay!",
}

// Title возвращает название i-й группы (нумерация с 1).
func Title(i int) string {
	return fmt.Sprintf("AutoGroup %d", i)
}

// Report — итог пакетного создания.
// Links собраны в порядке создания; Err непустой, если цикл прервался.
type Report struct {
	Links     []string
	Requested int
	Err       error
}

// Failed — сколько групп из запрошенных не получило ссылку.
func (r Report) Failed() int {
	return r.Requested - len(r.Links)
}

// Create создаёт n групп по очереди и останавливается на первой ошибке.
// Значения n < 1 приводятся к 1.
func Create(ctx context.Context, conn account.Conn, n int) Report {
	if n < 1 {
		n = 1
	}
	rep := Report{Requested: n, Links: make([]string, 0, n)}

	for i := 1; i <= n; i++ {
		link, err := createOne(ctx, conn, Title(i))
		if err != nil {
			rep.Err = fmt.Errorf("group %d of %d: %w", i, n, err)
			logger.Warn("group creation stopped",
				zap.Int("index", i),
				zap.Int("created", len(rep.Links)),
				zap.Error(err))
			return rep
		}
		rep.Links = append(rep.Links, link)
		logger.Debug("group created", zap.Int("index", i))
	}
	return rep
}

// createOne выполняет полный цикл для одной группы.
func createOne(ctx context.Context, conn account.Conn, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g, err := conn.CreateGroup(ctx, title, About)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if err := conn.ShowHistory(ctx, g); err != nil {
		return "", fmt.Errorf("show history: %w", err)
	}
	for _, text := range OnboardingMessages {
		if err := conn.SendText(ctx, g, text); err != nil {
			return "", fmt.Errorf("send message: %w", err)
		}
	}
	link, err := conn.ExportInvite(ctx, g)
	if err != nil {
		return "", fmt.Errorf("export invite: %w", err)
	}
	return link, nil
}
