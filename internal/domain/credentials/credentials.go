// Package credentials описывает хранилище учётных данных пользователей бота:
// api_id/api_hash Telegram‑приложения и сериализованную MTProto‑сессию.
//
// Инварианты записи:
//   - на один UserID всегда ровно одна запись;
//   - Upsert полностью заменяет запись и сбрасывает Session;
//   - Session непустая только после успешной авторизации (код или код + 2FA);
//   - удаления нет: записи живут бессрочно.
package credentials

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound возвращается, если для пользователя нет записи.
var ErrNotFound = errors.New("credentials not found")

// UserCredential — одна запись хранилища.
type UserCredential struct {
	UserID    int64     `json:"user_id"`
	AppID     int       `json:"app_id"`
	AppHash   string    `json:"app_hash"`
	Session   string    `json:"session,omitempty"` // пусто == сессии нет
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSession сообщает, завершена ли авторизация для записи.
func (c UserCredential) HasSession() bool {
	return c.Session != ""
}

// Store — контракт хранилища. Реализации: boltstore (по умолчанию) и redisstore,
// плюс декоратор sealed, шифрующий секреты перед записью.
type Store interface {
	// Upsert вставляет или полностью заменяет запись, обнуляя Session.
	Upsert(ctx context.Context, userID int64, appID int, appHash string) error
	// Get возвращает запись или ErrNotFound.
	Get(ctx context.Context, userID int64) (UserCredential, error)
	// SetSession обновляет только Session существующей записи; ErrNotFound, если записи нет.
	SetSession(ctx context.Context, userID int64, session string) error
	// Close освобождает ресурсы backend'а.
	Close() error
}
