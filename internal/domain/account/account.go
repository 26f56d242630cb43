// Package account описывает контракт пользовательского MTProto‑подключения, через которое
// бот авторизует личный аккаунт и создаёт группы. Доменные сценарии (onboarding, groups)
// зависят только от этих интерфейсов; реализация на gotd лежит в adapters/telegram/mtproto.
package account

import (
	"context"
	"errors"
)

// Ошибки авторизации, в которые реализация нормализует ответы Telegram.
var (
	// ErrInvalidCode — неверный или пустой код подтверждения; можно повторить /code.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrCodeExpired — код истёк; нужен новый /login.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrPasswordNeeded — код принят, но на аккаунте включена 2FA.
	ErrPasswordNeeded = errors.New("two-factor password required")
	// ErrInvalidPassword — неверный пароль 2FA; можно повторить /2fa.
	ErrInvalidPassword = errors.New("invalid two-factor password")
	// ErrSignUpRequired — номер не зарегистрирован в Telegram.
	ErrSignUpRequired = errors.New("phone number is not registered")
	// ErrNetwork — сетевой сбой или разрыв соединения.
	ErrNetwork = errors.New("network failure")
)

// Credentials — всё, что нужно для подключения от имени пользователя.
// Пустой Session означает новое, ещё не авторизованное подключение.
type Credentials struct {
	AppID   int
	AppHash string
	Session string
}

// Group — ссылка на созданную супергруппу, достаточная для последующих вызовов.
type Group struct {
	ID         int64
	AccessHash int64
	Title      string
}

// Conn — открытое подключение. Close обязателен на каждом пути выхода и идемпотентен.
type Conn interface {
	// SendCode запрашивает код подтверждения и возвращает phone_code_hash.
	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	// SignIn проверяет код. ErrPasswordNeeded сообщает о необходимости шага 2FA.
	SignIn(ctx context.Context, phone, code, codeHash string) error
	// Password завершает вход паролем 2FA на том же подключении.
	Password(ctx context.Context, password string) error
	// ExportSession сериализует авторизованную сессию в токен.
	ExportSession() (string, error)

	// CreateGroup создаёт приватную супергруппу.
	CreateGroup(ctx context.Context, title, about string) (Group, error)
	// ShowHistory делает историю группы видимой для новых участников.
	ShowHistory(ctx context.Context, g Group) error
	// SendText отправляет текстовое сообщение в группу.
	SendText(ctx context.Context, g Group, text string) error
	// ExportInvite создаёт пригласительную ссылку.
	ExportInvite(ctx context.Context, g Group) (string, error)

	Close() error
}

// Dialer открывает подключения.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}
