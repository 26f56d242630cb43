package session

// Пакет session содержит реализацию tdsession.Storage для пользовательских MTProto‑сессий.
// Сессия живёт только в памяти соединения; наружу она выходит строковым токеном
// (base64url от байтов сессии gotd), который сохраняется в хранилище учётных данных.
// Пустой токен означает «новая сессия»: gotd создаст ключ авторизации при подключении.

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// ErrEmptySession возвращается Token(), если gotd ещё не записал сессию.
var ErrEmptySession = errors.New("session is empty")

// MemoryStorage реализует tdsession.Storage поверх байтового буфера.
// Потокобезопасен: gotd пишет сессию из своей горутины, а Token читается из обработчика команды.
type MemoryStorage struct {
	mux  sync.Mutex
	data []byte
}

// Компиляторная проверка соответствия интерфейсу tdsession.Storage.
var _ tdsession.Storage = (*MemoryStorage)(nil)

// FromToken восстанавливает хранилище из токена. Пустой токен — пустое хранилище.
func FromToken(token string) (*MemoryStorage, error) {
	s := &MemoryStorage{}
	if token == "" {
		return s, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Wrap(err, "decode session token")
	}
	s.data = data
	return s, nil
}

// LoadSession отдаёт копию сохранённой сессии или tdsession.ErrNotFound.
func (m *MemoryStorage) LoadSession(_ context.Context) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	m.mux.Lock()
	defer m.mux.Unlock()

	if len(m.data) == 0 {
		return nil, tdsession.ErrNotFound
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

// StoreSession запоминает копию данных сессии.
func (m *MemoryStorage) StoreSession(_ context.Context, data []byte) error {
	if m == nil {
		return errors.New("nil session storage is invalid")
	}
	m.mux.Lock()
	defer m.mux.Unlock()

	m.data = append(m.data[:0:0], data...)
	return nil
}

// Token сериализует текущую сессию в строку для хранилища учётных данных.
func (m *MemoryStorage) Token() (string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if len(m.data) == 0 {
		return "", ErrEmptySession
	}
	return base64.RawURLEncoding.EncodeToString(m.data), nil
}
