// Package sealed — декоратор credentials.Store, шифрующий api_hash и сессию перед записью.
//
// Ключ AES-256 выводится из STORE_SECRET через argon2id один раз при создании. Каждое
// значение шифруется AES-GCM со свежим nonce и хранится как "v1:" + base64(nonce|ciphertext).
// Пустые значения не шифруются: пустая сессия должна оставаться пустой для backend'а.
// Значения без префикса читаются как есть, что позволяет включить шифрование на живой базе.
package sealed

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/argon2"

	"telegram-groupbot/internal/domain/credentials"
)

const (
	sealedPrefix = "v1:"
	keyLen       = 32
)

// kdfSalt фиксирован: ключ должен воспроизводиться между перезапусками без отдельного хранения соли.
var kdfSalt = []byte("telegram-groupbot/credentials/v1")

// ErrCorrupted возвращается, если значение не удалось расшифровать (другой ключ или порча данных).
var ErrCorrupted = errors.New("sealed value cannot be opened")

// Store шифрует секреты и делегирует хранение вложенному backend'у.
type Store struct {
	inner credentials.Store
	aead  cipher.AEAD
}

var _ credentials.Store = (*Store)(nil)

// New оборачивает inner. Пустой secret — ошибка конфигурации.
func New(inner credentials.Store, secret string) (*Store, error) {
	if secret == "" {
		return nil, errors.New("sealed: empty secret")
	}
	key := argon2.IDKey([]byte(secret), kdfSalt, 1, 64*1024, 4, keyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "sealed: new cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "sealed: new gcm")
	}
	return &Store{inner: inner, aead: aead}, nil
}

// Upsert шифрует api_hash и передаёт запись дальше.
func (s *Store) Upsert(ctx context.Context, userID int64, appID int, appHash string) error {
	sealedHash, err := s.seal(appHash)
	if err != nil {
		return err
	}
	return s.inner.Upsert(ctx, userID, appID, sealedHash)
}

// Get читает запись и расшифровывает секреты.
func (s *Store) Get(ctx context.Context, userID int64) (credentials.UserCredential, error) {
	rec, err := s.inner.Get(ctx, userID)
	if err != nil {
		return rec, err
	}
	if rec.AppHash, err = s.open(rec.AppHash); err != nil {
		return credentials.UserCredential{}, errors.Wrapf(err, "open app hash of user %d", userID)
	}
	if rec.Session, err = s.open(rec.Session); err != nil {
		return credentials.UserCredential{}, errors.Wrapf(err, "open session of user %d", userID)
	}
	return rec, nil
}

// SetSession шифрует сессию и передаёт дальше.
func (s *Store) SetSession(ctx context.Context, userID int64, session string) error {
	sealedSession, err := s.seal(session)
	if err != nil {
		return err
	}
	return s.inner.SetSession(ctx, userID, sealedSession)
}

// Close закрывает вложенное хранилище.
func (s *Store) Close() error {
	return s.inner.Close()
}

func (s *Store) seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "sealed: nonce")
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *Store) open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", ErrCorrupted
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrCorrupted
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrCorrupted
	}
	return string(plain), nil
}
