// Package redisstore — хранилище учётных данных поверх Redis.
// Каждый пользователь — отдельный hash "<prefix>user:<id>" с полями app_id, app_hash,
// session и updated_at. Upsert выполняется в MULTI/EXEC (DEL + HSET), SetSession —
// Lua‑скриптом, который обновляет поле только у существующего ключа.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"telegram-groupbot/internal/domain/credentials"
	"telegram-groupbot/internal/infra/clock"
)

// DefaultPrefix — префикс ключей по умолчанию.
const DefaultPrefix = "groupbot:"

const (
	fieldAppID     = "app_id"
	fieldAppHash   = "app_hash"
	fieldSession   = "session"
	fieldUpdatedAt = "updated_at"
)

// setSessionScript возвращает 0, если записи нет, и 1 после обновления.
var setSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], ARGV[3], ARGV[4])
return 1
`)

// Options — параметры подключения.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store реализует credentials.Store.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    clock.Func
}

var _ credentials.Store = (*Store)(nil)

// Open подключается к Redis и проверяет соединение PING'ом.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redisstore: ping %s", opts.Addr)
	}
	return New(rdb, opts.Prefix), nil
}

// New оборачивает готовый клиент. Пустой prefix заменяется на DefaultPrefix.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, now: clock.Now}
}

// Close закрывает клиент Redis.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Upsert полностью заменяет hash пользователя; поле session не пишется, то есть сбрасывается.
func (s *Store) Upsert(ctx context.Context, userID int64, appID int, appHash string) error {
	key := s.key(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldAppID, strconv.Itoa(appID),
			fieldAppHash, appHash,
			fieldUpdatedAt, s.now().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "redisstore: upsert user %d", userID)
	}
	return nil
}

// Get возвращает запись пользователя или credentials.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID int64) (credentials.UserCredential, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return credentials.UserCredential{}, errors.Wrapf(err, "redisstore: get user %d", userID)
	}
	return decodeRecord(userID, fields)
}

// SetSession обновляет только сессию существующей записи.
func (s *Store) SetSession(ctx context.Context, userID int64, session string) error {
	updated, err := setSessionScript.Run(ctx, s.rdb, []string{s.key(userID)},
		fieldSession, session,
		fieldUpdatedAt, s.now().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return errors.Wrapf(err, "redisstore: set session for user %d", userID)
	}
	if updated == 0 {
		return credentials.ErrNotFound
	}
	return nil
}

func (s *Store) key(userID int64) string {
	return s.prefix + "user:" + strconv.FormatInt(userID, 10)
}

// decodeRecord собирает запись из полей hash. Пустая мапа — записи нет.
func decodeRecord(userID int64, fields map[string]string) (credentials.UserCredential, error) {
	if len(fields) == 0 {
		return credentials.UserCredential{}, credentials.ErrNotFound
	}
	appID, err := strconv.Atoi(fields[fieldAppID])
	if err != nil {
		return credentials.UserCredential{}, errors.Wrapf(err, "redisstore: decode app_id of user %d", userID)
	}
	rec := credentials.UserCredential{
		UserID:  userID,
		AppID:   appID,
		AppHash: fields[fieldAppHash],
		Session: fields[fieldSession],
	}
	if raw := fields[fieldUpdatedAt]; raw != "" {
		if ts, tErr := time.Parse(time.RFC3339Nano, raw); tErr == nil {
			rec.UpdatedAt = ts
		}
	}
	return rec, nil
}
