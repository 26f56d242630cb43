// Package boltstore — хранилище учётных данных поверх bbolt.
// Одна запись на пользователя в бакете "users": ключ — big-endian UserID, значение — JSON
// credentials.UserCredential. Каждая операция выполняется одной транзакцией bbolt, поэтому
// Upsert и SetSession атомарны относительно друг друга.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"telegram-groupbot/internal/domain/credentials"
	"telegram-groupbot/internal/infra/clock"
	"telegram-groupbot/internal/infra/storage"
)

const (
	usersBucketName = "users"
	dbOpenTimeout   = time.Second
)

var usersBucket = []byte(usersBucketName)

// Store реализует credentials.Store.
type Store struct {
	db  *bbolt.DB
	now clock.Func
}

var _ credentials.Store = (*Store)(nil)

// Open открывает (или создаёт) файл базы и гарантирует наличие бакета.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("boltstore: db path is empty")
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("boltstore: %w", err)
	}

	db, err := bbolt.Open(path, storage.DefaultFilePerm, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "boltstore: open db")
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, bErr := tx.CreateBucketIfNotExists(usersBucket)
		return bErr
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "boltstore: create bucket")
	}

	return &Store{db: db, now: clock.Now}, nil
}

// Close закрывает файл базы.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert полностью заменяет запись пользователя, обнуляя сессию.
func (s *Store) Upsert(_ context.Context, userID int64, appID int, appHash string) error {
	rec := credentials.UserCredential{
		UserID:    userID,
		AppID:     appID,
		AppHash:   appHash,
		UpdatedAt: s.now(),
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, rec)
	})
}

// Get возвращает запись пользователя или credentials.ErrNotFound.
func (s *Store) Get(_ context.Context, userID int64) (credentials.UserCredential, error) {
	var rec credentials.UserCredential
	err := s.db.View(func(tx *bbolt.Tx) error {
		var gErr error
		rec, gErr = get(tx, userID)
		return gErr
	})
	return rec, err
}

// SetSession обновляет только сессию существующей записи.
func (s *Store) SetSession(_ context.Context, userID int64, session string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rec, err := get(tx, userID)
		if err != nil {
			return err
		}
		rec.Session = session
		rec.UpdatedAt = s.now()
		return put(tx, rec)
	})
}

func get(tx *bbolt.Tx, userID int64) (credentials.UserCredential, error) {
	var rec credentials.UserCredential
	raw := tx.Bucket(usersBucket).Get(userKey(userID))
	if raw == nil {
		return rec, credentials.ErrNotFound
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, errors.Wrapf(err, "boltstore: decode user %d", userID)
	}
	return rec, nil
}

func put(tx *bbolt.Tx, rec credentials.UserCredential) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "boltstore: encode user")
	}
	return tx.Bucket(usersBucket).Put(userKey(rec.UserID), raw)
}

// userKey кодирует UserID в 8 байт big-endian: порядок ключей совпадает с порядком id.
func userKey(userID int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(userID))
	return key
}
