// Package checkpoint сохраняет черновики на локальный диск, чтобы прерванную
// сессию можно было восстановить. По умолчанию выключено.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"devlog-server/internal/domain"

	"github.com/google/uuid"
	"github.com/peterbourgon/diskv/v3"
	"go.uber.org/zap"
)

// Record - сохраненное состояние черновика.
type Record struct {
	SessionID uuid.UUID         `json:"sessionId"`
	UserID    string            `json:"userId"`
	Flow      domain.Flow       `json:"flow"`
	ProjectID int64             `json:"projectId"`
	Draft     domain.DraftInput `json:"draft"`
	SavedAt   time.Time         `json:"savedAt"`
}

// Store хранит чекпоинты в файлах, по одному на сессию.
type Store struct {
	d      *diskv.Diskv
	logger *zap.Logger
}

// NewStore создает хранилище в каталоге dir.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		d: diskv.New(diskv.Options{
			BasePath:          dir,
			AdvancedTransform: keyToPathTransform,
			InverseTransform:  pathToKeyTransform,
			CacheSizeMax:      1024 * 1024, // 1MB
		}),
		logger: logger.Named("CheckpointStore"),
	}
}

// keyToPathTransform раскладывает ключи по подкаталогам из первых двух символов id.
func keyToPathTransform(key string) *diskv.PathKey {
	if len(key) < 2 {
		return &diskv.PathKey{Path: []string{"_"}, FileName: key}
	}
	return &diskv.PathKey{Path: []string{key[:2]}, FileName: key}
}

func pathToKeyTransform(pathKey *diskv.PathKey) string {
	return pathKey.FileName
}

// Save перезаписывает чекпоинт сессии.
func (s *Store) Save(rec Record) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.d.Write(rec.SessionID.String(), val); err != nil {
		s.logger.Error("Failed to write checkpoint", zap.Stringer("sessionID", rec.SessionID), zap.Error(err))
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Load читает чекпоинт. Отсутствие дает domain.ErrCheckpointMissing.
func (s *Store) Load(sessionID uuid.UUID) (Record, error) {
	val, err := s.d.Read(sessionID.String())
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, domain.ErrCheckpointMissing
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, fmt.Errorf("corrupt checkpoint %s: %w", sessionID, err)
	}
	return rec, nil
}

// Delete удаляет чекпоинт; отсутствие не считается ошибкой.
func (s *Store) Delete(sessionID uuid.UUID) error {
	key := sessionID.String()
	if !s.d.Has(key) {
		return nil
	}
	if err := s.d.Erase(key); err != nil {
		return fmt.Errorf("failed to erase checkpoint: %w", err)
	}
	return nil
}

// ListByUser возвращает чекпоинты пользователя.
func (s *Store) ListByUser(ctx context.Context, userID string) []Record {
	var out []Record
	for key := range s.d.Keys(ctx.Done()) {
		id, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		rec, err := s.Load(id)
		if err != nil {
			s.logger.Warn("Skipping unreadable checkpoint", zap.String("key", key), zap.Error(err))
			continue
		}
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}
