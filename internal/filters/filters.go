// Package filters хранит критерии поиска активностей пользователя и сбрасывает
// их при уходе из области активностей или после коммита.
package filters

import (
	"context"

	"devlog-server/internal/domain"
	"devlog-server/internal/metrics"

	"go.uber.org/zap"
)

// Criteria - критерии поиска активностей.
type Criteria struct {
	Word     string  `json:"word"`
	Keywords []int64 `json:"keywords"`
	Projects []int64 `json:"projects"`
}

// Empty возвращает сброшенные критерии (пустые списки, а не null).
func Empty() Criteria {
	return Criteria{Keywords: []int64{}, Projects: []int64{}}
}

func (c Criteria) normalized() Criteria {
	if c.Keywords == nil {
		c.Keywords = []int64{}
	}
	if c.Projects == nil {
		c.Projects = []int64{}
	}
	return c
}

// Store - хранилище критериев поиска.
type Store interface {
	Get(ctx context.Context, userID string) (Criteria, error)
	Put(ctx context.Context, userID string, c Criteria) error
	Reset(ctx context.Context, userID string) error
}

// Resetter сбрасывает критерии области. Сброс идемпотентен.
type Resetter struct {
	store  Store
	logger *zap.Logger
}

func NewResetter(store Store, logger *zap.Logger) *Resetter {
	return &Resetter{store: store, logger: logger.Named("FilterResetter")}
}

// Invalidate сбрасывает критерии, если они относятся к области area.
func (r *Resetter) Invalidate(ctx context.Context, userID string, area domain.Area) error {
	if area != domain.AreaActivity {
		return nil
	}
	if err := r.store.Reset(ctx, userID); err != nil {
		return err
	}
	metrics.IncAreaReset(string(area))
	r.logger.Debug("Search criteria reset", zap.String("userID", userID), zap.String("area", string(area)))
	return nil
}

// OnLeave - обработчик выхода пользователя из области.
func (r *Resetter) OnLeave(ctx context.Context, userID string, left domain.Area) {
	if err := r.Invalidate(ctx, userID, left); err != nil {
		r.logger.Warn("Failed to reset search criteria on navigation", zap.String("userID", userID), zap.Error(err))
	}
}
