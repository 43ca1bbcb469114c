// Package navigation сопоставляет переходы клиента областям интерфейса и
// уведомляет подписчиков, когда пользователь покидает область.
package navigation

import (
	"context"
	"strings"
	"sync"

	"devlog-server/internal/domain"

	"go.uber.org/zap"
)

// Resolve сопоставляет путь клиентского роутера с областью.
//
//	/                                 -> main
//	/project/{id}/diary/new           -> diary-create
//	/project/{id}/activity/extract    -> activity-extract
//	/project/...                      -> project
//	/activity/...                     -> activity
//	/my                               -> profile
func Resolve(path string) domain.Area {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		return domain.AreaMain
	}

	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch segments[0] {
	case "project":
		if len(segments) >= 4 && segments[2] == "diary" && segments[3] == "new" {
			return domain.AreaDiaryCreate
		}
		if len(segments) >= 4 && segments[2] == "activity" && segments[3] == "extract" {
			return domain.AreaActivityExtract
		}
		return domain.AreaProject
	case "activity":
		return domain.AreaActivity
	case "my":
		return domain.AreaProfile
	}
	return domain.AreaUnknown
}

// LeaveFunc вызывается, когда пользователь покидает область.
type LeaveFunc func(ctx context.Context, userID string, left domain.Area)

// Bus отслеживает текущую область каждого пользователя.
type Bus struct {
	mu        sync.Mutex
	current   map[string]domain.Area
	listeners map[domain.Area][]LeaveFunc
	logger    *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		current:   make(map[string]domain.Area),
		listeners: make(map[domain.Area][]LeaveFunc),
		logger:    logger.Named("NavigationBus"),
	}
}

// OnLeave подписывает fn на выход из области area.
func (b *Bus) OnLeave(area domain.Area, fn LeaveFunc) {
	b.mu.Lock()
	b.listeners[area] = append(b.listeners[area], fn)
	b.mu.Unlock()
}

// Navigate фиксирует переход пользователя и синхронно уведомляет подписчиков
// покинутой области. Возвращает новую область.
func (b *Bus) Navigate(ctx context.Context, userID, path string) domain.Area {
	next := Resolve(path)

	b.mu.Lock()
	prev, known := b.current[userID]
	b.current[userID] = next
	var fns []LeaveFunc
	if known && prev != next {
		fns = append(fns, b.listeners[prev]...)
	}
	b.mu.Unlock()

	if len(fns) > 0 {
		b.logger.Debug("User left area",
			zap.String("userID", userID), zap.String("from", string(prev)), zap.String("to", string(next)))
	}
	for _, fn := range fns {
		fn(ctx, userID, prev)
	}
	return next
}

// Current возвращает последнюю известную область пользователя.
func (b *Bus) Current(userID string) (domain.Area, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.current[userID]
	return a, ok
}

// Forget удаляет пользователя из трекинга (например, при отключении клиента).
func (b *Bus) Forget(userID string) {
	b.mu.Lock()
	delete(b.current, userID)
	b.mu.Unlock()
}
