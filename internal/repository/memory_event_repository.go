package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventRepository используется, когда база данных не настроена.
type MemoryEventRepository struct {
	mu     sync.Mutex
	nextID int64
	events map[uuid.UUID][]Event
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{events: make(map[uuid.UUID][]Event)}
}

func (r *MemoryEventRepository) Record(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.events[e.SessionID] = append(r.events[e.SessionID], e)
	return nil
}

func (r *MemoryEventRepository) ListBySession(_ context.Context, sessionID uuid.UUID) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events[sessionID]...), nil
}

// Forget удаляет события сессии (вызывается при очистке старых сессий).
func (r *MemoryEventRepository) Forget(sessionID uuid.UUID) {
	r.mu.Lock()
	delete(r.events, sessionID)
	r.mu.Unlock()
}
