package filters

import (
	"context"
	"sync"
)

// MemoryStore хранит критерии в памяти процесса.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Criteria
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Criteria)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Criteria, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[userID]
	if !ok {
		return Empty(), nil
	}
	c.Keywords = append([]int64{}, c.Keywords...)
	c.Projects = append([]int64{}, c.Projects...)
	return c, nil
}

func (s *MemoryStore) Put(_ context.Context, userID string, c Criteria) error {
	c = c.normalized()
	s.mu.Lock()
	s.data[userID] = Criteria{
		Word:     c.Word,
		Keywords: append([]int64{}, c.Keywords...),
		Projects: append([]int64{}, c.Projects...),
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.data, userID)
	s.mu.Unlock()
	return nil
}
