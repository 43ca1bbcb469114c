package mocks

import (
	"context"

	"devlog-server/internal/domain"

	"github.com/stretchr/testify/mock"
)

// Mock Persister
type Persister struct {
	mock.Mock
}

func (m *Persister) CreateDiary(ctx context.Context, projectID int64, sub domain.DiarySubmission) (int64, error) {
	args := m.Called(ctx, projectID, sub)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Persister) SaveActivities(ctx context.Context, projectID int64, sub domain.ActivitySubmission) error {
	args := m.Called(ctx, projectID, sub)
	return args.Error(0)
}

// Mock Invalidator
type Invalidator struct {
	mock.Mock
}

func (m *Invalidator) Invalidate(ctx context.Context, userID string, area domain.Area) error {
	args := m.Called(ctx, userID, area)
	return args.Error(0)
}
