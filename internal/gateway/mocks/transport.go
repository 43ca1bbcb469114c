package mocks

import (
	"context"

	"devlog-server/internal/domain"

	"github.com/stretchr/testify/mock"
)

// Mock Transport
type Transport struct {
	mock.Mock
}

func (m *Transport) GenerateTitle(ctx context.Context, qas []domain.QA) (string, error) {
	args := m.Called(ctx, qas)
	return args.String(0), args.Error(1)
}

func (m *Transport) ExtractActivities(ctx context.Context, text string, keywords []domain.Keyword) ([]domain.ActivityCandidate, error) {
	args := m.Called(ctx, text, keywords)
	candidates, _ := args.Get(0).([]domain.ActivityCandidate)
	return candidates, args.Error(1)
}

// Mock KeywordSource
type KeywordSource struct {
	mock.Mock
}

func (m *KeywordSource) FetchKeywords(ctx context.Context) ([]domain.Keyword, error) {
	args := m.Called(ctx)
	keywords, _ := args.Get(0).([]domain.Keyword)
	return keywords, args.Error(1)
}
