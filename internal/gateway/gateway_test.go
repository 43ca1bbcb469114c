package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"devlog-server/internal/domain"
	"devlog-server/internal/gateway"
	"devlog-server/internal/gateway/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGateway(tr *mocks.Transport, kw *mocks.KeywordSource, cfg gateway.Config) *gateway.Gateway {
	return gateway.New(tr, kw, cfg, zap.NewNop())
}

func titleRequest(id uuid.UUID) domain.GenerationRequest {
	draft := domain.DraftInput{QAs: []domain.QA{{Question: "q", Answer: "a"}}}
	return domain.NewGenerationRequest(id, domain.ResultTitle, draft)
}

func TestGenerate_TitleTrimmed(t *testing.T) {
	tr := new(mocks.Transport)
	tr.On("GenerateTitle", mock.Anything, []domain.QA{{Question: "q", Answer: "a"}}).Return("  Sprint 3 \n", nil)

	gw := newGateway(tr, new(mocks.KeywordSource), gateway.Config{})
	res, err := gw.Generate(context.Background(), titleRequest(uuid.New()))

	require.NoError(t, err)
	assert.Equal(t, domain.ResultTitle, res.Kind)
	assert.Equal(t, "Sprint 3", res.Title.Title)
	tr.AssertExpectations(t)
}

func TestGenerate_ExtractionFetchesKeywordsAndDedups(t *testing.T) {
	keywords := []domain.Keyword{{ID: 1, Name: "Go"}, {ID: 2, Name: "Teamwork", Type: domain.KeywordSoft}}
	kw := new(mocks.KeywordSource)
	kw.On("FetchKeywords", mock.Anything).Return(keywords, nil).Once()

	tr := new(mocks.Transport)
	tr.On("ExtractActivities", mock.Anything, "retro text", keywords).Return([]domain.ActivityCandidate{
		{Title: "A", Keywords: []domain.Keyword{{ID: 1}, {ID: 2}, {ID: 1}}},
	}, nil)

	gw := newGateway(tr, kw, gateway.Config{})
	req := domain.NewGenerationRequest(uuid.New(), domain.ResultActivities, domain.DraftInput{Text: "retro text"})
	res, err := gw.Generate(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, res.Activities.Candidates, 1)
	assert.Equal(t, []domain.Keyword{{ID: 1}, {ID: 2}}, res.Activities.Candidates[0].Keywords)
	kw.AssertExpectations(t)
}

func TestGenerate_KeywordFailureIsTransportError(t *testing.T) {
	kw := new(mocks.KeywordSource)
	kw.On("FetchKeywords", mock.Anything).Return(nil, errors.New("connection refused"))
	tr := new(mocks.Transport)

	gw := newGateway(tr, kw, gateway.Config{})
	req := domain.NewGenerationRequest(uuid.New(), domain.ResultActivities, domain.DraftInput{Text: "x"})
	_, err := gw.Generate(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrGenerationTransport)
	tr.AssertNotCalled(t, "ExtractActivities", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_TimeoutNormalized(t *testing.T) {
	tr := new(mocks.Transport)
	tr.On("GenerateTitle", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	gw := newGateway(tr, new(mocks.KeywordSource), gateway.Config{TitleTimeout: 20 * time.Millisecond})
	_, err := gw.Generate(context.Background(), titleRequest(uuid.New()))

	assert.ErrorIs(t, err, domain.ErrGenerationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerate_SingleFlightPerSession(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	tr := new(mocks.Transport)
	tr.On("GenerateTitle", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("first", nil).Once()

	gw := newGateway(tr, new(mocks.KeywordSource), gateway.Config{})
	id := uuid.New()

	done := make(chan error, 1)
	go func() {
		_, err := gw.Generate(context.Background(), titleRequest(id))
		done <- err
	}()
	<-started

	assert.True(t, gw.InFlight(id))
	_, err := gw.Generate(context.Background(), titleRequest(id))
	assert.ErrorIs(t, err, domain.ErrGenerationInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, gw.InFlight(id))
	tr.AssertNumberOfCalls(t, "GenerateTitle", 1)
}

func TestGenerate_DifferentSessionsRunIndependently(t *testing.T) {
	tr := new(mocks.Transport)
	tr.On("GenerateTitle", mock.Anything, mock.Anything).Return("t", nil)
	gw := newGateway(tr, new(mocks.KeywordSource), gateway.Config{})

	_, err1 := gw.Generate(context.Background(), titleRequest(uuid.New()))
	_, err2 := gw.Generate(context.Background(), titleRequest(uuid.New()))
	assert.NoError(t, err1)
	assert.NoError(t, err2)
}
