package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"devlog-server/internal/checkpoint"
	"devlog-server/internal/commit"
	commitmocks "devlog-server/internal/commit/mocks"
	"devlog-server/internal/domain"
	"devlog-server/internal/gateway"
	gwmocks "devlog-server/internal/gateway/mocks"
	"devlog-server/internal/repository"
	"devlog-server/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	userID    = "user-1"
	projectID = int64(7)
)

type recorder struct {
	mu    sync.Mutex
	snaps []workflow.Snapshot
}

func (r *recorder) SendToUser(_, messageType, topic string, payload interface{}) {
	if messageType != workflow.MessageSessionUpdate || topic != workflow.TopicSessions {
		return
	}
	r.mu.Lock()
	r.snaps = append(r.snaps, payload.(workflow.Snapshot))
	r.mu.Unlock()
}

func (r *recorder) last() workflow.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

type activityLister struct {
	activities []domain.Activity
	err        error
}

func (l activityLister) ListActivities(context.Context, int64) ([]domain.Activity, error) {
	return l.activities, l.err
}

type fixture struct {
	transport *gwmocks.Transport
	keywords  *gwmocks.KeywordSource
	persister *commitmocks.Persister
	events    *repository.MemoryEventRepository
	notes     *recorder
	manager   *workflow.Manager
}

func newFixture(t *testing.T, configure ...func(*workflow.Deps)) *fixture {
	t.Helper()
	f := &fixture{
		transport: new(gwmocks.Transport),
		keywords:  new(gwmocks.KeywordSource),
		persister: new(commitmocks.Persister),
		events:    repository.NewMemoryEventRepository(),
		notes:     &recorder{},
	}
	gw := gateway.New(f.transport, f.keywords, gateway.Config{
		TitleTimeout:      50 * time.Millisecond,
		ExtractionTimeout: time.Second,
		KeywordTimeout:    time.Second,
	}, zap.NewNop())

	deps := workflow.Deps{
		Generator: gw,
		Committer: commit.NewCoordinator(f.persister, nil, nil, zap.NewNop()),
		Events:    f.events,
		Notifier:  f.notes,
	}
	for _, c := range configure {
		c(&deps)
	}
	f.manager = workflow.NewManager(deps, workflow.Config{RetainFor: time.Minute}, zap.NewNop())
	return f
}

func withCheckpoints(t *testing.T) func(*workflow.Deps) {
	store := checkpoint.NewStore(t.TempDir(), zap.NewNop())
	return func(d *workflow.Deps) { d.Checkpoints = store }
}

// startEligibleDiary открывает дневник с двумя ответами по 30 символов (итого 60).
func startEligibleDiary(t *testing.T, f *fixture) *workflow.Session {
	t.Helper()
	s, err := f.manager.StartDiary(context.Background(), userID, projectID, []string{"What did you do?", "What did you learn?"})
	require.NoError(t, err)
	_, err = s.SetAnswer(0, strings.Repeat("a", 30))
	require.NoError(t, err)
	snap, err := s.SetAnswer(1, strings.Repeat("b", 30))
	require.NoError(t, err)
	require.True(t, snap.Eligibility.Eligible)
	return s
}

func TestScenarioA_DiaryTitleEditedAndCommitted(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)

	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).Return("Refactor auth flow", nil).Once()

	attempt, err := s.Submit()
	require.NoError(t, err)
	assert.Equal(t, domain.StageGenerating, s.Snapshot().Stage)

	snap, err := attempt.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StageReviewing, snap.Stage)
	assert.Equal(t, "Refactor auth flow", snap.Review.Title)

	_, err = s.EditTitle("Refactor auth module")
	require.NoError(t, err)

	f.persister.On("CreateDiary", mock.Anything, projectID, mock.MatchedBy(func(sub domain.DiarySubmission) bool {
		return sub.Title == "Refactor auth module" && len(sub.Answers) == 2
	})).Return(int64(42), nil).Once()

	attempt, err = s.Commit()
	require.NoError(t, err)
	snap, err = attempt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StageDone, snap.Stage)
	require.NotNil(t, snap.Result)
	assert.Equal(t, int64(42), snap.Result.DiaryID)
	assert.Equal(t, "/project/7", snap.Result.Redirect)
	assert.Equal(t, domain.StageDone, f.notes.last().Stage)
	f.persister.AssertNumberOfCalls(t, "CreateDiary", 1)

	events, err := f.manager.Events(context.Background(), userID, s.ID())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, repository.OperationGenerate, events[0].Operation)
	assert.Equal(t, repository.OperationCommit, events[1].Operation)
	assert.Equal(t, repository.StatusSucceeded, events[1].Status)
}

func TestScenarioB_TimeoutThenRetryKeepsDraft(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)

	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded).Once()
	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).Return("Sprint recap", nil).Once()

	attempt, err := s.Submit()
	require.NoError(t, err)
	snap, err := attempt.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrGenerationTimeout)
	assert.Equal(t, domain.StageError, snap.Stage)
	assert.Equal(t, domain.StageGenerating, snap.ErrorOrigin)
	assert.NotEmpty(t, snap.Error)
	assert.Equal(t, strings.Repeat("a", 30), snap.Draft.QAs[0].Answer)

	attempt, err = s.Submit()
	require.NoError(t, err)
	snap, err = attempt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageReviewing, snap.Stage)
	assert.Empty(t, snap.Error)
	assert.Equal(t, uint64(2), snap.Attempt)
}

func TestScenarioC_ActivityKeywordsResolved(t *testing.T) {
	existing := []domain.Activity{{ID: 9, Title: "old"}, {ID: 3, Title: "older"}}
	f := newFixture(t, func(d *workflow.Deps) { d.Activities = activityLister{activities: existing} })

	s, err := f.manager.StartActivity(context.Background(), userID, projectID)
	require.NoError(t, err)
	_, err = s.SetText("We migrated the build to Bazel and paired on code review.")
	require.NoError(t, err)

	taxonomy := []domain.Keyword{{ID: 1, Name: "Go"}, {ID: 2, Name: "Bazel"}, {ID: 3, Name: "Teamwork", Type: domain.KeywordSoft}}
	f.keywords.On("FetchKeywords", mock.Anything).Return(taxonomy, nil).Once()
	candidates := []domain.ActivityCandidate{
		{Title: "Build", Keywords: []domain.Keyword{{ID: 2}, {ID: 1}}},
		{Title: "Review", Keywords: []domain.Keyword{{ID: 3}, {ID: 1}}},
		{Title: "Docs", Keywords: []domain.Keyword{{ID: 1}, {ID: 3}}},
	}
	f.transport.On("ExtractActivities", mock.Anything, mock.Anything, taxonomy).Return(candidates, nil).Once()

	attempt, err := s.Submit()
	require.NoError(t, err)
	snap, err := attempt.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Review.Candidates, 3)
	require.Len(t, snap.Review.Existing, 2)

	var got domain.ActivitySubmission
	f.persister.On("SaveActivities", mock.Anything, projectID, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(2).(domain.ActivitySubmission) }).
		Return(nil).Once()

	attempt, err = s.Commit()
	require.NoError(t, err)
	snap, err = attempt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, snap.Stage)

	assert.Equal(t, []int64{3, 9}, got.SavedActivities)
	require.Len(t, got.NewActivities, 3)
	assert.Equal(t, int64(2), got.NewActivities[0].Keyword)
	assert.Equal(t, int64(3), got.NewActivities[1].Keyword)
	assert.Equal(t, int64(1), got.NewActivities[2].Keyword)
}

func TestSubmit_NotEligibleNeverReachesNetwork(t *testing.T) {
	f := newFixture(t)
	s, err := f.manager.StartDiary(context.Background(), userID, projectID, []string{"q"})
	require.NoError(t, err)
	_, err = s.SetAnswer(0, strings.Repeat("x", 49))
	require.NoError(t, err)

	_, err = s.Submit()
	require.ErrorIs(t, err, domain.ErrNotEligible)
	assert.Equal(t, domain.StageDrafting, s.Snapshot().Stage)
	f.transport.AssertNotCalled(t, "GenerateTitle", mock.Anything, mock.Anything)
}

func TestSubmit_SecondSubmitRejectedWhileGenerating(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)

	_, err := s.Submit()
	require.NoError(t, err)
	_, err = s.Submit()
	assert.ErrorIs(t, err, domain.ErrGenerationInProgress)
}

func TestDraft_LockedOutsideDrafting(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)
	_, err := s.Submit()
	require.NoError(t, err)

	_, err = s.SetAnswer(0, "changed")
	assert.ErrorIs(t, err, domain.ErrDraftLocked)
	_, err = s.SetText("wrong flow")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStaleResponse_AbandonedSessionDropsResult(t *testing.T) {
	f := newFixture(t)
	old := startEligibleDiary(t, f)

	started := make(chan struct{})
	release := make(chan struct{})
	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("Late title", nil).Once()

	attempt, err := old.Submit()
	require.NoError(t, err)

	type outcome struct {
		snap workflow.Snapshot
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		snap, err := attempt.Run(context.Background())
		done <- outcome{snap, err}
	}()
	<-started

	require.NoError(t, f.manager.Abandon(userID, old.ID(), true))
	fresh, err := f.manager.StartDiary(context.Background(), userID, projectID, []string{"q"})
	require.NoError(t, err)

	close(release)
	res := <-done
	assert.ErrorIs(t, res.err, domain.ErrStaleResponse)
	assert.True(t, res.snap.Closed)
	assert.Nil(t, res.snap.Review)

	freshSnap := fresh.Snapshot()
	assert.Equal(t, domain.StageDrafting, freshSnap.Stage)
	assert.Nil(t, freshSnap.Review)

	events, err := f.events.ListBySession(context.Background(), old.ID())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, repository.StatusDropped, events[0].Status)
}

func TestStaleResponse_AbandonedSessionDropsCommit(t *testing.T) {
	f := newFixture(t)
	old := startEligibleDiary(t, f)
	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).Return("Title", nil).Once()

	attempt, err := old.Submit()
	require.NoError(t, err)
	_, err = attempt.Run(context.Background())
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	f.persister.On("CreateDiary", mock.Anything, projectID, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(int64(5), nil).Once()

	attempt, err = old.Commit()
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := attempt.Run(context.Background())
		done <- err
	}()
	<-started

	require.NoError(t, f.manager.Abandon(userID, old.ID(), true))
	fresh, err := f.manager.StartDiary(context.Background(), userID, projectID, []string{"q"})
	require.NoError(t, err)

	close(release)
	assert.ErrorIs(t, <-done, domain.ErrStaleResponse)

	oldSnap := old.Snapshot()
	assert.Equal(t, domain.StageCommitting, oldSnap.Stage)
	assert.Nil(t, oldSnap.Result)

	freshSnap := fresh.Snapshot()
	assert.Equal(t, domain.StageDrafting, freshSnap.Stage)
	assert.Nil(t, freshSnap.Review)
	assert.Nil(t, freshSnap.Result)

	events, err := f.events.ListBySession(context.Background(), old.ID())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, repository.OperationCommit, events[1].Operation)
	assert.Equal(t, repository.StatusDropped, events[1].Status)
	freshEvents, err := f.events.ListBySession(context.Background(), fresh.ID())
	require.NoError(t, err)
	assert.Empty(t, freshEvents)
}

func TestCommit_EmptyTitleRejectedWithoutNetworkCall(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)
	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).Return("Draft title", nil).Once()

	attempt, err := s.Submit()
	require.NoError(t, err)
	_, err = attempt.Run(context.Background())
	require.NoError(t, err)

	_, err = s.EditTitle("   ")
	require.NoError(t, err)

	_, err = s.Commit()
	require.ErrorIs(t, err, domain.ErrEmptyTitle)

	snap := s.Snapshot()
	assert.Equal(t, domain.StageReviewing, snap.Stage)
	assert.True(t, snap.Review.TitleEmpty)
	f.persister.AssertNotCalled(t, "CreateDiary", mock.Anything, mock.Anything, mock.Anything)
}

func TestCommit_FailureKeepsReviewAndAllowsDismissOrRetry(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)
	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).Return("Title", nil).Once()

	attempt, err := s.Submit()
	require.NoError(t, err)
	_, err = attempt.Run(context.Background())
	require.NoError(t, err)
	_, err = s.EditTitle("Edited title")
	require.NoError(t, err)

	f.persister.On("CreateDiary", mock.Anything, projectID, mock.Anything).Return(int64(0), errors.New("502 bad gateway")).Once()
	f.persister.On("CreateDiary", mock.Anything, projectID, mock.Anything).Return(int64(11), nil).Once()

	attempt, err = s.Commit()
	require.NoError(t, err)
	assert.True(t, s.Snapshot().Review.Locked)
	_, err = s.EditTitle("during commit")
	assert.ErrorIs(t, err, domain.ErrReviewLocked)

	snap, err := attempt.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrCommitTransport)
	assert.Equal(t, domain.StageError, snap.Stage)
	assert.Equal(t, domain.StageCommitting, snap.ErrorOrigin)
	assert.Equal(t, "Edited title", snap.Review.Title)
	assert.False(t, snap.Review.Locked)

	snap, err = s.Dismiss()
	require.NoError(t, err)
	assert.Equal(t, domain.StageReviewing, snap.Stage)

	attempt, err = s.Commit()
	require.NoError(t, err)
	snap, err = attempt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, snap.Stage)
}

func TestCancel_RequiresConfirmationForDirtyReview(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)
	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).Return("Title", nil).Once()

	attempt, err := s.Submit()
	require.NoError(t, err)
	_, err = attempt.Run(context.Background())
	require.NoError(t, err)
	_, err = s.EditTitle("Mine")
	require.NoError(t, err)

	_, err = s.Cancel(false)
	require.ErrorIs(t, err, domain.ErrConfirmationRequired)
	assert.Equal(t, domain.StageReviewing, s.Snapshot().Stage)

	snap, err := s.Cancel(true)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDrafting, snap.Stage)
	assert.Nil(t, snap.Review)
	assert.Equal(t, strings.Repeat("b", 30), snap.Draft.QAs[1].Answer)
}

func TestAbandon_RequiresConfirmationForUnsavedDraft(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)

	err := f.manager.Abandon(userID, s.ID(), false)
	require.ErrorIs(t, err, domain.ErrConfirmationRequired)

	require.NoError(t, f.manager.Abandon(userID, s.ID(), true))
	_, err = f.manager.Current(userID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = s.SetAnswer(0, "x")
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestStart_NewFlowAbandonsPrevious(t *testing.T) {
	f := newFixture(t)
	first := startEligibleDiary(t, f)

	second, err := f.manager.StartActivity(context.Background(), userID, projectID)
	require.NoError(t, err)

	assert.True(t, first.Snapshot().Closed)
	current, err := f.manager.Current(userID)
	require.NoError(t, err)
	assert.Equal(t, second.ID(), current.ID())
}

func TestStartActivity_BackendFailure(t *testing.T) {
	f := newFixture(t, func(d *workflow.Deps) { d.Activities = activityLister{err: errors.New("connection refused")} })
	_, err := f.manager.StartActivity(context.Background(), userID, projectID)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestGet_OtherUsersSessionIsNotFound(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)
	_, err := f.manager.Get("someone-else", s.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestOnLeave_ClosesSessionAndResumeRestoresDraft(t *testing.T) {
	f := newFixture(t, withCheckpoints(t))
	s := startEligibleDiary(t, f)

	// Уход из другой области не трогает сессию.
	f.manager.OnLeave(context.Background(), userID, domain.AreaActivity)
	assert.False(t, s.Snapshot().Closed)

	f.manager.OnLeave(context.Background(), userID, domain.AreaDiaryCreate)
	assert.True(t, s.Snapshot().Closed)

	records := f.manager.Checkpoints(context.Background(), userID)
	require.Len(t, records, 1)
	assert.Equal(t, s.ID(), records[0].SessionID)

	_, err := f.manager.Resume(context.Background(), "intruder", s.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	resumed, err := f.manager.Resume(context.Background(), userID, s.ID())
	require.NoError(t, err)
	snap := resumed.Snapshot()
	assert.NotEqual(t, s.ID(), snap.ID)
	require.NotNil(t, snap.ResumedFrom)
	assert.Equal(t, s.ID(), *snap.ResumedFrom)
	assert.Equal(t, domain.StageDrafting, snap.Stage)
	assert.Equal(t, strings.Repeat("a", 30), snap.Draft.QAs[0].Answer)
	assert.True(t, snap.Eligibility.Eligible)

	// Чекпоинт переехал под новый id.
	records = f.manager.Checkpoints(context.Background(), userID)
	require.Len(t, records, 1)
	assert.Equal(t, resumed.ID(), records[0].SessionID)

	// Повторный Resume по старому id возвращает ту же восстановленную сессию.
	again, err := f.manager.Resume(context.Background(), userID, s.ID())
	require.NoError(t, err)
	assert.Same(t, resumed, again)
}

func TestResume_NotBlockedByGenerationOfClosedSession(t *testing.T) {
	f := newFixture(t, withCheckpoints(t))
	old := startEligibleDiary(t, f)

	started := make(chan struct{})
	release := make(chan struct{})
	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("Late title", nil).Once()
	f.transport.On("GenerateTitle", mock.Anything, mock.Anything).Return("Fresh title", nil).Once()

	attempt, err := old.Submit()
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := attempt.Run(context.Background())
		done <- err
	}()
	<-started

	f.manager.OnLeave(context.Background(), userID, domain.AreaDiaryCreate)
	resumed, err := f.manager.Resume(context.Background(), userID, old.ID())
	require.NoError(t, err)

	next, err := resumed.Submit()
	require.NoError(t, err)
	snap, err := next.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StageReviewing, snap.Stage)
	assert.Equal(t, "Fresh title", snap.Review.Title)

	close(release)
	assert.ErrorIs(t, <-done, domain.ErrStaleResponse)
	assert.Equal(t, domain.StageReviewing, resumed.Snapshot().Stage)
}

func TestResume_DisabledCheckpoints(t *testing.T) {
	f := newFixture(t)
	s := startEligibleDiary(t, f)
	_, err := f.manager.Resume(context.Background(), userID, s.ID())
	assert.ErrorIs(t, err, domain.ErrCheckpointMissing)
}

func TestAbandon_DeletesCheckpoint(t *testing.T) {
	f := newFixture(t, withCheckpoints(t))
	s := startEligibleDiary(t, f)
	require.Len(t, f.manager.Checkpoints(context.Background(), userID), 1)

	require.NoError(t, f.manager.Abandon(userID, s.ID(), true))
	assert.Empty(t, f.manager.Checkpoints(context.Background(), userID))
}

func TestSweep_RemovesFinishedSessions(t *testing.T) {
	f := newFixture(t)
	closed := startEligibleDiary(t, f)
	require.NoError(t, f.manager.Abandon(userID, closed.ID(), true))

	open, err := f.manager.StartDiary(context.Background(), "user-2", projectID, []string{"q"})
	require.NoError(t, err)

	assert.Equal(t, 0, f.manager.Sweep(time.Now()))
	assert.Equal(t, 1, f.manager.Sweep(time.Now().Add(time.Hour)))

	_, err = f.manager.Get(userID, closed.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.manager.Get("user-2", open.ID())
	assert.NoError(t, err)
}

func TestStart_InvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.StartDiary(context.Background(), userID, projectID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.manager.StartActivity(context.Background(), "", projectID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.manager.StartDiary(context.Background(), userID, 0, []string{"q"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
