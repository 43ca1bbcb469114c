package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"devlog-server/internal/checkpoint"
	"devlog-server/internal/commit"
	"devlog-server/internal/domain"
	"devlog-server/internal/metrics"
	"devlog-server/internal/repository"
	"devlog-server/internal/review"
	"devlog-server/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Generator - шлюз генерации (gateway.Gateway).
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error)
}

// Committer - координатор сохранения (commit.Coordinator).
// Prepare* вызываются под блокировкой сессии, Submit* - вне ее.
type Committer interface {
	PrepareDiary(draft domain.DraftInput, rv *review.Session) (domain.DiarySubmission, error)
	PrepareActivities(rv *review.Session) (domain.ActivitySubmission, error)
	SubmitDiary(ctx context.Context, target domain.CommitTarget, sub domain.DiarySubmission) (commit.Result, error)
	SubmitActivities(ctx context.Context, target domain.CommitTarget, sub domain.ActivitySubmission) (commit.Result, error)
}

// Checkpointer - хранилище чекпоинтов черновиков (checkpoint.Store).
type Checkpointer interface {
	Save(rec checkpoint.Record) error
	Load(sessionID uuid.UUID) (checkpoint.Record, error)
	Delete(sessionID uuid.UUID) error
	ListByUser(ctx context.Context, userID string) []checkpoint.Record
}

// Notifier доставляет снимки сессии клиенту (WebSocket).
type Notifier interface {
	SendToUser(userID, messageType, topic string, payload interface{})
}

const (
	MessageSessionUpdate = "session_update"
	TopicSessions        = "sessions"
)

// env - общие зависимости всех сессий менеджера.
type env struct {
	generator   Generator
	committer   Committer
	events      repository.EventRepository
	checkpoints Checkpointer
	notifier    Notifier
	logger      *zap.Logger
}

// Snapshot - полное состояние сессии для клиента. UI отображает только его.
type Snapshot struct {
	ID          uuid.UUID         `json:"id"`
	UserID      string            `json:"userId"`
	Flow        domain.Flow       `json:"flow"`
	ProjectID   int64             `json:"projectId"`
	Stage       domain.Stage      `json:"stage"`
	ErrorOrigin domain.Stage      `json:"errorOrigin,omitempty"`
	Error       string            `json:"error,omitempty"`
	Draft       domain.DraftInput `json:"draft"`
	Eligibility validation.Result `json:"eligibility"`
	Review      *review.Snapshot  `json:"review,omitempty"`
	Result      *commit.Result    `json:"result,omitempty"`
	Attempt     uint64            `json:"attempt"`
	Closed      bool              `json:"closed"`
	ResumedFrom *uuid.UUID        `json:"resumedFrom,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Session - единственный экземпляр сценария создания пользователя.
// Все поля защищены mu; сетевые вызовы выполняются вне блокировки (см. Attempt).
type Session struct {
	mu  sync.Mutex
	env *env
	log *zap.Logger

	id        uuid.UUID
	userID    string
	flow      domain.Flow
	projectID int64
	// resumedFrom - id закрытой сессии, из чекпоинта которой восстановлена эта.
	resumedFrom uuid.UUID

	state    State
	draft    domain.DraftInput
	existing []domain.Activity
	review   *review.Session
	lastErr  error
	result   *commit.Result

	// attempt растет при каждом запуске генерации или сохранения;
	// ответ применяется, только если его эпоха совпадает с текущей.
	attempt  uint64
	closed   bool
	released bool

	createdAt time.Time
	updatedAt time.Time
}

func newSession(e *env, id uuid.UUID, userID string, flow domain.Flow, projectID int64, draft domain.DraftInput, existing []domain.Activity) *Session {
	now := time.Now().UTC()
	return &Session{
		env: e,
		log: e.logger.With(zap.Stringer("sessionID", id), zap.String("userID", userID),
			zap.String("flow", string(flow))),
		id:        id,
		userID:    userID,
		flow:      flow,
		projectID: projectID,
		state:     Initial(),
		draft:     draft.Clone(),
		existing:  append([]domain.Activity(nil), existing...),
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() uuid.UUID     { return s.id }
func (s *Session) UserID() string    { return s.userID }
func (s *Session) Flow() domain.Flow { return s.flow }
func (s *Session) ProjectID() int64  { return s.projectID }

// Snapshot возвращает копию текущего состояния.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:          s.id,
		UserID:      s.userID,
		Flow:        s.flow,
		ProjectID:   s.projectID,
		Stage:       s.state.Stage,
		ErrorOrigin: s.state.Origin,
		Draft:       s.draft.Clone(),
		Eligibility: validation.For(s.flow, s.draft),
		Attempt:     s.attempt,
		Closed:      s.closed,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
	if s.resumedFrom != uuid.Nil {
		from := s.resumedFrom
		snap.ResumedFrom = &from
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	if s.review != nil {
		rv := s.review.Snapshot()
		snap.Review = &rv
	}
	if s.result != nil {
		res := *s.result
		snap.Result = &res
	}
	return snap
}

// mutate выполняет fn под блокировкой и при успехе рассылает новый снимок.
func (s *Session) mutate(fn func() error) (Snapshot, error) {
	s.mu.Lock()
	err := fn()
	var snap Snapshot
	if err == nil {
		s.updatedAt = time.Now().UTC()
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if err == nil {
		s.publish(snap)
	}
	return snap, err
}

func (s *Session) guardOpen() error {
	if s.closed {
		return domain.ErrSessionClosed
	}
	return nil
}

// --- Черновик ---

// SetAnswer задает ответ на вопрос дневника.
func (s *Session) SetAnswer(index int, answer string) (Snapshot, error) {
	return s.editDraft(domain.FlowDiary, func(d *domain.DraftInput) error {
		if index < 0 || index >= len(d.QAs) {
			return fmt.Errorf("%w: answer index %d out of range", domain.ErrInvalidInput, index)
		}
		d.QAs[index].Answer = answer
		return nil
	})
}

// SetText задает текст ретроспективы.
func (s *Session) SetText(text string) (Snapshot, error) {
	return s.editDraft(domain.FlowActivity, func(d *domain.DraftInput) error {
		d.Text = text
		return nil
	})
}

// AddImage прикрепляет изображение к черновику. Повторное добавление игнорируется.
func (s *Session) AddImage(url string) (Snapshot, error) {
	return s.editDraft("", func(d *domain.DraftInput) error {
		if url == "" {
			return fmt.Errorf("%w: image url is empty", domain.ErrInvalidInput)
		}
		for _, img := range d.Images {
			if img.URL == url {
				return nil
			}
		}
		d.Images = append(d.Images, domain.MediaRef{URL: url})
		return nil
	})
}

// RemoveImage открепляет изображение.
func (s *Session) RemoveImage(url string) (Snapshot, error) {
	return s.editDraft("", func(d *domain.DraftInput) error {
		for i, img := range d.Images {
			if img.URL == url {
				d.Images = append(d.Images[:i:i], d.Images[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: image %q is not attached", domain.ErrInvalidInput, url)
	})
}

// editDraft применяет правку к черновику. only ограничивает сценарий, "" - любой.
func (s *Session) editDraft(only domain.Flow, fn func(*domain.DraftInput) error) (Snapshot, error) {
	var rec *checkpoint.Record
	snap, err := s.mutate(func() error {
		if err := s.guardOpen(); err != nil {
			return err
		}
		if only != "" && s.flow != only {
			return fmt.Errorf("%w: not supported by %s flow", domain.ErrInvalidInput, s.flow)
		}
		if s.state.Stage != domain.StageDrafting {
			return domain.ErrDraftLocked
		}
		if err := fn(&s.draft); err != nil {
			return err
		}
		rec = s.checkpointLocked()
		return nil
	})
	if err == nil {
		s.saveCheckpoint(rec)
	}
	return snap, err
}

func (s *Session) checkpointLocked() *checkpoint.Record {
	if s.env.checkpoints == nil {
		return nil
	}
	return &checkpoint.Record{
		SessionID: s.id,
		UserID:    s.userID,
		Flow:      s.flow,
		ProjectID: s.projectID,
		Draft:     s.draft.Clone(),
	}
}

func (s *Session) saveCheckpoint(rec *checkpoint.Record) {
	if rec == nil {
		return
	}
	if err := s.env.checkpoints.Save(*rec); err != nil {
		s.log.Warn("Failed to save draft checkpoint", zap.Error(err))
	}
}

func (s *Session) dropCheckpoint() {
	s.deleteCheckpoint(s.id)
}

func (s *Session) deleteCheckpoint(id uuid.UUID) {
	if s.env.checkpoints == nil {
		return
	}
	if err := s.env.checkpoints.Delete(id); err != nil {
		s.log.Warn("Failed to delete draft checkpoint", zap.Stringer("checkpointID", id), zap.Error(err))
	}
}

// adoptCheckpoint переносит чекпоинт восстановленного черновика под id этой сессии.
func (s *Session) adoptCheckpoint(from uuid.UUID) {
	s.mu.Lock()
	rec := s.checkpointLocked()
	s.mu.Unlock()
	s.saveCheckpoint(rec)
	s.deleteCheckpoint(from)
}

// --- Проверка ---

func (s *Session) EditTitle(text string) (Snapshot, error) {
	return s.editReview(func(rv *review.Session) error { return rv.EditTitle(text) })
}

func (s *Session) ToggleKeep(activityID int64) (Snapshot, error) {
	return s.editReview(func(rv *review.Session) error { return rv.ToggleKeep(activityID) })
}

func (s *Session) EditCandidate(index int, patch review.CandidatePatch) (Snapshot, error) {
	return s.editReview(func(rv *review.Session) error { return rv.EditCandidate(index, patch) })
}

func (s *Session) ToggleCandidate(index int) (Snapshot, error) {
	return s.editReview(func(rv *review.Session) error { return rv.ToggleCandidate(index) })
}

func (s *Session) SelectKeyword(index int, keywordID int64) (Snapshot, error) {
	return s.editReview(func(rv *review.Session) error { return rv.SelectKeyword(index, keywordID) })
}

// editReview допускает правки только в reviewing; в committing проверка
// заблокирована и сама вернет domain.ErrReviewLocked.
func (s *Session) editReview(fn func(*review.Session) error) (Snapshot, error) {
	return s.mutate(func() error {
		if err := s.guardOpen(); err != nil {
			return err
		}
		if s.review == nil || (s.state.Stage != domain.StageReviewing && s.state.Stage != domain.StageCommitting) {
			return fmt.Errorf("%w: review is not open in stage %s", domain.ErrInvalidTransition, s.state.Stage)
		}
		return fn(s.review)
	})
}

// --- Переходы ---

// Submit запускает генерацию (или повторяет ее из error). Гейт - допустимость
// черновика. Возвращенную попытку нужно выполнить через Attempt.Run.
func (s *Session) Submit() (*Attempt, error) {
	var a *Attempt
	_, err := s.mutate(func() error {
		if err := s.guardOpen(); err != nil {
			return err
		}
		ev := EventSubmit
		switch {
		case s.state.Stage == domain.StageGenerating:
			return domain.ErrGenerationInProgress
		case s.state.Stage == domain.StageError && s.state.Origin == domain.StageGenerating:
			ev = EventRetry
		}
		next, err := s.state.Next(ev)
		if err != nil {
			return err
		}
		if res := validation.For(s.flow, s.draft); !res.Eligible {
			return fmt.Errorf("%w: %s", domain.ErrNotEligible, res.Reason)
		}

		s.attempt++
		s.state = next
		s.lastErr = nil
		req := domain.NewGenerationRequest(s.id, s.flow.ResultKind(), s.draft)
		a = &Attempt{session: s, epoch: s.attempt, operation: repository.OperationGenerate, request: &req}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Generation submitted", zap.Uint64("attempt", a.epoch))
	return a, nil
}

// Commit запускает сохранение (или повторяет его из error). Гейт - готовность
// проверки; payload собирается сразу, пока проверка совпадает с тем, что видит пользователь.
func (s *Session) Commit() (*Attempt, error) {
	var a *Attempt
	_, err := s.mutate(func() error {
		if err := s.guardOpen(); err != nil {
			return err
		}
		ev := EventCommit
		if s.state.Stage == domain.StageError && s.state.Origin == domain.StageCommitting {
			ev = EventRetry
		}
		next, err := s.state.Next(ev)
		if err != nil {
			return err
		}
		if s.review == nil {
			return fmt.Errorf("%w: nothing to commit", domain.ErrInvalidTransition)
		}

		pending := &Attempt{
			session:   s,
			operation: repository.OperationCommit,
			target:    domain.CommitTarget{UserID: s.userID, ProjectID: s.projectID},
		}
		switch s.flow {
		case domain.FlowDiary:
			sub, err := s.env.committer.PrepareDiary(s.draft, s.review)
			if err != nil {
				return err
			}
			pending.diary = &sub
		case domain.FlowActivity:
			// Нажатие "сохранить" и есть подтверждение проверки.
			s.review.Confirm()
			sub, err := s.env.committer.PrepareActivities(s.review)
			if err != nil {
				return err
			}
			pending.activities = &sub
		}

		s.attempt++
		pending.epoch = s.attempt
		s.state = next
		s.lastErr = nil
		s.review.Lock()
		a = pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Commit submitted", zap.Uint64("attempt", a.epoch))
	return a, nil
}

// Dismiss закрывает ошибку и возвращает сессию на предыдущий этап.
func (s *Session) Dismiss() (Snapshot, error) {
	return s.mutate(func() error {
		if err := s.guardOpen(); err != nil {
			return err
		}
		next, err := s.state.Next(EventDismiss)
		if err != nil {
			return err
		}
		s.state = next
		s.lastErr = nil
		if s.review != nil {
			s.review.Unlock()
		}
		return nil
	})
}

// Cancel отбрасывает проверку и возвращает сессию в drafting.
// Если в проверке есть несохраненные правки, нужен confirm.
func (s *Session) Cancel(confirm bool) (Snapshot, error) {
	return s.mutate(func() error {
		if err := s.guardOpen(); err != nil {
			return err
		}
		next, err := s.state.Next(EventCancel)
		if err != nil {
			return err
		}
		if !confirm && s.review != nil && s.review.Dirty() {
			return domain.ErrConfirmationRequired
		}
		s.state = next
		s.review = nil
		s.lastErr = nil
		return nil
	})
}

// close закрывает сессию. Без force при несохраненных правках нужен confirm.
func (s *Session) close(confirm bool) error {
	_, err := s.mutate(func() error {
		if s.closed {
			return nil
		}
		if !confirm && s.unsavedLocked() {
			return domain.ErrConfirmationRequired
		}
		s.closed = true
		s.releaseLocked()
		return nil
	})
	if err == nil {
		s.log.Info("Session closed")
	}
	return err
}

func (s *Session) unsavedLocked() bool {
	if s.state.Terminal() {
		return false
	}
	return !s.draft.IsEmpty() || (s.review != nil && s.review.Dirty())
}

// releaseLocked уменьшает счетчик активных сессий ровно один раз.
func (s *Session) releaseLocked() {
	if !s.released {
		s.released = true
		metrics.SessionClosed()
	}
}

// finished - сессия закрыта или завершена, и с какого момента.
func (s *Session) finished() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.state.Terminal(), s.updatedAt
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) publish(snap Snapshot) {
	if s.env.notifier == nil {
		return
	}
	s.env.notifier.SendToUser(s.userID, MessageSessionUpdate, TopicSessions, snap)
}
