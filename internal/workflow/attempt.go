package workflow

import (
	"context"
	"fmt"
	"time"

	"devlog-server/internal/commit"
	"devlog-server/internal/domain"
	"devlog-server/internal/metrics"
	"devlog-server/internal/repository"
	"devlog-server/internal/review"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Attempt - одна приостановка сессии (генерация или сохранение).
// Создается под блокировкой сессии, выполняется без нее.
type Attempt struct {
	session   *Session
	epoch     uint64
	operation string

	request    *domain.GenerationRequest
	target     domain.CommitTarget
	diary      *domain.DiarySubmission
	activities *domain.ActivitySubmission
}

// Operation - repository.OperationGenerate или repository.OperationCommit.
func (a *Attempt) Operation() string { return a.operation }

// SessionID - id сессии-владельца.
func (a *Attempt) SessionID() uuid.UUID { return a.session.id }

// Run выполняет сетевой вызов и применяет ответ. Если сессия была закрыта или
// ушла на другую попытку, ответ отбрасывается и возвращается domain.ErrStaleResponse.
func (a *Attempt) Run(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	if a.operation == repository.OperationGenerate {
		result, err := a.session.env.generator.Generate(ctx, *a.request)
		return a.session.applyGeneration(ctx, a, result, err, time.Since(start))
	}

	var (
		res commit.Result
		err error
	)
	if a.diary != nil {
		res, err = a.session.env.committer.SubmitDiary(ctx, a.target, *a.diary)
	} else {
		res, err = a.session.env.committer.SubmitActivities(ctx, a.target, *a.activities)
	}
	return a.session.applyCommit(ctx, a, res, err, time.Since(start))
}

// Abort завершает попытку ошибкой без сетевого вызова (например, если задачу
// не удалось поставить в очередь). Сессия переходит в error.
func (a *Attempt) Abort(ctx context.Context, cause error) (Snapshot, error) {
	if a.operation == repository.OperationGenerate {
		return a.session.applyGeneration(ctx, a, domain.GenerationResult{},
			fmt.Errorf("%w: %w", domain.ErrGenerationTransport, cause), 0)
	}
	return a.session.applyCommit(ctx, a, commit.Result{},
		fmt.Errorf("%w: %w", domain.ErrCommitTransport, cause), 0)
}

func (s *Session) staleLocked(a *Attempt, expected domain.Stage) bool {
	return s.closed || a.epoch != s.attempt || s.state.Stage != expected
}

func (s *Session) applyGeneration(ctx context.Context, a *Attempt, result domain.GenerationResult, callErr error, took time.Duration) (Snapshot, error) {
	s.mu.Lock()
	if s.staleLocked(a, domain.StageGenerating) {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.dropStale(ctx, a, snap.Stage, took)
		return snap, domain.ErrStaleResponse
	}

	err := callErr
	var rv *review.Session
	if err == nil {
		rv, err = review.FromResult(result, s.existing)
	}
	ev := EventGenerated
	if err != nil {
		ev = EventFail
	}
	// Generating -> Reviewing | Error всегда разрешены таблицей.
	next, _ := s.state.Next(ev)
	s.state = next
	if err != nil {
		s.lastErr = err
	} else {
		s.review = rv
	}
	s.updatedAt = time.Now().UTC()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("Generation attempt failed", zap.Uint64("attempt", a.epoch), zap.Error(err))
	} else {
		s.log.Info("Generation result applied", zap.Uint64("attempt", a.epoch))
	}
	s.record(ctx, a, snap.Stage, err, took)
	s.publish(snap)
	return snap, err
}

func (s *Session) applyCommit(ctx context.Context, a *Attempt, res commit.Result, callErr error, took time.Duration) (Snapshot, error) {
	s.mu.Lock()
	if s.staleLocked(a, domain.StageCommitting) {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.dropStale(ctx, a, snap.Stage, took)
		return snap, domain.ErrStaleResponse
	}

	if callErr != nil {
		next, _ := s.state.Next(EventFail)
		s.state = next
		s.lastErr = callErr
		// Проверка сохраняется как есть, чтобы пользователь мог повторить.
		s.review.Unlock()
	} else {
		next, _ := s.state.Next(EventCommitted)
		s.state = next
		s.result = &res
		s.releaseLocked()
	}
	s.updatedAt = time.Now().UTC()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if callErr != nil {
		s.log.Warn("Commit attempt failed", zap.Uint64("attempt", a.epoch), zap.Error(callErr))
	} else {
		s.log.Info("Session committed", zap.String("redirect", res.Redirect))
		s.dropCheckpoint()
	}
	s.record(ctx, a, snap.Stage, callErr, took)
	s.publish(snap)
	return snap, callErr
}

func (s *Session) dropStale(ctx context.Context, a *Attempt, stage domain.Stage, took time.Duration) {
	metrics.IncStaleResponse(a.operation)
	s.log.Debug("Dropping stale response", zap.String("operation", a.operation), zap.Uint64("attempt", a.epoch))
	s.recordStatus(ctx, a, repository.StatusDropped, stage, nil, took)
}

func (s *Session) record(ctx context.Context, a *Attempt, stage domain.Stage, err error, took time.Duration) {
	status := repository.StatusSucceeded
	if err != nil {
		status = repository.StatusFailed
	}
	s.recordStatus(ctx, a, status, stage, err, took)
}

func (s *Session) recordStatus(ctx context.Context, a *Attempt, status string, stage domain.Stage, err error, took time.Duration) {
	if s.env.events == nil {
		return
	}
	e := repository.Event{
		SessionID:  s.id,
		UserID:     s.userID,
		Flow:       string(s.flow),
		Operation:  a.operation,
		Status:     status,
		Stage:      string(stage),
		DurationMs: took.Milliseconds(),
	}
	if err != nil {
		msg := err.Error()
		e.Error = &msg
	}
	if recErr := s.env.events.Record(ctx, e); recErr != nil {
		s.log.Warn("Failed to record workflow event", zap.String("operation", a.operation), zap.Error(recErr))
	}
}
