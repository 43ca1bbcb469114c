package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devlog-server/internal/checkpoint"
	"devlog-server/internal/domain"
	"devlog-server/internal/metrics"
	"devlog-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActivityLister загружает уже сохраненные активности проекта.
type ActivityLister interface {
	ListActivities(ctx context.Context, projectID int64) ([]domain.Activity, error)
}

// Deps - внешние зависимости менеджера. Events, Checkpoints, Notifier и
// Activities могут быть nil.
type Deps struct {
	Generator   Generator
	Committer   Committer
	Activities  ActivityLister
	Events      repository.EventRepository
	Checkpoints Checkpointer
	Notifier    Notifier
}

// Config - параметры жизненного цикла сессий.
type Config struct {
	// RetainFor - сколько хранить завершенные и закрытые сессии для чтения.
	RetainFor time.Duration
}

// Manager владеет сессиями: у пользователя не больше одной активной сессии,
// новый сценарий закрывает предыдущий.
type Manager struct {
	env        *env
	activities ActivityLister
	retainFor  time.Duration
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	current  map[string]uuid.UUID
}

// NewManager создает менеджер сессий.
func NewManager(deps Deps, cfg Config, logger *zap.Logger) *Manager {
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = 30 * time.Minute
	}
	log := logger.Named("WorkflowManager")
	return &Manager{
		env: &env{
			generator:   deps.Generator,
			committer:   deps.Committer,
			events:      deps.Events,
			checkpoints: deps.Checkpoints,
			notifier:    deps.Notifier,
			logger:      logger.Named("Session"),
		},
		activities: deps.Activities,
		retainFor:  cfg.RetainFor,
		logger:     log,
		sessions:   make(map[uuid.UUID]*Session),
		current:    make(map[string]uuid.UUID),
	}
}

func checkOwner(userID string, projectID int64) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if projectID <= 0 {
		return fmt.Errorf("%w: project id must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// StartDiary открывает сессию дневника с пустыми ответами на вопросы.
func (m *Manager) StartDiary(ctx context.Context, userID string, projectID int64, questions []string) (*Session, error) {
	if err := checkOwner(userID, projectID); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: at least one question is required", domain.ErrInvalidInput)
	}
	qas := make([]domain.QA, len(questions))
	for i, q := range questions {
		qas[i] = domain.QA{Question: q}
	}
	return m.open(uuid.New(), userID, domain.FlowDiary, projectID, domain.DraftInput{QAs: qas}, nil, uuid.Nil), nil
}

// StartActivity открывает сессию извлечения активностей. Существующие активности
// проекта загружаются сразу, чтобы в проверке их можно было оставить или удалить.
func (m *Manager) StartActivity(ctx context.Context, userID string, projectID int64) (*Session, error) {
	if err := checkOwner(userID, projectID); err != nil {
		return nil, err
	}
	existing, err := m.loadExisting(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return m.open(uuid.New(), userID, domain.FlowActivity, projectID, domain.DraftInput{}, existing, uuid.Nil), nil
}

func (m *Manager) loadExisting(ctx context.Context, projectID int64) ([]domain.Activity, error) {
	if m.activities == nil {
		return nil, nil
	}
	existing, err := m.activities.ListActivities(ctx, projectID)
	if err != nil {
		m.logger.Error("Failed to load project activities", zap.Int64("projectID", projectID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}
	return existing, nil
}

func (m *Manager) open(id uuid.UUID, userID string, flow domain.Flow, projectID int64, draft domain.DraftInput, existing []domain.Activity, resumedFrom uuid.UUID) *Session {
	s := newSession(m.env, id, userID, flow, projectID, draft, existing)
	s.resumedFrom = resumedFrom

	m.mu.Lock()
	prev := m.sessions[m.current[userID]]
	m.sessions[id] = s
	m.current[userID] = id
	m.mu.Unlock()

	if prev != nil && prev != s {
		// Черновик предыдущей сессии не теряется, если включены чекпоинты.
		_ = prev.close(true)
		m.logger.Info("Previous session abandoned by a new flow",
			zap.Stringer("sessionID", prev.ID()), zap.String("userID", userID))
	}

	metrics.SessionOpened()
	m.logger.Info("Session started", zap.Stringer("sessionID", id), zap.String("userID", userID),
		zap.String("flow", string(flow)), zap.Int64("projectID", projectID))
	s.publish(s.Snapshot())
	return s
}

// Get возвращает сессию пользователя по id.
func (m *Manager) Get(userID string, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.UserID() != userID {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// Current возвращает активную сессию пользователя.
func (m *Manager) Current(userID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[m.current[userID]]
	m.mu.RUnlock()
	if !ok || s.isClosed() {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Abandon закрывает сессию по явному действию пользователя и удаляет ее чекпоинт.
// При несохраненных правках нужен confirm.
func (m *Manager) Abandon(userID string, id uuid.UUID, confirm bool) error {
	s, err := m.Get(userID, id)
	if err != nil {
		return err
	}
	if err := s.close(confirm); err != nil {
		return err
	}
	m.detach(userID, id)
	s.dropCheckpoint()
	return nil
}

func (m *Manager) detach(userID string, id uuid.UUID) {
	m.mu.Lock()
	if m.current[userID] == id {
		delete(m.current, userID)
	}
	m.mu.Unlock()
}

// OnLeave закрывает активную сессию, когда пользователь покидает область ее
// редактирования. Чекпоинт остается, сессию можно возобновить.
func (m *Manager) OnLeave(ctx context.Context, userID string, left domain.Area) {
	m.mu.RLock()
	s, ok := m.sessions[m.current[userID]]
	m.mu.RUnlock()
	if !ok || domain.CreationArea(s.Flow()) != left {
		return
	}
	if done, _ := s.finished(); done {
		return
	}
	_ = s.close(true)
	m.detach(userID, s.ID())
	m.logger.Info("Session abandoned by navigation", zap.Stringer("sessionID", s.ID()),
		zap.String("userID", userID), zap.String("area", string(left)))
}

// Resume восстанавливает черновик из чекпоинта в новую сессию drafting.
// У нее свой id: запросы, оставшиеся от закрытой сессии, ее не касаются.
// Чекпоинт переносится под новый id.
func (m *Manager) Resume(ctx context.Context, userID string, id uuid.UUID) (*Session, error) {
	if m.env.checkpoints == nil {
		return nil, domain.ErrCheckpointMissing
	}
	if s, err := m.Get(userID, id); err == nil && !s.isClosed() {
		return s, nil
	}
	if s, err := m.Current(userID); err == nil && s.resumedFrom == id {
		return s, nil
	}

	rec, err := m.env.checkpoints.Load(id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	var existing []domain.Activity
	if rec.Flow == domain.FlowActivity {
		if existing, err = m.loadExisting(ctx, rec.ProjectID); err != nil {
			return nil, err
		}
	}
	s := m.open(uuid.New(), userID, rec.Flow, rec.ProjectID, rec.Draft, existing, id)
	s.adoptCheckpoint(id)
	m.logger.Info("Session resumed from checkpoint", zap.Stringer("sessionID", s.ID()),
		zap.Stringer("resumedFrom", id), zap.String("userID", userID))
	return s, nil
}

// Checkpoints возвращает черновики пользователя, доступные для восстановления, новые первыми.
func (m *Manager) Checkpoints(ctx context.Context, userID string) []checkpoint.Record {
	if m.env.checkpoints == nil {
		return []checkpoint.Record{}
	}
	return m.env.checkpoints.ListByUser(ctx, userID)
}

// Events возвращает журнал попыток сессии.
func (m *Manager) Events(ctx context.Context, userID string, id uuid.UUID) ([]repository.Event, error) {
	if _, err := m.Get(userID, id); err != nil {
		return nil, err
	}
	if m.env.events == nil {
		return []repository.Event{}, nil
	}
	return m.env.events.ListBySession(ctx, id)
}

type forgetter interface {
	Forget(sessionID uuid.UUID)
}

// Sweep удаляет завершенные и закрытые сессии, не менявшиеся дольше RetainFor.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		done, updated := s.finished()
		if !done || now.Sub(updated) <= m.retainFor {
			continue
		}
		delete(m.sessions, id)
		if m.current[s.UserID()] == id {
			delete(m.current, s.UserID())
		}
		if f, ok := m.env.events.(forgetter); ok {
			f.Forget(id)
		}
		removed++
	}
	return removed
}

// Run периодически вызывает Sweep до отмены ctx.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.Canceled) {
				m.logger.Warn("Session janitor stopped", zap.Error(ctx.Err()))
			}
			return
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				m.logger.Debug("Expired sessions removed", zap.Int("count", n))
			}
		}
	}
}
