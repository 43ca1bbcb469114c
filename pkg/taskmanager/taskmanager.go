package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTooManyTasks возвращается, когда достигнут лимит активных задач.
var ErrTooManyTasks = errors.New("превышено максимальное количество активных задач")

// ErrTaskNotFound возвращается для неизвестного ID задачи.
var ErrTaskNotFound = errors.New("задача не найдена")

// ErrStopped возвращается Submit после начала Shutdown.
var ErrStopped = errors.New("менеджер задач остановлен")

// Notifier отправляет обновления статуса задачи владельцу.
type Notifier interface {
	SendToUser(userID, messageType, topic string, payload interface{})
}

// TaskStatus представляет статус задачи
type TaskStatus string

// Возможные статусы задач
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) finished() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Spec описывает задачу при постановке.
type Spec struct {
	Kind      string    // generate | commit
	OwnerID   string    // пользователь, получающий уведомления
	SessionID uuid.UUID // сессия, к которой относится задача
}

// Task - снимок состояния асинхронной задачи.
type Task struct {
	ID        uuid.UUID   `json:"taskId"`
	OwnerID   string      `json:"-"`
	Kind      string      `json:"kind"`
	SessionID uuid.UUID   `json:"sessionId"`
	Status    TaskStatus  `json:"status"`
	Message   string      `json:"message,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type taskEntry struct {
	Task
	cancel context.CancelFunc
}

// TaskFunc представляет функцию, выполняемую в задаче
type TaskFunc func(ctx context.Context) (interface{}, error)

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int
}

// TaskManager управляет асинхронными задачами. Задачи выполняются в контексте,
// отвязанном от отмены вызывающего (HTTP запрос может завершиться раньше).
type TaskManager struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]*taskEntry
	maxTasks  int
	closing   chan struct{} // закрывается под mu, wg.Add тоже только под mu
	closeOnce sync.Once
	wg        sync.WaitGroup
	notifier  Notifier
	logger    *zap.Logger
}

// New создает новый экземпляр TaskManager
func New(cfg Config, logger *zap.Logger) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	return &TaskManager{
		tasks:    make(map[uuid.UUID]*taskEntry),
		maxTasks: maxTasks,
		closing:  make(chan struct{}),
		logger:   logger.Named("TaskManager"),
	}
}

// SetNotifier устанавливает нотификатор (например, WebSocket менеджер)
func (tm *TaskManager) SetNotifier(n Notifier) {
	tm.mu.Lock()
	tm.notifier = n
	tm.mu.Unlock()
}

// Submit создает и запускает новую задачу
func (tm *TaskManager) Submit(ctx context.Context, spec Spec, fn TaskFunc) (uuid.UUID, error) {
	tm.mu.Lock()
	select {
	case <-tm.closing:
		tm.mu.Unlock()
		return uuid.Nil, ErrStopped
	default:
	}

	active := 0
	for _, t := range tm.tasks {
		if !t.Status.finished() {
			active++
		}
	}
	if active >= tm.maxTasks {
		tm.mu.Unlock()
		return uuid.Nil, ErrTooManyTasks
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := time.Now()
	entry := &taskEntry{
		Task: Task{
			ID:        uuid.New(),
			OwnerID:   spec.OwnerID,
			Kind:      spec.Kind,
			SessionID: spec.SessionID,
			Status:    TaskStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
	}
	tm.tasks[entry.ID] = entry
	tm.wg.Add(1)
	tm.mu.Unlock()

	go func() {
		defer tm.wg.Done()
		defer cancel()
		tm.run(taskCtx, entry, fn)
	}()

	return entry.ID, nil
}

func (tm *TaskManager) run(ctx context.Context, entry *taskEntry, fn TaskFunc) {
	log := tm.logger.With(zap.Stringer("taskID", entry.ID), zap.String("kind", entry.Kind), zap.Stringer("sessionID", entry.SessionID))
	tm.update(entry, TaskStatusRunning, "", nil)

	result, err := fn(ctx)

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		log.Info("Контекст задачи был отменен")
		tm.update(entry, TaskStatusCancelled, "Задача отменена", nil)
	case err != nil:
		log.Warn("Задача завершилась с ошибкой", zap.Error(err))
		tm.update(entry, TaskStatusFailed, err.Error(), nil)
	default:
		log.Debug("Задача успешно выполнена")
		tm.update(entry, TaskStatusCompleted, "", result)
	}
}

// update обновляет статус задачи и отправляет уведомления
func (tm *TaskManager) update(entry *taskEntry, status TaskStatus, message string, result interface{}) {
	tm.mu.Lock()
	if entry.Status.finished() {
		// Отмененная пользователем задача не переходит в другой статус.
		tm.mu.Unlock()
		return
	}
	entry.Status = status
	entry.Message = message
	entry.Result = result
	entry.UpdatedAt = time.Now()

	snapshot := entry.Task
	notifier := tm.notifier
	owner := entry.OwnerID
	tm.mu.Unlock()

	if notifier != nil && owner != "" {
		notifier.SendToUser(owner, "task_update", "tasks", snapshot)
	}
}

// GetTask возвращает снимок задачи по ID
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	entry, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return entry.Task, nil
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, entry := range tm.tasks {
		if entry.Status.finished() && now.Sub(entry.UpdatedAt) > age {
			delete(tm.tasks, id)
			removed++
		}
	}
	return removed
}

// Shutdown перестает принимать задачи и ждет завершения запущенных.
// По истечении ctx незавершенные задачи отменяются.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.closeOnce.Do(func() {
		tm.mu.Lock()
		close(tm.closing)
		tm.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		n := tm.cancelUnfinished()
		tm.logger.Warn("Задачи не успели завершиться, отменяем", zap.Int("count", n))
		return errors.New("таймаут при ожидании завершения задач")
	}
}

func (tm *TaskManager) cancelUnfinished() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	n := 0
	for _, entry := range tm.tasks {
		if !entry.Status.finished() {
			entry.cancel()
			n++
		}
	}
	return n
}
