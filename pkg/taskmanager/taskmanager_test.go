package taskmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu    sync.Mutex
	users []string
}

func (n *recordingNotifier) SendToUser(userID, _, _ string, _ interface{}) {
	n.mu.Lock()
	n.users = append(n.users, userID)
	n.mu.Unlock()
}

func waitStatus(t *testing.T, tm *TaskManager, id uuid.UUID, want TaskStatus) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = tm.GetTask(id)
		return err == nil && task.Status == want
	}, time.Second, 5*time.Millisecond)
	return task
}

func TestSubmit_Completes(t *testing.T) {
	tm := New(Config{MaxTasks: 2}, zap.NewNop())
	n := &recordingNotifier{}
	tm.SetNotifier(n)

	id, err := tm.Submit(context.Background(), Spec{Kind: "generate", OwnerID: "u1"}, func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	task := waitStatus(t, tm, id, TaskStatusCompleted)
	assert.Equal(t, "ok", task.Result)
	assert.Equal(t, "generate", task.Kind)
	require.NoError(t, tm.Shutdown(context.Background()))

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Contains(t, n.users, "u1")
}

func TestSubmit_DetachedFromCallerCancel(t *testing.T) {
	tm := New(Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	id, err := tm.Submit(ctx, Spec{Kind: "commit"}, func(taskCtx context.Context) (interface{}, error) {
		<-release
		return nil, taskCtx.Err()
	})
	require.NoError(t, err)
	cancel()
	close(release)

	waitStatus(t, tm, id, TaskStatusCompleted)
}

func TestSubmit_FailureAndLimit(t *testing.T) {
	tm := New(Config{MaxTasks: 1}, zap.NewNop())
	block := make(chan struct{})

	id, err := tm.Submit(context.Background(), Spec{}, func(context.Context) (interface{}, error) {
		<-block
		return nil, errors.New("boom")
	})
	require.NoError(t, err)

	_, err = tm.Submit(context.Background(), Spec{}, func(context.Context) (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrTooManyTasks)

	close(block)
	task := waitStatus(t, tm, id, TaskStatusFailed)
	assert.Equal(t, "boom", task.Message)
}

func TestShutdown_RejectsNewTasks(t *testing.T) {
	tm := New(Config{}, zap.NewNop())
	require.NoError(t, tm.Shutdown(context.Background()))

	_, err := tm.Submit(context.Background(), Spec{Kind: "generate"}, func(context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestShutdown_ConcurrentSubmitIsWaitedOrRejected(t *testing.T) {
	for i := 0; i < 50; i++ {
		tm := New(Config{MaxTasks: 100}, zap.NewNop())
		var finished sync.WaitGroup
		var accepted []uuid.UUID
		var mu sync.Mutex

		for j := 0; j < 4; j++ {
			finished.Add(1)
			go func() {
				defer finished.Done()
				id, err := tm.Submit(context.Background(), Spec{}, func(context.Context) (interface{}, error) {
					time.Sleep(time.Millisecond)
					return nil, nil
				})
				if err != nil {
					assert.ErrorIs(t, err, ErrStopped)
					return
				}
				mu.Lock()
				accepted = append(accepted, id)
				mu.Unlock()
			}()
		}
		require.NoError(t, tm.Shutdown(context.Background()))
		finished.Wait()

		// принятые задачи Shutdown обязан дождаться
		mu.Lock()
		for _, id := range accepted {
			task, err := tm.GetTask(id)
			require.NoError(t, err)
			if !task.Status.finished() {
				t.Fatalf("task %s accepted but still %s after Shutdown", id, task.Status)
			}
		}
		mu.Unlock()
	}
}

func TestShutdown_TimeoutCancelsRunningAndCleanup(t *testing.T) {
	tm := New(Config{}, zap.NewNop())
	id, err := tm.Submit(context.Background(), Spec{}, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	waitStatus(t, tm, id, TaskStatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tm.Shutdown(ctx))
	waitStatus(t, tm, id, TaskStatusCancelled)

	assert.Equal(t, 1, tm.CleanupTasks(0))
	_, err = tm.GetTask(id)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
