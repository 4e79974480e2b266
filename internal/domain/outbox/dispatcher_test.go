package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository for dispatcher tests.
type memRepo struct {
	tasks map[string]*Task
}

func newMemRepo(tasks ...Task) *memRepo {
	m := &memRepo{tasks: make(map[string]*Task, len(tasks))}
	for i := range tasks {
		t := tasks[i]
		m.tasks[t.ID] = &t
	}
	return m
}

func (m *memRepo) Enqueue(_ context.Context, tasks ...Task) error {
	for i := range tasks {
		t := tasks[i]
		if m.byDedupKey(t.DedupKey) != nil {
			continue
		}
		m.tasks[t.ID] = &t
	}
	return nil
}

func (m *memRepo) byDedupKey(key string) *Task {
	for _, t := range m.tasks {
		if t.DedupKey == key {
			return t
		}
	}
	return nil
}

func (m *memRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]Task, error) {
	var due []Task
	for _, t := range m.tasks {
		if t.Status == StatusPending && !t.NextAttemptAt.After(now) {
			due = append(due, *t)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (m *memRepo) MarkDone(_ context.Context, id string) error {
	m.tasks[id].Status = StatusDone
	return nil
}

func (m *memRepo) Reschedule(_ context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	m.tasks[id].Attempts = attempts
	m.tasks[id].NextAttemptAt = nextAttemptAt
	return nil
}

func (m *memRepo) MarkFailed(_ context.Context, id string) error {
	m.tasks[id].Status = StatusFailed
	return nil
}

var dispatchNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestTask(t *testing.T, kind Kind) Task {
	t.Helper()
	task, err := NewTask("o1", kind, "payment-success", ClearCartPayload{UserID: "u1", CartVersion: 3})
	require.NoError(t, err)
	task.NextAttemptAt = dispatchNow
	return task
}

func newTestDispatcher(repo Repository, cfg DispatcherConfig) *Dispatcher {
	d := NewDispatcher(cfg, repo)
	d.now = func() time.Time { return dispatchNow }
	return d
}

func TestNewTask_DedupKey(t *testing.T) {
	task, err := NewTask("o1", KindClearCart, "payment-success", ClearCartPayload{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "o1:clear_cart:payment-success", task.DedupKey)
	assert.Equal(t, StatusPending, task.Status)
	assert.NotEmpty(t, task.ID)
}

func TestEnqueue_Deduplicates(t *testing.T) {
	repo := newMemRepo()
	first := newTestTask(t, KindClearCart)
	second := newTestTask(t, KindClearCart) // same order, kind and step

	require.NoError(t, repo.Enqueue(context.Background(), first))
	require.NoError(t, repo.Enqueue(context.Background(), second))

	assert.Len(t, repo.tasks, 1)
}

func TestDrain_Success(t *testing.T) {
	task := newTestTask(t, KindClearCart)
	repo := newMemRepo(task)

	var handled []string
	d := newTestDispatcher(repo, DispatcherConfig{})
	d.Handle(KindClearCart, func(_ context.Context, task Task) error {
		handled = append(handled, task.ID)
		return nil
	})

	require.NoError(t, d.Drain(context.Background()))

	assert.Equal(t, []string{task.ID}, handled)
	assert.Equal(t, StatusDone, repo.tasks[task.ID].Status)
}

func TestDrain_RetriesWithBackoff(t *testing.T) {
	task := newTestTask(t, KindClearCart)
	repo := newMemRepo(task)

	d := newTestDispatcher(repo, DispatcherConfig{BaseBackoff: 2 * time.Second, MaxAttempts: 8})
	d.Handle(KindClearCart, func(_ context.Context, _ Task) error {
		return errors.New("collaborator down")
	})

	require.NoError(t, d.Drain(context.Background()))

	got := repo.tasks[task.ID]
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, dispatchNow.Add(2*time.Second), got.NextAttemptAt)

	// Second failure doubles the backoff.
	got.NextAttemptAt = dispatchNow
	require.NoError(t, d.Drain(context.Background()))
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, dispatchNow.Add(4*time.Second), got.NextAttemptAt)
}

func TestDrain_ParksAfterMaxAttempts(t *testing.T) {
	task := newTestTask(t, KindClearCart)
	task.Attempts = 2
	repo := newMemRepo(task)

	d := newTestDispatcher(repo, DispatcherConfig{MaxAttempts: 3})
	d.Handle(KindClearCart, func(_ context.Context, _ Task) error {
		return errors.New("still down")
	})

	require.NoError(t, d.Drain(context.Background()))

	assert.Equal(t, StatusFailed, repo.tasks[task.ID].Status)
}

func TestDrain_MissingHandlerParks(t *testing.T) {
	task := newTestTask(t, KindAdjustInventory)
	repo := newMemRepo(task)

	d := newTestDispatcher(repo, DispatcherConfig{})

	require.NoError(t, d.Drain(context.Background()))
	assert.Equal(t, StatusFailed, repo.tasks[task.ID].Status)
}

func TestDrain_SkipsFutureTasks(t *testing.T) {
	task := newTestTask(t, KindClearCart)
	task.NextAttemptAt = dispatchNow.Add(time.Minute)
	repo := newMemRepo(task)

	var handled int
	d := newTestDispatcher(repo, DispatcherConfig{})
	d.Handle(KindClearCart, func(_ context.Context, _ Task) error {
		handled++
		return nil
	})

	require.NoError(t, d.Drain(context.Background()))
	assert.Zero(t, handled)
	assert.Equal(t, StatusPending, repo.tasks[task.ID].Status)
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := newMemRepo()
	d := NewDispatcher(DispatcherConfig{Interval: time.Millisecond}, repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on context cancellation")
	}
}
