package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

func TestMemoryQueue_DispatchesSynchronously(t *testing.T) {
	q := NewMemoryQueue()

	var seen *Task
	q.Register(TaskAnalyzeStudent, func(ctx context.Context, task *Task) error {
		seen = task
		return nil
	})

	task := &Task{
		ID:     "t1",
		Name:   TaskAnalyzeStudent,
		Tenant: "college-vh",
		Args:   map[string]string{ArgStudentID: "student-1"},
	}
	require.NoError(t, q.Enqueue(context.Background(), task))

	require.NotNil(t, seen)
	assert.Equal(t, "student-1", seen.Arg(ArgStudentID, ""))
	assert.Equal(t, 1, seen.Attempt)
	assert.False(t, seen.EnqueuedAt.IsZero())
	require.Len(t, q.Processed, 1)
	assert.Equal(t, "t1", q.Processed[0].ID)
}

func TestMemoryQueue_PropagatesTenant(t *testing.T) {
	q := NewMemoryQueue()

	var tenant shared.TenantID
	q.Register(TaskTrainModel, func(ctx context.Context, task *Task) error {
		id, ok := shared.TenantFromContext(ctx)
		if ok {
			tenant = id
		}
		return nil
	})

	require.NoError(t, q.Enqueue(context.Background(), &Task{Name: TaskTrainModel, Tenant: "college-vh"}))
	assert.Equal(t, shared.TenantID("college-vh"), tenant)
}

func TestMemoryQueue_UnknownTask(t *testing.T) {
	q := NewMemoryQueue()

	err := q.Enqueue(context.Background(), &Task{Name: "no_such_task"})
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Empty(t, q.Processed)
}

func TestMemoryQueue_HandlerErrorSurfaces(t *testing.T) {
	q := NewMemoryQueue()

	boom := errors.New("boom")
	q.Register(TaskEvaluatePlan, func(ctx context.Context, task *Task) error {
		return boom
	})

	err := q.Enqueue(context.Background(), &Task{Name: TaskEvaluatePlan})
	assert.ErrorIs(t, err, boom)
	// The failed task still shows up in the dispatch record.
	assert.Len(t, q.Processed, 1)
}

func TestMemoryQueue_ClosedRefusesWork(t *testing.T) {
	q := NewMemoryQueue()
	q.Register(TaskAnalyzeClass, func(ctx context.Context, task *Task) error { return nil })

	q.Stop()

	err := q.Enqueue(context.Background(), &Task{Name: TaskAnalyzeClass})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestTask_ArgFallback(t *testing.T) {
	task := &Task{Args: map[string]string{ArgClassID: "3eB"}}

	assert.Equal(t, "3eB", task.Arg(ArgClassID, "x"))
	assert.Equal(t, "2025-2026", task.Arg(ArgAcademicYear, "2025-2026"))
}
