// Package queue implements the durable background job queue feeding the
// analysis workers. Jobs are small named payloads; the Redis Streams
// implementation gives at-least-once delivery with consumer groups, and an
// in-memory implementation backs the tests.
package queue

import (
	"context"
	"errors"
	"time"
)

// Task is one queued unit of work. Handlers are registered per task name;
// the tenant travels with the payload so workers can rebuild the request
// context.
type Task struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Tenant     string            `json:"tenant"`
	Args       map[string]string `json:"args,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`

	// Attempt starts at 1 and increments on each redelivery.
	Attempt int `json:"attempt"`
}

// Arg returns a payload argument, or the fallback when absent.
func (t *Task) Arg(key, fallback string) string {
	if v, ok := t.Args[key]; ok {
		return v
	}
	return fallback
}

// Handler processes one task. A returned error triggers redelivery until
// MaxAttempts, after which the task lands in the dead-letter stream.
type Handler func(ctx context.Context, task *Task) error

// Queue is the producer side.
type Queue interface {
	// Enqueue appends a task for asynchronous processing.
	Enqueue(ctx context.Context, task *Task) error
}

// Consumer is the worker side.
type Consumer interface {
	// Register binds a handler to a task name. Must be called before Start.
	Register(name string, handler Handler)

	// Start launches the consume loop. It returns once the loop is running;
	// cancellation of ctx drains and stops it.
	Start(ctx context.Context) error

	// Stop waits for in-flight tasks to finish.
	Stop()
}

var (
	// ErrUnknownTask is returned when no handler matches the task name.
	ErrUnknownTask = errors.New("queue: no handler registered for task")

	// ErrQueueClosed is returned when enqueueing on a stopped queue.
	ErrQueueClosed = errors.New("queue: closed")
)

// Task names understood by the workers.
const (
	TaskAnalyzeStudent   = "analyze_student"
	TaskAnalyzeClass     = "analyze_class"
	TaskEvaluatePlan     = "evaluate_plan"
	TaskTrainModel       = "train_model"
	TaskBackfillProfiles = "backfill_profiles"
)

// Common argument keys.
const (
	ArgStudentID    = "student_id"
	ArgClassID      = "class_id"
	ArgPlanID       = "plan_id"
	ArgAcademicYear = "academic_year"
	ArgForce        = "force"
)
