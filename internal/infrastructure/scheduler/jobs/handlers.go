package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/application/analyze"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/queue"
	"github.com/Idriss091/peproscolaire-sub000/pkg/retry"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUEUE TASK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Per-task deadlines. A single student analysis reads six source tables and
// scores; a class fan-out and a training run are bounded separately.
const (
	analyzeStudentTimeout = 60 * time.Second
	analyzeClassTimeout   = 10 * time.Minute
	evaluatePlanTimeout   = 60 * time.Second
	trainModelTimeout     = 10 * time.Minute
	backfillTimeout       = 10 * time.Minute
)

// Handlers binds the queue task names to the application services. Register
// wires them onto a consumer before it starts.
type Handlers struct {
	analyzer *analyze.Service
	roster   analyze.ClassRoster
	plans    *EvaluatePlansJob
	trainer  *TrainModelJob
	backfill *BackfillProfilesJob
}

// NewHandlers creates the handler set.
func NewHandlers(
	analyzer *analyze.Service,
	roster analyze.ClassRoster,
	plans *EvaluatePlansJob,
	trainer *TrainModelJob,
	backfill *BackfillProfilesJob,
) *Handlers {
	return &Handlers{
		analyzer: analyzer,
		roster:   roster,
		plans:    plans,
		trainer:  trainer,
		backfill: backfill,
	}
}

// Register binds every handler onto the consumer.
func (h *Handlers) Register(c queue.Consumer) {
	c.Register(queue.TaskAnalyzeStudent, h.AnalyzeStudent)
	c.Register(queue.TaskAnalyzeClass, h.AnalyzeClass)
	c.Register(queue.TaskEvaluatePlan, h.EvaluatePlan)
	c.Register(queue.TaskTrainModel, h.TrainModel)
	c.Register(queue.TaskBackfillProfiles, h.BackfillProfiles)
}

// AnalyzeStudent runs one full student analysis.
func (h *Handlers) AnalyzeStudent(ctx context.Context, task *queue.Task) error {
	studentID := task.Arg(queue.ArgStudentID, "")
	if studentID == "" {
		return retry.Permanent(fmt.Errorf("task %s: missing %s", task.Name, queue.ArgStudentID))
	}
	year := taskYear(task)

	ctx, cancel := context.WithTimeout(ctx, analyzeStudentTimeout)
	defer cancel()
	_, err := h.analyzer.Student(ctx, studentID, year)
	return err
}

// AnalyzeClass fans a class analysis out over its roster.
func (h *Handlers) AnalyzeClass(ctx context.Context, task *queue.Task) error {
	classID := task.Arg(queue.ArgClassID, "")
	if classID == "" {
		return retry.Permanent(fmt.Errorf("task %s: missing %s", task.Name, queue.ArgClassID))
	}
	year := taskYear(task)

	ctx, cancel := context.WithTimeout(ctx, analyzeClassTimeout)
	defer cancel()
	_, err := h.analyzer.Class(ctx, h.roster, classID, year)
	return err
}

// EvaluatePlan evaluates one intervention plan.
func (h *Handlers) EvaluatePlan(ctx context.Context, task *queue.Task) error {
	planID := task.Arg(queue.ArgPlanID, "")
	if planID == "" {
		return retry.Permanent(fmt.Errorf("task %s: missing %s", task.Name, queue.ArgPlanID))
	}

	ctx, cancel := context.WithTimeout(ctx, evaluatePlanTimeout)
	defer cancel()
	_, err := h.plans.evaluator.Evaluate(ctx, planID)
	if err != nil && errors.Is(err, shared.ErrInsufficientData) {
		// too early, the scheduled sweep retries on a later day
		return nil
	}
	return err
}

// TrainModel retrains and publishes the model. force=true bypasses the
// threshold gate.
func (h *Handlers) TrainModel(ctx context.Context, task *queue.Task) error {
	force := task.Arg(queue.ArgForce, "false") == "true"

	ctx, cancel := context.WithTimeout(ctx, trainModelTimeout)
	defer cancel()
	return h.trainer.Train(ctx, force)
}

// BackfillProfiles creates missing profiles for enrolled students.
func (h *Handlers) BackfillProfiles(ctx context.Context, task *queue.Task) error {
	ctx, cancel := context.WithTimeout(ctx, backfillTimeout)
	defer cancel()
	return h.backfill.Run(ctx)
}

// taskYear reads the academic year argument, defaulting to the current year.
func taskYear(task *queue.Task) shared.AcademicYear {
	return shared.AcademicYear(task.Arg(queue.ArgAcademicYear, timeutil.AcademicYearOf(timeutil.Now())))
}
