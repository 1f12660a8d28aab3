package jobs

import (
	"context"
	"errors"

	"github.com/Idriss091/peproscolaire-sub000/internal/application/effectiveness"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/intervention"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE PLANS JOB
// ══════════════════════════════════════════════════════════════════════════════

// EvaluatePlansJob measures the effectiveness of intervention plans that are
// due for an evaluation. Plans whose post-intervention window is still too
// short are skipped without error and picked up on a later run.
type EvaluatePlansJob struct {
	plans     intervention.Repository
	evaluator *effectiveness.Evaluator
	log       *logger.Logger
}

// NewEvaluatePlansJob creates the plan evaluation job.
func NewEvaluatePlansJob(plans intervention.Repository, evaluator *effectiveness.Evaluator, log *logger.Logger) *EvaluatePlansJob {
	return &EvaluatePlansJob{plans: plans, evaluator: evaluator, log: log}
}

// Name implements scheduler.Job.
func (j *EvaluatePlansJob) Name() string { return "evaluate_plans" }

// Description implements scheduler.Job.
func (j *EvaluatePlansJob) Description() string {
	return "Measure effectiveness of intervention plans due for evaluation"
}

// Run evaluates every due plan of the current academic year.
func (j *EvaluatePlansJob) Run(ctx context.Context) error {
	year := shared.AcademicYear(timeutil.AcademicYearOf(timeutil.Now()))

	plans, err := j.plans.ListEvaluable(ctx, year)
	if err != nil {
		return err
	}

	evaluated, deferred := 0, 0
	for _, plan := range plans {
		_, err := j.evaluator.Evaluate(ctx, plan.ID)
		switch {
		case err == nil:
			evaluated++
		case errors.Is(err, shared.ErrInsufficientData):
			deferred++
		case errors.Is(err, shared.ErrPlanNotActive):
			// status changed between listing and evaluation
		default:
			j.log.Warn("plan evaluation failed",
				logger.PlanID(plan.ID), logger.Err(err))
		}
	}

	j.log.Info("plan evaluation sweep complete",
		logger.AcademicYear(string(year)),
		logger.Int("due", len(plans)),
		logger.Int("evaluated", evaluated),
		logger.Int("deferred", deferred))
	return nil
}
