// Package effectiveness evaluates intervention plans by comparing feature
// windows before and after the intervention start.
package effectiveness

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/intervention"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// Window parameters.
const (
	beforeWindowDays = 30
	adaptationDays   = 7  // grace period after the start before measuring
	minPostDays      = 14 // below this the evaluation reports insufficient data
)

// Summary classification thresholds on the auto score.
const (
	veryEffectiveFloor = 7.0
	moderateFloor      = 5.0
)

// Summary labels, user-facing.
const (
	SummaryVeryEffective = "Intervention très efficace"
	SummaryModerate      = "Intervention modérément efficace"
	SummaryLow           = "Intervention peu efficace"
)

// metricWeights drive the weighted mean of the auto score.
var metricWeights = map[string]float64{
	feature.KeyCurrentAverage:     3,
	feature.KeyAbsenceRate:        2,
	feature.KeyHomeworkCompletion: 2,
	feature.KeyBehaviorIncidents:  1.5,
	feature.KeyParticipationScore: 1,
}

// negativeIsBetter marks the metrics where a decrease is an improvement.
var negativeIsBetter = map[string]bool{
	feature.KeyAbsenceRate:       true,
	feature.KeyBehaviorIncidents: true,
	feature.KeyLateHomeworkRate:  true,
}

// Evaluation is the evaluator's output for one plan.
type Evaluation struct {
	PlanID       string
	Before       map[string]float64
	After        map[string]float64
	Improvements map[string]float64
	AutoScore    float64
	Summary      string
}

// Evaluator runs before/after comparisons for intervention plans.
type Evaluator struct {
	plans     intervention.Repository
	profiles  risk.ProfileRepository
	extractor *feature.Extractor
	events    shared.EventPublisher
	log       *logger.Logger
}

// NewEvaluator creates the effectiveness evaluator.
func NewEvaluator(plans intervention.Repository, profiles risk.ProfileRepository, extractor *feature.Extractor, events shared.EventPublisher, log *logger.Logger) *Evaluator {
	return &Evaluator{plans: plans, profiles: profiles, extractor: extractor, events: events, log: log}
}

// Evaluate compares the windows around the plan's start date and persists
// the resulting effectiveness score. A post window shorter than 14 days
// returns ErrInsufficientData without writing anything.
func (e *Evaluator) Evaluate(ctx context.Context, planID string) (*Evaluation, error) {
	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Evaluable() {
		return nil, shared.ErrPlanNotActive
	}

	profile, err := e.profiles.GetByID(ctx, plan.ProfileID)
	if err != nil {
		return nil, err
	}

	now := timeutil.Now()
	afterStart := plan.StartDate.AddDate(0, 0, adaptationDays)
	afterEnd := plan.EvaluationEnd(now)
	postDays := timeutil.DaysBetween(afterStart, afterEnd)
	if afterEnd.Before(afterStart) || postDays < minPostDays {
		return nil, shared.ErrInsufficientData
	}

	year := profile.AcademicYear
	student := profile.StudentID

	// before = [start-30, start]; after = [start+7, today].
	beforeVec, err := e.extractor.Extract(ctx, student, year, plan.StartDate, beforeWindowDays)
	if err != nil {
		return nil, err
	}
	afterVec, err := e.extractor.Extract(ctx, student, year, afterEnd, postDays)
	if err != nil {
		return nil, err
	}

	eval := compare(plan.ID, beforeVec, afterVec)

	plan.RecordEvaluation(eval.AutoScore, eval.Summary)
	if err := e.plans.RecordEvaluation(ctx, plan); err != nil {
		return nil, err
	}

	event := shared.NewInterventionEvaluatedEvent(plan.ID, plan.ProfileID, eval.AutoScore, eval.Summary)
	if err := e.events.Publish(event); err != nil {
		e.log.Error("publishing intervention.evaluated failed",
			logger.PlanID(plan.ID), logger.Err(err))
	}

	e.log.Info("intervention evaluated",
		logger.PlanID(plan.ID),
		logger.ProfileID(plan.ProfileID),
		logger.Float64("auto_score", eval.AutoScore),
		logger.String("summary", eval.Summary))
	return eval, nil
}

// compare builds the improvement vector and the weighted auto score.
func compare(planID string, before, after *feature.Vector) *Evaluation {
	eval := &Evaluation{
		PlanID:       planID,
		Before:       make(map[string]float64),
		After:        make(map[string]float64),
		Improvements: make(map[string]float64),
	}

	for key := range metricWeights {
		b := before.Get(key)
		a := after.Get(key)
		eval.Before[key] = b
		eval.After[key] = a
		if negativeIsBetter[key] {
			eval.Improvements[key] = b - a
		} else {
			eval.Improvements[key] = a - b
		}
	}
	// Track the remaining negative-is-better metric for reporting even
	// though it carries no weight in the score.
	for key := range negativeIsBetter {
		if _, done := eval.Improvements[key]; done {
			continue
		}
		b, a := before.Get(key), after.Get(key)
		eval.Before[key], eval.After[key] = b, a
		eval.Improvements[key] = b - a
	}

	var weighted, totalWeight float64
	for key, weight := range metricWeights {
		scaled := clamp(eval.Improvements[key]*2+5, 0, 10)
		weighted += scaled * weight
		totalWeight += weight
	}
	if totalWeight > 0 {
		eval.AutoScore = weighted / totalWeight
	}

	switch {
	case eval.AutoScore >= veryEffectiveFloor:
		eval.Summary = SummaryVeryEffective
	case eval.AutoScore >= moderateFloor:
		eval.Summary = SummaryModerate
	default:
		eval.Summary = SummaryLow
	}
	eval.Summary = fmt.Sprintf("%s (score %.1f/10)", eval.Summary, eval.AutoScore)
	return eval
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// EvaluationEndFor exposes the reference end date used for a plan, for
// reporting in the CLI.
func EvaluationEndFor(plan *intervention.Plan) time.Time {
	return plan.EvaluationEnd(timeutil.Now())
}
