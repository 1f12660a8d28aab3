// Package analyze orchestrates the full analysis pass for one student:
// feature extraction, scoring, model prediction, configured-indicator
// evaluation, the profile write and alert evaluation — everything that must
// happen under the per-profile analysis lock.
package analyze

import (
	"context"
	"errors"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/alerting"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/expr"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/internal/ml"
	"github.com/Idriss091/peproscolaire-sub000/internal/scoring"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// analysisVersion tags profiles with the pipeline revision that produced
// them. Bumped when scoring semantics change.
const analysisVersion = 2

// Report is the outcome of one analysis pass.
type Report struct {
	Profile      *risk.Profile
	AlertsRaised int
	Degraded     bool
	ModelVersion string
}

// Service runs student analyses.
type Service struct {
	profiles   risk.ProfileRepository
	indicators risk.IndicatorRepository
	extractor  *feature.Extractor
	predictor  *ml.Predictor
	engine     *alerting.Engine
	events     shared.EventPublisher
	log        *logger.Logger

	windowDays  int
	exprBudget  time.Duration
	autoMonitor bool
}

// NewService wires the analysis pipeline.
func NewService(
	profiles risk.ProfileRepository,
	indicators risk.IndicatorRepository,
	extractor *feature.Extractor,
	predictor *ml.Predictor,
	engine *alerting.Engine,
	events shared.EventPublisher,
	log *logger.Logger,
) *Service {
	return &Service{
		profiles:   profiles,
		indicators: indicators,
		extractor:  extractor,
		predictor:  predictor,
		engine:     engine,
		events:     events,
		log:        log,
		windowDays:  feature.DefaultWindowDays,
		exprBudget:  expr.DefaultBudget,
		autoMonitor: true,
	}
}

// WithWindow overrides the extraction window. Non-positive days keep the
// default.
func (s *Service) WithWindow(days int) *Service {
	if days > 0 {
		s.windowDays = days
	}
	return s
}

// WithAutoMonitoring toggles automatic monitoring on high-risk profiles.
func (s *Service) WithAutoMonitoring(enabled bool) *Service {
	s.autoMonitor = enabled
	return s
}

// Student runs the full pipeline for one student. Concurrent analyses of the
// same profile are serialized through the store's advisory lock; two
// different profiles analyze independently.
func (s *Service) Student(ctx context.Context, studentID string, year shared.AcademicYear) (*Report, error) {
	profile, err := s.profiles.GetOrCreate(ctx, studentID, year)
	if err != nil {
		return nil, err
	}

	var report *Report
	err = s.profiles.WithAnalysisLock(ctx, profile.ID, func(ctx context.Context) error {
		// Re-read under the lock: a concurrent analysis may have finished.
		locked, err := s.profiles.GetByID(ctx, profile.ID)
		if err != nil {
			return err
		}
		report, err = s.analyze(ctx, locked)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) analyze(ctx context.Context, profile *risk.Profile) (*Report, error) {
	vector, err := s.extractor.Extract(ctx, profile.StudentID, profile.AcademicYear, timeutil.Now(), s.windowDays)
	if err != nil {
		return nil, err
	}

	result := scoring.Score(vector)

	update := risk.ScoringUpdate{
		RiskScore:          result.RiskScore,
		AcademicRisk:       result.AcademicRisk,
		AttendanceRisk:     result.AttendanceRisk,
		BehavioralRisk:     result.BehavioralRisk,
		SocialRisk:         result.SocialRisk,
		DropoutProbability: result.DropoutProbability,
		RiskFactors:        result.RiskFactors,
		Indicators:         vector.AsIndicators(),
		Recommendations:    result.Recommendations,
		PriorityActions:    result.PriorityActions,
		AnalysisVersion:    analysisVersion,
	}
	if result.PredictedFinalAverage > 0 {
		avg := result.PredictedFinalAverage
		update.PredictedFinalAverage = &avg
	}

	// The trained model refines the heuristic probability when it can serve.
	// Schema mismatch is fatal; any other model failure degrades gracefully.
	degraded := false
	modelVersion := ""
	prediction, err := s.predictor.Predict(vector)
	switch {
	case err == nil:
		update.DropoutProbability = prediction.DropoutProbability
		update.RiskFactors = mergeFactors(result.RiskFactors, prediction.MainRiskFactors)
		update.Recommendations = mergeStrings(result.Recommendations, prediction.Recommendations)
		degraded = prediction.Degraded
		modelVersion = prediction.ModelVersion
	case errors.Is(err, shared.ErrConfiguration):
		return nil, err
	default:
		s.log.Warn("model prediction unavailable, keeping heuristic",
			logger.ProfileID(profile.ID), logger.Err(err))
	}

	if triggered := s.evaluateIndicators(ctx, vector, risk.LevelOf(update.RiskScore)); len(triggered) > 0 {
		update.Indicators["triggered"] = triggered
	}

	profile.Apply(update)
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := s.profiles.UpdateFromScoring(ctx, profile); err != nil {
		return nil, err
	}

	// Crossing the high threshold opens the monitoring file automatically;
	// staff assignment comes later. Closing it stays a human decision.
	if s.autoMonitor && profile.RiskLevel.AtLeast(risk.LevelHigh) && !profile.IsMonitored {
		profile.StartMonitoring(nil)
		if err := s.profiles.SetMonitoring(ctx, profile); err != nil {
			s.log.Error("starting monitoring failed",
				logger.ProfileID(profile.ID), logger.Err(err))
		}
	}

	alerts, err := s.engine.Evaluate(ctx, profile)
	if err != nil {
		return nil, err
	}

	event := shared.NewProfileAnalyzedEvent(profile.ID, profile.StudentID,
		profile.AcademicYear.String(), profile.RiskScore, profile.RiskLevel.String(), len(alerts))
	if err := s.events.Publish(event); err != nil {
		s.log.Error("publishing profile.analyzed failed",
			logger.ProfileID(profile.ID), logger.Err(err))
	}

	s.log.Info("analysis complete",
		logger.ProfileID(profile.ID),
		logger.StudentID(profile.StudentID),
		logger.RiskScore(profile.RiskScore),
		logger.RiskLevel(profile.RiskLevel.String()),
		logger.Int("alerts_raised", len(alerts)))

	return &Report{
		Profile:      profile,
		AlertsRaised: len(alerts),
		Degraded:     degraded,
		ModelVersion: modelVersion,
	}, nil
}

// evaluateIndicators runs the configured indicators against the fresh vector.
// Custom expressions run sandboxed; a sandbox violation flags the indicator
// for review and skips it without failing the analysis.
func (s *Service) evaluateIndicators(ctx context.Context, v *feature.Vector, level risk.Level) []risk.TriggeredIndicator {
	indicators, err := s.indicators.ListActive(ctx)
	if err != nil {
		s.log.Warn("listing indicators failed", logger.Err(err))
		return nil
	}

	var triggered []risk.TriggeredIndicator
	for _, ind := range indicators {
		if !ind.AppliesTo(level) {
			continue
		}

		var value float64
		if ind.Type == risk.IndicatorCustom {
			value, err = s.evaluateCustom(ind, v)
			if err != nil {
				if errors.Is(err, shared.ErrSandboxViolation) || errors.Is(err, shared.ErrConfiguration) {
					if flagErr := s.indicators.FlagForReview(ctx, ind.ID, err.Error()); flagErr != nil {
						s.log.Error("flagging indicator failed",
							logger.String("indicator_id", ind.ID), logger.Err(flagErr))
					}
				}
				s.log.Warn("custom indicator skipped",
					logger.String("indicator_id", ind.ID), logger.Err(err))
				continue
			}
		} else {
			key := ind.Type.FeatureKey()
			if key == "" {
				s.log.Warn("unknown indicator type skipped",
					logger.String("indicator_id", ind.ID),
					logger.String("type", string(ind.Type)))
				continue
			}
			value = v.Get(key)
		}

		hit, err := ind.Operator.Apply(value, ind.Threshold)
		if err != nil || !hit {
			continue
		}
		triggered = append(triggered, risk.TriggeredIndicator{
			IndicatorID: ind.ID,
			Name:        ind.Name,
			Type:        string(ind.Type),
			Value:       value,
			Threshold:   ind.Threshold,
			Weight:      ind.Weight,
			TriggeredAt: time.Now().UTC(),
		})
	}
	return triggered
}

func (s *Service) evaluateCustom(ind *risk.Indicator, v *feature.Vector) (float64, error) {
	program, err := expr.Compile(ind.Expression, feature.Keys())
	if err != nil {
		return 0, err
	}
	return program.Eval(v.Values, s.exprBudget)
}

func mergeFactors(base, extra []risk.Factor) []risk.Factor {
	seen := make(map[string]bool, len(base))
	for _, f := range base {
		seen[f.Name] = true
	}
	out := base
	for _, f := range extra {
		if !seen[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

func mergeStrings(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s] = true
	}
	out := base
	for _, s := range extra {
		if !seen[s] {
			out = append(out, s)
		}
	}
	return out
}
