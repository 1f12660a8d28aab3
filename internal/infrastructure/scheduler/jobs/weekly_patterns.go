package jobs

import (
	"context"

	"github.com/Idriss091/peproscolaire-sub000/internal/alerting"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/pattern"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY PATTERNS JOB
// ══════════════════════════════════════════════════════════════════════════════

// patternWindowDays is how far back the detectors look.
const patternWindowDays = 90

// WeeklyPatternsJob runs the temporal pattern detectors over every monitored
// profile, folds the detected markers into the profile's indicator subtree
// and re-runs the alert engine when a high-severity pattern fires.
type WeeklyPatternsJob struct {
	profiles risk.ProfileRepository
	registry *pattern.Registry
	engine   *alerting.Engine
	events   shared.EventPublisher
	log      *logger.Logger
}

// NewWeeklyPatternsJob creates the weekly pattern detection job.
func NewWeeklyPatternsJob(
	profiles risk.ProfileRepository,
	registry *pattern.Registry,
	engine *alerting.Engine,
	events shared.EventPublisher,
	log *logger.Logger,
) *WeeklyPatternsJob {
	return &WeeklyPatternsJob{
		profiles: profiles,
		registry: registry,
		engine:   engine,
		events:   events,
		log:      log,
	}
}

// Name implements scheduler.Job.
func (j *WeeklyPatternsJob) Name() string { return "weekly_patterns" }

// Description implements scheduler.Job.
func (j *WeeklyPatternsJob) Description() string {
	return "Run temporal pattern detectors over monitored profiles"
}

// Run sweeps the monitored profiles of the current academic year.
func (j *WeeklyPatternsJob) Run(ctx context.Context) error {
	year := shared.AcademicYear(timeutil.AcademicYearOf(timeutil.Now()))

	profiles, err := j.profiles.ListMonitored(ctx, year)
	if err != nil {
		return err
	}

	window := timeutil.NewWindow(timeutil.Now(), patternWindowDays)
	detected := 0
	for _, profile := range profiles {
		if err := j.sweep(ctx, profile, window); err != nil {
			j.log.Warn("pattern sweep failed for profile",
				logger.ProfileID(profile.ID),
				logger.StudentID(profile.StudentID),
				logger.Err(err))
			continue
		}
		detected++
	}

	j.log.Info("weekly pattern sweep complete",
		logger.AcademicYear(string(year)),
		logger.Int("monitored", len(profiles)),
		logger.Int("swept", detected))
	return nil
}

func (j *WeeklyPatternsJob) sweep(ctx context.Context, profile *risk.Profile, window timeutil.Window) error {
	markers := j.registry.DetectAll(ctx, profile.StudentID, window)
	if len(markers) == 0 {
		return nil
	}

	profile.MergePatterns(markers)
	patch := map[string]interface{}{
		risk.IndicatorsPatternKey: profile.Indicators[risk.IndicatorsPatternKey],
	}
	if err := j.profiles.MergeIndicators(ctx, profile.ID, patch); err != nil {
		return err
	}

	escalate := false
	for _, m := range markers {
		if err := j.events.Publish(shared.NewPatternDetectedEvent(
			profile.ID, profile.StudentID, m.Name, string(m.Severity))); err != nil {
			j.log.Warn("pattern event publish failed",
				logger.ProfileID(profile.ID), logger.Err(err))
		}
		if m.Severity == risk.SeverityHigh || m.Severity == risk.SeverityCritical {
			escalate = true
		}
	}

	if escalate {
		if _, err := j.engine.Evaluate(ctx, profile); err != nil {
			return err
		}
	}
	return nil
}
