package effectiveness

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/intervention"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

func testLogger() *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = io.Discard
	return logger.New(opts)
}

func vectorWith(values map[string]float64) *feature.Vector {
	v := feature.NewVector("student-1", "2025-2026", timeutil.NewWindow(timeutil.Now(), 30))
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

// ─────────────────────────────────────────────────────────────────────────────
// compare
// ─────────────────────────────────────────────────────────────────────────────

func TestCompare_VeryEffective(t *testing.T) {
	before := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:     8,
		feature.KeyAbsenceRate:        20,
		feature.KeyHomeworkCompletion: 50,
		feature.KeyBehaviorIncidents:  4,
		feature.KeyParticipationScore: 3,
	})
	after := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:     11,
		feature.KeyAbsenceRate:        10,
		feature.KeyHomeworkCompletion: 80,
		feature.KeyBehaviorIncidents:  1,
		feature.KeyParticipationScore: 6,
	})

	eval := compare("plan-1", before, after)

	// Every weighted metric improved enough to saturate its scaled score.
	assert.InDelta(t, 10.0, eval.AutoScore, 0.001)
	assert.Equal(t, "Intervention très efficace (score 10.0/10)", eval.Summary)
	assert.InDelta(t, 3.0, eval.Improvements[feature.KeyCurrentAverage], 0.001)
	// Absence rate decreasing is an improvement.
	assert.InDelta(t, 10.0, eval.Improvements[feature.KeyAbsenceRate], 0.001)
}

func TestCompare_NoChangeIsModerate(t *testing.T) {
	before := vectorWith(nil)
	after := vectorWith(nil)

	eval := compare("plan-1", before, after)

	assert.InDelta(t, 5.0, eval.AutoScore, 0.001)
	assert.Contains(t, eval.Summary, "modérément efficace")
}

func TestCompare_RegressionIsLow(t *testing.T) {
	before := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:     12,
		feature.KeyAbsenceRate:        5,
		feature.KeyHomeworkCompletion: 90,
		feature.KeyBehaviorIncidents:  0,
		feature.KeyParticipationScore: 6,
	})
	after := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:     9,
		feature.KeyAbsenceRate:        15,
		feature.KeyHomeworkCompletion: 60,
		feature.KeyBehaviorIncidents:  3,
		feature.KeyParticipationScore: 4,
	})

	eval := compare("plan-1", before, after)

	assert.Less(t, eval.AutoScore, 5.0)
	assert.Contains(t, eval.Summary, "peu efficace")
}

func TestCompare_ReportsUnweightedMetrics(t *testing.T) {
	before := vectorWith(map[string]float64{feature.KeyLateHomeworkRate: 40})
	after := vectorWith(map[string]float64{feature.KeyLateHomeworkRate: 10})

	eval := compare("plan-1", before, after)

	// Late homework carries no weight but still shows up in the report.
	assert.InDelta(t, 30.0, eval.Improvements[feature.KeyLateHomeworkRate], 0.001)
	assert.InDelta(t, 5.0, eval.AutoScore, 0.001)
}

// ─────────────────────────────────────────────────────────────────────────────
// Evaluate
// ─────────────────────────────────────────────────────────────────────────────

type fakePlans struct {
	plan     *intervention.Plan
	recorded bool
}

func (f *fakePlans) GetByID(ctx context.Context, id string) (*intervention.Plan, error) {
	if f.plan == nil || f.plan.ID != id {
		return nil, shared.ErrPlanNotFound
	}
	return f.plan, nil
}

func (f *fakePlans) ListByProfile(ctx context.Context, profileID string) ([]*intervention.Plan, error) {
	return nil, nil
}

func (f *fakePlans) ListEvaluable(ctx context.Context, year shared.AcademicYear) ([]*intervention.Plan, error) {
	return []*intervention.Plan{f.plan}, nil
}

func (f *fakePlans) UpdateStatus(ctx context.Context, plan *intervention.Plan) error {
	return nil
}

func (f *fakePlans) RecordEvaluation(ctx context.Context, plan *intervention.Plan) error {
	f.recorded = true
	return nil
}

type fakeProfiles struct {
	profile *risk.Profile
}

func (f *fakeProfiles) GetOrCreate(ctx context.Context, studentID string, year shared.AcademicYear) (*risk.Profile, error) {
	return f.profile, nil
}

func (f *fakeProfiles) GetByID(ctx context.Context, id string) (*risk.Profile, error) {
	if f.profile == nil || f.profile.ID != id {
		return nil, shared.ErrProfileNotFound
	}
	return f.profile, nil
}

func (f *fakeProfiles) GetByStudent(ctx context.Context, studentID string, year shared.AcademicYear) (*risk.Profile, error) {
	return f.profile, nil
}

func (f *fakeProfiles) UpdateFromScoring(ctx context.Context, profile *risk.Profile) error {
	return nil
}

func (f *fakeProfiles) MergeIndicators(ctx context.Context, profileID string, patch map[string]interface{}) error {
	return nil
}

func (f *fakeProfiles) SetMonitoring(ctx context.Context, profile *risk.Profile) error {
	return nil
}

func (f *fakeProfiles) ListByStudents(ctx context.Context, studentIDs []string, year shared.AcademicYear) ([]*risk.Profile, error) {
	return nil, nil
}

func (f *fakeProfiles) ListMonitored(ctx context.Context, year shared.AcademicYear) ([]*risk.Profile, error) {
	return nil, nil
}

func (f *fakeProfiles) ListStale(ctx context.Context, year shared.AcademicYear, cutoff time.Time) ([]string, error) {
	return nil, nil
}

func (f *fakeProfiles) ListAtLeast(ctx context.Context, year shared.AcademicYear, level risk.Level) ([]*risk.Profile, error) {
	return nil, nil
}

func (f *fakeProfiles) WithAnalysisLock(ctx context.Context, profileID string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeBus struct {
	events []shared.Event
}

func (f *fakeBus) Publish(event shared.Event) error {
	f.events = append(f.events, event)
	return nil
}

// Quiet platform sources: every adapter returns nothing, so both windows
// extract the schema defaults.

type quietGrades struct{}

func (quietGrades) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.GradeRecord, error) {
	return nil, nil
}

type quietAttendance struct{}

func (quietAttendance) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.AttendanceRecord, error) {
	return nil, nil
}

type quietHomework struct{}

func (quietHomework) Assigned(ctx context.Context, studentID string, start, end time.Time) ([]feature.Assignment, error) {
	return nil, nil
}

func (quietHomework) Submitted(ctx context.Context, studentID string, assignmentIDs []string) ([]feature.Submission, error) {
	return nil, nil
}

type quietBehavior struct{}

func (quietBehavior) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.BehaviorRecord, error) {
	return nil, nil
}

func (quietBehavior) Sanctions(ctx context.Context, studentID string, start, end time.Time) ([]feature.SanctionRecord, error) {
	return nil, nil
}

type quietInteraction struct{}

func (quietInteraction) Sent(ctx context.Context, studentID string, start, end time.Time) (int, error) {
	return 0, nil
}

func (quietInteraction) Received(ctx context.Context, studentID string, start, end time.Time) (int, error) {
	return 0, nil
}

type quietRecord struct{}

func (quietRecord) Get(ctx context.Context, studentID string) (*feature.StudentRecord, error) {
	return nil, shared.ErrNotFound
}

func newTestEvaluator(plans *fakePlans, bus *fakeBus) *Evaluator {
	sources := feature.Sources{
		Grades:      quietGrades{},
		Attendance:  quietAttendance{},
		Homework:    quietHomework{},
		Behavior:    quietBehavior{},
		Interaction: quietInteraction{},
		Record:      quietRecord{},
	}
	profiles := &fakeProfiles{profile: &risk.Profile{
		ID:           "profile-1",
		StudentID:    "student-1",
		AcademicYear: "2025-2026",
	}}
	extractor := feature.NewExtractor(sources, testLogger())
	return NewEvaluator(plans, profiles, extractor, bus, testLogger())
}

func TestEvaluate_PersistsScore(t *testing.T) {
	plans := &fakePlans{plan: &intervention.Plan{
		ID:        "plan-1",
		ProfileID: "profile-1",
		Status:    intervention.StatusActive,
		StartDate: timeutil.Now().AddDate(0, 0, -60),
	}}
	bus := &fakeBus{}

	eval, err := newTestEvaluator(plans, bus).Evaluate(context.Background(), "plan-1")
	require.NoError(t, err)

	// Identical before/after windows score a neutral 5.
	assert.InDelta(t, 5.0, eval.AutoScore, 0.001)
	assert.True(t, plans.recorded)
	require.NotNil(t, plans.plan.EffectivenessScore)
	assert.InDelta(t, 5.0, *plans.plan.EffectivenessScore, 0.001)
	assert.Len(t, bus.events, 1)
}

func TestEvaluate_WindowTooShort(t *testing.T) {
	plans := &fakePlans{plan: &intervention.Plan{
		ID:        "plan-1",
		ProfileID: "profile-1",
		Status:    intervention.StatusActive,
		StartDate: timeutil.Now().AddDate(0, 0, -10),
	}}
	bus := &fakeBus{}

	_, err := newTestEvaluator(plans, bus).Evaluate(context.Background(), "plan-1")
	assert.ErrorIs(t, err, shared.ErrInsufficientData)
	assert.False(t, plans.recorded)
	assert.Empty(t, bus.events)
}

func TestEvaluate_DraftPlanRefused(t *testing.T) {
	plans := &fakePlans{plan: &intervention.Plan{
		ID:        "plan-1",
		ProfileID: "profile-1",
		Status:    intervention.StatusDraft,
		StartDate: timeutil.Now().AddDate(0, 0, -60),
	}}
	bus := &fakeBus{}

	_, err := newTestEvaluator(plans, bus).Evaluate(context.Background(), "plan-1")
	assert.ErrorIs(t, err, shared.ErrPlanNotActive)
}

func TestEvaluate_UnknownPlan(t *testing.T) {
	_, err := newTestEvaluator(&fakePlans{}, &fakeBus{}).Evaluate(context.Background(), "nope")
	assert.ErrorIs(t, err, shared.ErrPlanNotFound)
}
