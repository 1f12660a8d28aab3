package analyze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/alerting"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/internal/ml"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

func testLogger() *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = io.Discard
	return logger.New(opts)
}

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

// memProfiles is an in-memory risk.ProfileRepository.
type memProfiles struct {
	byID           map[string]*risk.Profile
	updates        int
	locks          int
	monitoringSets int
}

func newMemProfiles() *memProfiles {
	return &memProfiles{byID: make(map[string]*risk.Profile)}
}

func (m *memProfiles) GetOrCreate(ctx context.Context, studentID string, year shared.AcademicYear) (*risk.Profile, error) {
	id := fmt.Sprintf("profile-%s", studentID)
	if p, ok := m.byID[id]; ok {
		return p, nil
	}
	p := risk.NewProfile(id, "college-vh", studentID, year)
	m.byID[id] = p
	return p, nil
}

func (m *memProfiles) GetByID(ctx context.Context, id string) (*risk.Profile, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	return p, nil
}

func (m *memProfiles) GetByStudent(ctx context.Context, studentID string, year shared.AcademicYear) (*risk.Profile, error) {
	return m.GetByID(ctx, fmt.Sprintf("profile-%s", studentID))
}

func (m *memProfiles) UpdateFromScoring(ctx context.Context, profile *risk.Profile) error {
	m.updates++
	m.byID[profile.ID] = profile
	return nil
}

func (m *memProfiles) MergeIndicators(ctx context.Context, profileID string, patch map[string]interface{}) error {
	return nil
}

func (m *memProfiles) SetMonitoring(ctx context.Context, profile *risk.Profile) error {
	m.monitoringSets++
	return nil
}

func (m *memProfiles) ListByStudents(ctx context.Context, studentIDs []string, year shared.AcademicYear) ([]*risk.Profile, error) {
	return nil, nil
}

func (m *memProfiles) ListMonitored(ctx context.Context, year shared.AcademicYear) ([]*risk.Profile, error) {
	return nil, nil
}

func (m *memProfiles) ListStale(ctx context.Context, year shared.AcademicYear, cutoff time.Time) ([]string, error) {
	return nil, nil
}

func (m *memProfiles) ListAtLeast(ctx context.Context, year shared.AcademicYear, level risk.Level) ([]*risk.Profile, error) {
	return nil, nil
}

func (m *memProfiles) WithAnalysisLock(ctx context.Context, profileID string, fn func(ctx context.Context) error) error {
	m.locks++
	return fn(ctx)
}

type fakeIndicators struct {
	indicators []*risk.Indicator
	flagged    map[string]string
}

func (f *fakeIndicators) ListActive(ctx context.Context) ([]*risk.Indicator, error) {
	return f.indicators, nil
}

func (f *fakeIndicators) FlagForReview(ctx context.Context, indicatorID string, reason string) error {
	if f.flagged == nil {
		f.flagged = make(map[string]string)
	}
	f.flagged[indicatorID] = reason
	return nil
}

type fakeAlertConfigs struct {
	configs []*alert.Configuration
}

func (f *fakeAlertConfigs) ListActive(ctx context.Context) ([]*alert.Configuration, error) {
	return f.configs, nil
}

func (f *fakeAlertConfigs) FlagForReview(ctx context.Context, configID string, reason string) error {
	return nil
}

type fakeAlertRepo struct {
	created []*alert.Alert
}

func (f *fakeAlertRepo) CreateIfNotInCooldown(ctx context.Context, a *alert.Alert, cooldown time.Duration) (bool, error) {
	f.created = append(f.created, a)
	return true, nil
}

func (f *fakeAlertRepo) GetByID(ctx context.Context, id string) (*alert.Alert, error) {
	return nil, shared.ErrAlertNotFound
}

func (f *fakeAlertRepo) LatestForPair(ctx context.Context, profileID, configID string) (*alert.Alert, error) {
	return nil, nil
}

func (f *fakeAlertRepo) Acknowledge(ctx context.Context, alertID, userID, notes string) error {
	return nil
}

func (f *fakeAlertRepo) AppendOutcome(ctx context.Context, alertID string, outcome alert.ChannelOutcome) error {
	return nil
}

func (f *fakeAlertRepo) ListUnacknowledged(ctx context.Context, limit int) ([]*alert.Alert, error) {
	return nil, nil
}

func (f *fakeAlertRepo) PurgeAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

type fakeDirectory struct {
	students map[string][]string
}

func (f *fakeDirectory) DisplayName(ctx context.Context, studentID string) (string, error) {
	return studentID, nil
}

func (f *fakeDirectory) Students(ctx context.Context, classID string) ([]string, error) {
	roster, ok := f.students[classID]
	if !ok {
		return nil, errors.New("unknown class")
	}
	return roster, nil
}

type fakeBus struct {
	events []shared.Event
}

func (f *fakeBus) Publish(event shared.Event) error {
	f.events = append(f.events, event)
	return nil
}

// Sources describing a struggling student: failing grades, heavy absences.

type strugglingGrades struct{}

func (strugglingGrades) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.GradeRecord, error) {
	var records []feature.GradeRecord
	for i := 0; i < 8; i++ {
		records = append(records, feature.GradeRecord{
			Date:            start.AddDate(0, 0, i*10),
			NormalizedScore: 5,
			SubjectID:       fmt.Sprintf("subject-%d", i%4),
		})
	}
	return records, nil
}

type strugglingAttendance struct{}

func (strugglingAttendance) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.AttendanceRecord, error) {
	var records []feature.AttendanceRecord
	for i := 0; i < 20; i++ {
		status := feature.StatusPresent
		if i%2 == 0 {
			status = feature.StatusAbsent
		}
		records = append(records, feature.AttendanceRecord{Date: start.AddDate(0, 0, i), Status: status})
	}
	return records, nil
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

// troubledBehavior piles incidents and sanctions on top of the struggling
// baseline, enough to cross into high risk.
type troubledBehavior struct{}

func (troubledBehavior) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.BehaviorRecord, error) {
	var records []feature.BehaviorRecord
	for i := 0; i < 4; i++ {
		records = append(records, feature.BehaviorRecord{
			Date: start.AddDate(0, 0, i*7),
			Type: feature.BehaviorNegative,
		})
	}
	return records, nil
}

func (troubledBehavior) Sanctions(ctx context.Context, studentID string, start, end time.Time) ([]feature.SanctionRecord, error) {
	return []feature.SanctionRecord{
		{Date: start},
		{Date: start.AddDate(0, 0, 10)},
		{Date: start.AddDate(0, 0, 20)},
	}, nil
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

// ─────────────────────────────────────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────────────────────────────────────

type harness struct {
	service    *Service
	profiles   *memProfiles
	indicators *fakeIndicators
	alerts     *fakeAlertRepo
	directory  *fakeDirectory
	bus        *fakeBus
}

func newHarness(t *testing.T, configs []*alert.Configuration, indicators []*risk.Indicator) *harness {
	return buildHarness(t, configs, indicators, quietBehavior{})
}

func buildHarness(t *testing.T, configs []*alert.Configuration, indicators []*risk.Indicator, behavior feature.BehaviorSource) *harness {
	t.Helper()
	log := testLogger()

	sources := feature.Sources{
		Grades:      strugglingGrades{},
		Attendance:  strugglingAttendance{},
		Homework:    quietHomework{},
		Behavior:    behavior,
		Interaction: quietInteraction{},
		Record:      quietRecord{},
	}

	profiles := newMemProfiles()
	inds := &fakeIndicators{indicators: indicators}
	alertRepo := &fakeAlertRepo{}
	directory := &fakeDirectory{students: map[string][]string{
		"3eB": {"student-1", "student-2", "student-3"},
	}}
	bus := &fakeBus{}

	engine := alerting.NewEngine(&fakeAlertConfigs{configs: configs}, alertRepo, directory, bus, log)
	extractor := feature.NewExtractor(sources, log)
	predictor := ml.NewPredictor(t.TempDir(), log)

	return &harness{
		service:    NewService(profiles, inds, extractor, predictor, engine, bus, log),
		profiles:   profiles,
		indicators: inds,
		alerts:     alertRepo,
		directory:  directory,
		bus:        bus,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestStudent_ScoresAndPersists(t *testing.T) {
	h := newHarness(t, nil, nil)

	report, err := h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)

	p := report.Profile
	assert.Greater(t, p.RiskScore, 0.0)
	assert.True(t, p.RiskLevel.AtLeast(risk.LevelModerate), "level %s", p.RiskLevel)
	assert.NotEmpty(t, p.RiskFactors)
	assert.NotEmpty(t, p.Recommendations)
	assert.NotNil(t, p.LastAnalysis)

	assert.Equal(t, 1, h.profiles.updates)
	assert.Equal(t, 1, h.profiles.locks)
	assert.False(t, p.IsMonitored)

	// No trained model on disk: the cold-start fallback serves, degraded.
	assert.True(t, report.Degraded)
	assert.Equal(t, "cold-start", report.ModelVersion)

	require.Len(t, h.bus.events, 1)
	assert.Equal(t, shared.EventProfileAnalyzed, h.bus.events[0].EventType())
}

func TestStudent_HighRiskStartsMonitoring(t *testing.T) {
	h := buildHarness(t, nil, nil, troubledBehavior{})

	report, err := h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)

	p := report.Profile
	require.True(t, p.RiskLevel.AtLeast(risk.LevelHigh), "level %s", p.RiskLevel)
	assert.True(t, p.IsMonitored)
	assert.NotNil(t, p.MonitoringStarted)
	assert.Equal(t, 1, h.profiles.monitoringSets)

	// Reanalysis at the same level does not reopen the monitoring file.
	_, err = h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)
	assert.Equal(t, 1, h.profiles.monitoringSets)
}

func TestStudent_RaisesConfiguredAlerts(t *testing.T) {
	level := risk.LevelModerate
	h := newHarness(t, []*alert.Configuration{{
		ID:                 "cfg-1",
		Name:               "Suivi renforcé",
		RiskLevelThreshold: &level,
		MessageTemplate:    "{student_name} : niveau {risk_level}",
		Priority:           alert.PriorityHigh,
	}}, nil)

	report, err := h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)

	assert.Equal(t, 1, report.AlertsRaised)
	require.Len(t, h.alerts.created, 1)
	assert.Equal(t, report.Profile.ID, h.alerts.created[0].ProfileID)
}

func TestStudent_TriggersIndicators(t *testing.T) {
	h := newHarness(t, nil, []*risk.Indicator{
		{
			ID: "ind-avg", Name: "Moyenne basse", Type: risk.IndicatorAverage,
			Operator: risk.OpLT, Threshold: 8, Weight: 5, Active: true,
		},
		{
			ID: "ind-quiet", Name: "Inactif", Type: risk.IndicatorAverage,
			Operator: risk.OpLT, Threshold: 8, Weight: 5, Active: false,
		},
	})

	report, err := h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)

	triggered, ok := report.Profile.Indicators["triggered"].([]risk.TriggeredIndicator)
	require.True(t, ok)
	require.Len(t, triggered, 1)
	assert.Equal(t, "ind-avg", triggered[0].IndicatorID)
	assert.InDelta(t, 5.0, triggered[0].Value, 0.001)
}

func TestStudent_CustomIndicatorExpression(t *testing.T) {
	h := newHarness(t, nil, []*risk.Indicator{{
		ID: "ind-custom", Name: "Décrochage combiné", Type: risk.IndicatorCustom,
		Expression: "(current_average < 8) * (absence_rate > 30)",
		Operator:   risk.OpGTE, Threshold: 1, Weight: 8, Active: true,
	}})

	report, err := h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)

	triggered, ok := report.Profile.Indicators["triggered"].([]risk.TriggeredIndicator)
	require.True(t, ok)
	require.Len(t, triggered, 1)
	assert.Equal(t, "ind-custom", triggered[0].IndicatorID)
	assert.Empty(t, h.indicators.flagged)
}

func TestStudent_BrokenExpressionFlagsIndicator(t *testing.T) {
	h := newHarness(t, nil, []*risk.Indicator{{
		ID: "ind-broken", Name: "Cassé", Type: risk.IndicatorCustom,
		Expression: "no_such_feature > 1",
		Operator:   risk.OpGTE, Threshold: 1, Weight: 8, Active: true,
	}})

	report, err := h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)

	// The broken indicator is flagged and skipped; the analysis still lands.
	_, ok := report.Profile.Indicators["triggered"]
	assert.False(t, ok)
	assert.Contains(t, h.indicators.flagged["ind-broken"], "no_such_feature")
}

func TestStudent_ReanalysisReusesProfile(t *testing.T) {
	h := newHarness(t, nil, nil)

	first, err := h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)
	second, err := h.service.Student(context.Background(), "student-1", "2025-2026")
	require.NoError(t, err)

	assert.Equal(t, first.Profile.ID, second.Profile.ID)
	assert.Equal(t, 2, h.profiles.updates)
	assert.Equal(t, first.Profile.RiskScore, second.Profile.RiskScore)
}

func TestClass_AggregatesDistribution(t *testing.T) {
	h := newHarness(t, nil, nil)

	report, err := h.service.Class(context.Background(), h.directory, "3eB", "2025-2026")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Analyzed)
	assert.Zero(t, report.Failed)
	assert.Greater(t, report.AverageScore, 0.0)

	count := 0
	for _, n := range report.Distribution {
		count += n
	}
	assert.Equal(t, 3, count)
}

func TestClass_UnknownRoster(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, err := h.service.Class(context.Background(), h.directory, "no-such-class", "2025-2026")
	assert.Error(t, err)
}
