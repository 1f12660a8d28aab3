package alerting

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeConfigs struct {
	configs []*alert.Configuration
	flagged map[string]string
}

func (f *fakeConfigs) ListActive(ctx context.Context) ([]*alert.Configuration, error) {
	return f.configs, nil
}

func (f *fakeConfigs) FlagForReview(ctx context.Context, configID string, reason string) error {
	if f.flagged == nil {
		f.flagged = make(map[string]string)
	}
	f.flagged[configID] = reason
	return nil
}

type fakeAlerts struct {
	created      []*alert.Alert
	inCooldown   bool
	lastCooldown time.Duration
}

func (f *fakeAlerts) CreateIfNotInCooldown(ctx context.Context, a *alert.Alert, cooldown time.Duration) (bool, error) {
	f.lastCooldown = cooldown
	if f.inCooldown {
		return false, nil
	}
	f.created = append(f.created, a)
	return true, nil
}

func (f *fakeAlerts) GetByID(ctx context.Context, id string) (*alert.Alert, error) {
	return nil, shared.ErrNotFound
}

func (f *fakeAlerts) LatestForPair(ctx context.Context, profileID, configID string) (*alert.Alert, error) {
	return nil, nil
}

func (f *fakeAlerts) Acknowledge(ctx context.Context, alertID, userID, notes string) error {
	return nil
}

func (f *fakeAlerts) AppendOutcome(ctx context.Context, alertID string, outcome alert.ChannelOutcome) error {
	return nil
}

func (f *fakeAlerts) ListUnacknowledged(ctx context.Context, limit int) ([]*alert.Alert, error) {
	return nil, nil
}

func (f *fakeAlerts) PurgeAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

type fakeDirectory struct {
	names map[string]string
}

func (f *fakeDirectory) DisplayName(ctx context.Context, studentID string) (string, error) {
	if name, ok := f.names[studentID]; ok {
		return name, nil
	}
	return "", errors.New("unknown student")
}

type fakeBus struct {
	events []shared.Event
}

func (f *fakeBus) Publish(event shared.Event) error {
	f.events = append(f.events, event)
	return nil
}

func testLogger() *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = io.Discard
	return logger.New(opts)
}

func levelPtr(l risk.Level) *risk.Level { return &l }

func scorePtr(s float64) *float64 { return &s }

func criticalProfile() *risk.Profile {
	return &risk.Profile{
		ID:           "profile-1",
		TenantID:     "college-vh",
		StudentID:    "student-1",
		AcademicYear: "2025-2026",
		RiskScore:    85,
		RiskLevel:    risk.LevelCritical,
		Indicators: map[string]interface{}{
			"absence_rate": 25.0,
		},
	}
}

func newTestEngine(configs *fakeConfigs, alerts *fakeAlerts, bus *fakeBus) *Engine {
	names := &fakeDirectory{names: map[string]string{"student-1": "Marie Dupont"}}
	return NewEngine(configs, alerts, names, bus, testLogger())
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestEvaluate_EmitsAlert(t *testing.T) {
	configs := &fakeConfigs{configs: []*alert.Configuration{{
		ID:                 "cfg-1",
		Name:               "Risque critique",
		RiskLevelThreshold: levelPtr(risk.LevelHigh),
		CooldownDays:       3,
		MessageTemplate:    "{student_name} présente un risque {risk_level} (score {risk_score})",
		Priority:           alert.PriorityUrgent,
	}}}
	alerts := &fakeAlerts{}
	bus := &fakeBus{}

	emitted, err := newTestEngine(configs, alerts, bus).Evaluate(context.Background(), criticalProfile())
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	a := emitted[0]
	assert.Equal(t, "Risque critique", a.Title)
	assert.Equal(t, "Marie Dupont présente un risque critical (score 85)", a.Message)
	assert.Equal(t, alert.PriorityUrgent, a.Priority)
	assert.Equal(t, "profile-1", a.ProfileID)
	assert.Equal(t, 3*24*time.Hour, alerts.lastCooldown)

	require.Len(t, bus.events, 1)
	assert.Equal(t, shared.EventAlertRaised, bus.events[0].EventType())
}

func TestEvaluate_BelowThresholds(t *testing.T) {
	configs := &fakeConfigs{configs: []*alert.Configuration{
		{ID: "cfg-level", RiskLevelThreshold: levelPtr(risk.LevelCritical), MessageTemplate: "x"},
		{ID: "cfg-score", RiskScoreThreshold: scorePtr(90), MessageTemplate: "x"},
	}}
	alerts := &fakeAlerts{}
	bus := &fakeBus{}

	profile := criticalProfile()
	profile.RiskScore = 65
	profile.RiskLevel = risk.LevelHigh

	emitted, err := newTestEngine(configs, alerts, bus).Evaluate(context.Background(), profile)
	require.NoError(t, err)
	assert.Empty(t, emitted)
	assert.Empty(t, alerts.created)
	assert.Empty(t, bus.events)
}

func TestEvaluate_IndicatorConditions(t *testing.T) {
	configs := &fakeConfigs{configs: []*alert.Configuration{
		{
			ID:              "cfg-hit",
			MessageTemplate: "absences",
			IndicatorConditions: []alert.IndicatorCondition{
				{Indicator: "absence_rate", Operator: risk.OpGT, Value: 20},
			},
		},
		{
			ID:              "cfg-miss",
			MessageTemplate: "devoirs",
			IndicatorConditions: []alert.IndicatorCondition{
				{Indicator: "homework_completion", Operator: risk.OpLT, Value: 50},
			},
		},
	}}
	alerts := &fakeAlerts{}
	bus := &fakeBus{}

	emitted, err := newTestEngine(configs, alerts, bus).Evaluate(context.Background(), criticalProfile())
	require.NoError(t, err)

	// cfg-hit fires; cfg-miss references an indicator the profile lacks.
	require.Len(t, emitted, 1)
	assert.Equal(t, "cfg-hit", emitted[0].ConfigID)
}

func TestEvaluate_CooldownSuppresses(t *testing.T) {
	configs := &fakeConfigs{configs: []*alert.Configuration{{
		ID: "cfg-1", MessageTemplate: "x", CooldownDays: 7,
	}}}
	alerts := &fakeAlerts{inCooldown: true}
	bus := &fakeBus{}

	emitted, err := newTestEngine(configs, alerts, bus).Evaluate(context.Background(), criticalProfile())
	require.NoError(t, err)
	assert.Empty(t, emitted)
	assert.Empty(t, bus.events)
}

func TestEvaluate_BrokenTemplateFlagsConfig(t *testing.T) {
	configs := &fakeConfigs{configs: []*alert.Configuration{
		{ID: "cfg-broken", MessageTemplate: "{typo_placeholder}"},
		{ID: "cfg-ok", MessageTemplate: "Alerte pour {student_name}"},
	}}
	alerts := &fakeAlerts{}
	bus := &fakeBus{}

	emitted, err := newTestEngine(configs, alerts, bus).Evaluate(context.Background(), criticalProfile())
	require.NoError(t, err)

	// The broken rule is flagged and skipped; the healthy one still fires.
	require.Len(t, emitted, 1)
	assert.Equal(t, "cfg-ok", emitted[0].ConfigID)
	assert.Contains(t, configs.flagged["cfg-broken"], "typo_placeholder")
}

func TestEvaluate_FlaggedConfigSkipped(t *testing.T) {
	configs := &fakeConfigs{configs: []*alert.Configuration{{
		ID: "cfg-1", MessageTemplate: "x", FlaggedForReview: true,
	}}}
	alerts := &fakeAlerts{}
	bus := &fakeBus{}

	emitted, err := newTestEngine(configs, alerts, bus).Evaluate(context.Background(), criticalProfile())
	require.NoError(t, err)
	assert.Empty(t, emitted)
}

func TestEvaluate_DirectoryFailureFallsBackToID(t *testing.T) {
	configs := &fakeConfigs{configs: []*alert.Configuration{{
		ID: "cfg-1", MessageTemplate: "Alerte : {student_name}",
	}}}
	alerts := &fakeAlerts{}
	bus := &fakeBus{}

	engine := NewEngine(configs, alerts, &fakeDirectory{}, bus, testLogger())
	emitted, err := engine.Evaluate(context.Background(), criticalProfile())
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(t, "Alerte : student-1", emitted[0].Message)
}

func TestRenderTemplate(t *testing.T) {
	values := map[string]string{
		PlaceholderStudentName: "Marie",
		PlaceholderRiskLevel:   "high",
		PlaceholderRiskScore:   "72",
	}

	out, err := RenderTemplate("{student_name} : {risk_level} ({risk_score}/100)", values)
	require.NoError(t, err)
	assert.Equal(t, "Marie : high (72/100)", out)

	_, err = RenderTemplate("score {unknown}", values)
	assert.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = RenderTemplate("score {risk_score", values)
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}
