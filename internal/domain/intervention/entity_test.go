package intervention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

func TestTransition_StateMachine(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusDraft, StatusActive, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusCompleted, false},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusCancelled, true},
		{StatusActive, StatusDraft, false},
		{StatusCompleted, StatusActive, false},
		{StatusCancelled, StatusActive, false},
	}
	for _, tc := range cases {
		p := &Plan{Status: tc.from}
		err := p.Transition(tc.to)
		if tc.ok {
			require.NoError(t, err, "%s -> %s", tc.from, tc.to)
			assert.Equal(t, tc.to, p.Status)
		} else {
			assert.ErrorIs(t, err, shared.ErrStateTransition, "%s -> %s", tc.from, tc.to)
			assert.Equal(t, tc.from, p.Status)
		}
	}
}

func TestTransition_TerminalStatesSetActualEnd(t *testing.T) {
	p := &Plan{Status: StatusActive}
	require.NoError(t, p.Transition(StatusCompleted))
	require.NotNil(t, p.ActualEnd)
}

func TestEvaluable(t *testing.T) {
	assert.False(t, (&Plan{Status: StatusDraft}).Evaluable())
	assert.True(t, (&Plan{Status: StatusActive}).Evaluable())
	assert.True(t, (&Plan{Status: StatusCompleted}).Evaluable())
	assert.False(t, (&Plan{Status: StatusCancelled}).Evaluable())
}

func TestEvaluationEnd(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actual := now.AddDate(0, 0, -10)
	planned := now.AddDate(0, 0, -5)
	future := now.AddDate(0, 0, 30)

	// Actual end wins over everything.
	p := &Plan{ActualEnd: &actual, EndDate: &planned}
	assert.Equal(t, actual, p.EvaluationEnd(now))

	// A passed planned end caps the period.
	p = &Plan{EndDate: &planned}
	assert.Equal(t, planned, p.EvaluationEnd(now))

	// Open-ended or still-running plans evaluate up to now.
	p = &Plan{EndDate: &future}
	assert.Equal(t, now, p.EvaluationEnd(now))
	assert.Equal(t, now, (&Plan{}).EvaluationEnd(now))
}

func TestValidate(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, 0, -1)
	bad := 11.0

	assert.NoError(t, (&Plan{Status: StatusActive, StartDate: start}).Validate())
	assert.Error(t, (&Plan{Status: "paused", StartDate: start}).Validate())
	assert.Error(t, (&Plan{Status: StatusActive, StartDate: start, EndDate: &before}).Validate())
	assert.Error(t, (&Plan{Status: StatusActive, StartDate: start, EffectivenessScore: &bad}).Validate())
}
