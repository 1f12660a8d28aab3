package expr

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

var allowed = []string{"average_grade", "absence_rate", "participation_score"}

func compile(t *testing.T, source string) *Program {
	t.Helper()
	p, err := Compile(source, allowed)
	require.NoError(t, err)
	return p
}

func TestCompile_TracksIdentifiers(t *testing.T) {
	p := compile(t, "average_grade < 8")

	assert.Equal(t, "average_grade < 8", p.Source())
	assert.Equal(t, []string{"average_grade"}, p.Identifiers())
}

func TestCompile_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		source string
	}{
		{"empty", "   "},
		{"unknown identifier", "grades_hacked > 1"},
		{"unknown function", "sqrt(average_grade)"},
		{"trailing token", "average_grade + 1 )"},
		{"missing paren", "(average_grade + 1"},
		{"bad number", "1.2.3 + 1"},
		{"too long", strings.Repeat("1+", 300) + "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.source, allowed)
			assert.ErrorIs(t, err, shared.ErrConfiguration)
		})
	}
}

func TestEval_Precedence(t *testing.T) {
	p := compile(t, "2 + 3 * 4 - 6 / 2")

	v, err := p.Eval(nil, 0)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, v, 1e-9)
}

func TestEval_ComparisonsCompose(t *testing.T) {
	p := compile(t, "(average_grade < 10) * 25 + (absence_rate >= 20) * 15")

	v, err := p.Eval(map[string]float64{"average_grade": 8, "absence_rate": 25}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, v, 1e-9)

	v, err = p.Eval(map[string]float64{"average_grade": 14, "absence_rate": 5}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, v, 1e-9)
}

func TestEval_Functions(t *testing.T) {
	values := map[string]float64{"average_grade": 7.4, "participation_score": 3}

	cases := []struct {
		source string
		want   float64
	}{
		{"min(average_grade, participation_score)", 3},
		{"max(average_grade, participation_score, 10)", 10},
		{"abs(participation_score - average_grade)", 4.4},
		{"round(average_grade)", 7},
	}
	for _, tc := range cases {
		v, err := compile(t, tc.source).Eval(values, 0)
		require.NoError(t, err, tc.source)
		assert.InDelta(t, tc.want, v, 1e-9, tc.source)
	}
}

func TestEval_UnaryNegation(t *testing.T) {
	p := compile(t, "-average_grade + 20")

	v, err := p.Eval(map[string]float64{"average_grade": 12}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, v, 1e-9)
}

func TestEval_DivisionByZero(t *testing.T) {
	p := compile(t, "10 / participation_score")

	_, err := p.Eval(map[string]float64{"participation_score": 0}, 0)
	assert.ErrorIs(t, err, shared.ErrSandboxViolation)
}

func TestEval_MissingValue(t *testing.T) {
	p := compile(t, "average_grade + 1")

	_, err := p.Eval(map[string]float64{}, 0)
	assert.ErrorIs(t, err, shared.ErrSandboxViolation)
}

func TestEval_BadFunctionArity(t *testing.T) {
	p := compile(t, "abs(average_grade, absence_rate)")

	_, err := p.Eval(map[string]float64{"average_grade": 1, "absence_rate": 2}, 0)
	assert.ErrorIs(t, err, shared.ErrSandboxViolation)
}

func TestEval_BudgetExceeded(t *testing.T) {
	// Enough nodes to hit the step-counter deadline check.
	p := compile(t, strings.Repeat("1+", 100)+"1")

	_, err := p.Eval(nil, time.Nanosecond)
	assert.ErrorIs(t, err, shared.ErrSandboxViolation)
}

func TestEval_ConcurrentUse(t *testing.T) {
	p := compile(t, "max(average_grade, 10) - min(absence_rate, 5)")
	values := map[string]float64{"average_grade": 13, "absence_rate": 2}

	done := make(chan float64, 8)
	for i := 0; i < 8; i++ {
		go func() {
			v, err := p.Eval(values, 0)
			assert.NoError(t, err)
			done <- v
		}()
	}
	for i := 0; i < 8; i++ {
		assert.InDelta(t, 11.0, <-done, 1e-9)
	}
}
