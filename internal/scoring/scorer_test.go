package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

func vectorWith(values map[string]float64) *feature.Vector {
	v := feature.NewVector("student-1", "2025-2026", timeutil.NewWindow(timeutil.Now(), 90))
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestScore_StrugglingStudent(t *testing.T) {
	v := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:      6,
		feature.KeyGradeTrend:          -2.5,
		feature.KeyFailedSubjects:      3,
		feature.KeyGradeVariance:       5,
		feature.KeyAbsenceRate:         25,
		feature.KeyUnjustifiedAbsence:  8,
		feature.KeyTardinessRate:       10,
		feature.KeyConsecutiveAbsences: 6,
		feature.KeyBehaviorIncidents:   4,
		feature.KeySanctionsCount:      3,
		feature.KeyParticipationScore:  2,
		feature.KeySocialIntegration:   1,
		feature.KeyFamilySituationRisk: 2,
		feature.KeyHasSupportAtHome:    0,
		feature.KeyExtracurricular:     0,
	})

	r := Score(v)

	// avg<8 (30) + trend<-2 (25) + 3 failed (15) + variance>4 (10)
	assert.InDelta(t, 80.0, r.AcademicRisk, 0.001)
	// rate>20 (40) + 8 unjustified (16) + tardiness 10 (15) + consecutive>5 (20)
	assert.InDelta(t, 91.0, r.AttendanceRisk, 0.001)
	// 4 incidents (32) + 3 sanctions (36) + participation<3 (25)
	assert.InDelta(t, 93.0, r.BehavioralRisk, 0.001)
	// integration<2 (30) + family 2 (16) + no support (15) + no activities (10)
	assert.InDelta(t, 71.0, r.SocialRisk, 0.001)

	// 0.35*80 + 0.25*91 + 0.20*93 + 0.20*71
	assert.InDelta(t, 83.55, r.RiskScore, 0.001)
	assert.Equal(t, risk.LevelCritical, r.RiskLevel)

	assert.Greater(t, r.DropoutProbability, 0.5)
	assert.NotEmpty(t, r.RiskFactors)
	assert.NotEmpty(t, r.Recommendations)
	assert.NotEmpty(t, r.PriorityActions)
}

func TestScore_HealthyStudent(t *testing.T) {
	v := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:     15,
		feature.KeyAverageGrade:       15,
		feature.KeyGradeTrend:         0.5,
		feature.KeyParticipationScore: 8,
		feature.KeySocialIntegration:  8,
		feature.KeyExtracurricular:    2,
		feature.KeyHomeworkCompletion: 95,
	})

	r := Score(v)

	assert.Zero(t, r.AcademicRisk)
	assert.Zero(t, r.AttendanceRisk)
	assert.Zero(t, r.BehavioralRisk)
	assert.Zero(t, r.SocialRisk)
	assert.Zero(t, r.RiskScore)
	assert.Equal(t, risk.LevelVeryLow, r.RiskLevel)
	assert.Less(t, r.DropoutProbability, 0.2)
}

func TestScore_Deterministic(t *testing.T) {
	v := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:     9.5,
		feature.KeyAbsenceRate:        12,
		feature.KeyBehaviorIncidents:  2,
		feature.KeySanctionsCount:     1,
		feature.KeySocialIntegration:  3,
		feature.KeyParticipationScore: 4,
	})

	first := Score(v)
	second := Score(v)

	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.Equal(t, first.RiskLevel, second.RiskLevel)
	assert.Equal(t, first.DropoutProbability, second.DropoutProbability)
	assert.Equal(t, first.RiskFactors, second.RiskFactors)
	assert.Equal(t, first.Recommendations, second.Recommendations)
}

func TestScore_SubScoresSaturate(t *testing.T) {
	v := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:      2,
		feature.KeyGradeTrend:          -5,
		feature.KeyFailedSubjects:      10,
		feature.KeyGradeVariance:       9,
		feature.KeyAbsenceRate:         60,
		feature.KeyUnjustifiedAbsence:  40,
		feature.KeyTardinessRate:       40,
		feature.KeyConsecutiveAbsences: 20,
		feature.KeyBehaviorIncidents:   20,
		feature.KeySanctionsCount:      10,
		feature.KeyParticipationScore:  0,
		feature.KeySocialIntegration:   0,
		feature.KeyFamilySituationRisk: 10,
		feature.KeyHasSupportAtHome:    0,
	})

	r := Score(v)

	assert.Equal(t, 100.0, r.AcademicRisk)
	assert.Equal(t, 100.0, r.AttendanceRisk)
	assert.Equal(t, 100.0, r.BehavioralRisk)
	assert.Equal(t, 100.0, r.SocialRisk)
	assert.Equal(t, 100.0, r.RiskScore)
	assert.LessOrEqual(t, r.DropoutProbability, 1.0)
}

func TestPredictedFinalAverage_Penalties(t *testing.T) {
	v := vectorWith(map[string]float64{
		feature.KeyCurrentAverage:     12,
		feature.KeyGradeTrend:         -0.5,
		feature.KeyHomeworkCompletion: 50,
		feature.KeyAbsenceRate:        20,
		feature.KeyBehaviorIncidents:  4,
	})

	r := Score(v)

	// 12 + 2*(-0.5) - 1 (homework) - 1.5 (absences) - 1 (incidents)
	assert.InDelta(t, 7.5, r.PredictedFinalAverage, 0.001)
}

func TestLevelOf_Boundaries(t *testing.T) {
	cases := []struct {
		score float64
		level risk.Level
	}{
		{0, risk.LevelVeryLow},
		{19.99, risk.LevelVeryLow},
		{20, risk.LevelLow},
		{40, risk.LevelModerate},
		{60, risk.LevelHigh},
		{79.99, risk.LevelHigh},
		{80, risk.LevelCritical},
		{100, risk.LevelCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, risk.LevelOf(tc.score), "score %.2f", tc.score)
	}
}
