// Package scoring computes per-dimension and composite risk scores from a
// feature vector. Scoring is a pure function: same vector, same result.
package scoring

import (
	"math"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
)

// Composite weights over the four sub-dimensions.
const (
	weightAcademic   = 0.35
	weightAttendance = 0.25
	weightBehavioral = 0.20
	weightSocial     = 0.20
)

// Result is the full output of one scoring pass.
type Result struct {
	AcademicRisk   float64
	AttendanceRisk float64
	BehavioralRisk float64
	SocialRisk     float64
	RiskScore      float64
	RiskLevel      risk.Level

	// DropoutProbability is the heuristic estimate used when the trained
	// model is unavailable; the predictor overrides it when it can serve.
	DropoutProbability    float64
	PredictedFinalAverage float64

	RiskFactors     []risk.Factor
	Recommendations []string
	PriorityActions []string
}

// Score computes the scoring result for one feature vector.
func Score(v *feature.Vector) Result {
	academic := academicRisk(v)
	attendance := attendanceRisk(v)
	behavioral := behavioralRisk(v)
	social := socialRisk(v)

	composite := clamp(
		weightAcademic*academic+
			weightAttendance*attendance+
			weightBehavioral*behavioral+
			weightSocial*social,
		0, 100)

	r := Result{
		AcademicRisk:          academic,
		AttendanceRisk:        attendance,
		BehavioralRisk:        behavioral,
		SocialRisk:            social,
		RiskScore:             composite,
		RiskLevel:             risk.LevelOf(composite),
		DropoutProbability:    dropoutHeuristic(v, composite),
		PredictedFinalAverage: predictedFinalAverage(v),
	}
	r.RiskFactors = riskFactors(v)
	r.Recommendations, r.PriorityActions = recommendations(v, r)
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// Sub-scores. Additive contributions saturating at 100.
// ─────────────────────────────────────────────────────────────────────────────

func academicRisk(v *feature.Vector) float64 {
	score := 0.0

	switch avg := v.Get(feature.KeyCurrentAverage); {
	case avg < 8:
		score += 30
	case avg < 10:
		score += 20
	case avg < 12:
		score += 10
	}

	switch trend := v.Get(feature.KeyGradeTrend); {
	case trend < -2:
		score += 25
	case trend < -1:
		score += 15
	case trend < 0:
		score += 5
	}

	score += v.Get(feature.KeyFailedSubjects) * 5

	if v.Get(feature.KeyGradeVariance) > 4 {
		score += 10
	}

	return clamp(score, 0, 100)
}

func attendanceRisk(v *feature.Vector) float64 {
	score := 0.0

	switch rate := v.Get(feature.KeyAbsenceRate); {
	case rate > 20:
		score += 40
	case rate > 15:
		score += 30
	case rate > 10:
		score += 20
	case rate > 5:
		score += 10
	}

	score += v.Get(feature.KeyUnjustifiedAbsence) * 2
	score += v.Get(feature.KeyTardinessRate) * 1.5

	switch consecutive := v.Get(feature.KeyConsecutiveAbsences); {
	case consecutive > 5:
		score += 20
	case consecutive > 3:
		score += 10
	}

	return clamp(score, 0, 100)
}

func behavioralRisk(v *feature.Vector) float64 {
	score := 0.0

	score += v.Get(feature.KeyBehaviorIncidents) * 8
	score += v.Get(feature.KeySanctionsCount) * 12

	switch participation := v.Get(feature.KeyParticipationScore); {
	case participation < 3:
		score += 25
	case participation < 5:
		score += 15
	case participation < 7:
		score += 5
	}

	return clamp(score, 0, 100)
}

func socialRisk(v *feature.Vector) float64 {
	score := 0.0

	switch integration := v.Get(feature.KeySocialIntegration); {
	case integration < 2:
		score += 30
	case integration < 4:
		score += 20
	case integration < 6:
		score += 10
	}

	score += v.Get(feature.KeyFamilySituationRisk) * 8

	if v.Get(feature.KeyHasSupportAtHome) == 0 {
		score += 15
	}
	if v.Get(feature.KeyExtracurricular) == 0 {
		score += 10
	}

	return clamp(score, 0, 100)
}

// ─────────────────────────────────────────────────────────────────────────────
// Derived predictions
// ─────────────────────────────────────────────────────────────────────────────

// dropoutHeuristic estimates dropout probability without the trained model.
func dropoutHeuristic(v *feature.Vector, riskScore float64) float64 {
	p := riskScore / 100 * 0.3

	if v.Get(feature.KeyConsecutiveAbsences) > 7 {
		p += 0.2
	}
	if v.Get(feature.KeyCurrentAverage) < 8 {
		p += 0.15
	}
	if v.Get(feature.KeySanctionsCount) > 2 {
		p += 0.1
	}
	if v.Get(feature.KeySocialIntegration) > 7 {
		p -= 0.05
	}
	if v.Get(feature.KeyHasSupportAtHome) != 0 {
		p -= 0.1
	}
	return clamp(p, 0, 1)
}

// predictedFinalAverage projects the end-of-year average on /20.
func predictedFinalAverage(v *feature.Vector) float64 {
	predicted := v.Get(feature.KeyCurrentAverage) + 2*v.Get(feature.KeyGradeTrend)

	if v.Get(feature.KeyHomeworkCompletion) < 70 {
		predicted -= 1
	}
	if v.Get(feature.KeyAbsenceRate) > 15 {
		predicted -= 1.5
	}
	if v.Get(feature.KeyBehaviorIncidents) > 3 {
		predicted -= 1
	}
	return clamp(predicted, 0, 20)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
