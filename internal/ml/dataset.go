package ml

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// Training-set construction constants.
const (
	// MinSamples is the floor below which the collected set is topped up
	// with synthetic samples.
	MinSamples = 100

	// TrainingWindowDays is the feature window for labeled records.
	TrainingWindowDays = 180

	// lateWindowDays is the end-of-year window used by the absence criterion.
	lateWindowDays = 60

	// Dropout label criteria.
	labelAbsenceRateThreshold = 50.0
	labelFinalAverageFloor    = 6.0

	// Synthetic joint distribution.
	syntheticAtRiskShare   = 0.30
	syntheticAtRiskDropout = 0.70
	syntheticNormalDropout = 0.05
)

// Sample is one labeled training record.
type Sample struct {
	StudentID string
	Features  []float64 // canonical schema order
	Label     int       // 1 = dropped out
	Synthetic bool
}

// Collector builds the labeled dataset for a past academic year.
type Collector struct {
	extractor  *feature.Extractor
	enrollment feature.EnrollmentSource
	log        *logger.Logger
}

// NewCollector creates a dataset collector.
func NewCollector(extractor *feature.Extractor, enrollment feature.EnrollmentSource, log *logger.Logger) *Collector {
	return &Collector{extractor: extractor, enrollment: enrollment, log: log}
}

// Collect extracts one labeled sample per enrolled student of the year.
// The dropout label is the OR of three criteria: end-of-year absence rate
// above 50% over the last 60 days, final average below 6, or no active
// enrollment the subsequent year (checked only when that year exists).
func (c *Collector) Collect(ctx context.Context, year shared.AcademicYear) ([]Sample, error) {
	_, yearEnd, err := timeutil.AcademicYearBounds(year.String())
	if err != nil {
		return nil, shared.WrapError("model", "Collect", shared.ErrConfiguration, "invalid academic year", err)
	}

	students, err := c.enrollment.Enrolled(ctx, year)
	if err != nil {
		return nil, shared.WrapError("model", "Collect", shared.ErrTransient, "listing enrollments", err)
	}

	subsequentYear, _ := timeutil.NextAcademicYear(year.String())
	subsequentStart, _, _ := timeutil.AcademicYearBounds(subsequentYear)
	subsequentExists := !subsequentStart.IsZero() && time.Now().After(subsequentStart)

	samples := make([]Sample, 0, len(students))
	for _, studentID := range students {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vector, err := c.extractor.Extract(ctx, studentID, year, yearEnd, TrainingWindowDays)
		if err != nil {
			c.log.Warn("skipping student in training set",
				logger.StudentID(studentID), logger.Err(err))
			continue
		}

		label, err := c.label(ctx, studentID, year, yearEnd, vector, subsequentExists)
		if err != nil {
			c.log.Warn("labeling failed, skipping student",
				logger.StudentID(studentID), logger.Err(err))
			continue
		}
		samples = append(samples, Sample{
			StudentID: studentID,
			Features:  vector.Ordered(),
			Label:     label,
		})
	}
	return samples, nil
}

func (c *Collector) label(ctx context.Context, studentID string, year shared.AcademicYear, yearEnd time.Time, vector *feature.Vector, subsequentExists bool) (int, error) {
	// Criterion 1: end-of-year absence over the last 60 days.
	lateVector, err := c.extractor.Extract(ctx, studentID, year, yearEnd, lateWindowDays)
	if err != nil {
		return 0, err
	}
	if lateVector.Get(feature.KeyAbsenceRate) > labelAbsenceRateThreshold {
		return 1, nil
	}

	// Criterion 2: final computed average.
	if vector.Get(feature.KeyCurrentAverage) < labelFinalAverageFloor {
		return 1, nil
	}

	// Criterion 3: no active enrollment the subsequent year.
	if subsequentExists {
		subsequentYear, err := timeutil.NextAcademicYear(year.String())
		if err != nil {
			return 0, err
		}
		active, err := c.enrollment.Active(ctx, studentID, shared.AcademicYear(subsequentYear))
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return 0, err
		}
		if err == nil && !active {
			return 1, nil
		}
	}
	return 0, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Synthetic top-up
// ─────────────────────────────────────────────────────────────────────────────

// SyntheticTopUp appends synthetic samples until the set reaches minSamples.
// Generation is fully determined by the seed: 30% of synthetic students come
// from an "at-risk" mode labeled dropout with probability 0.7, the rest from
// a "normal" mode labeled with probability 0.05.
func SyntheticTopUp(samples []Sample, minSamples int, seed int64) []Sample {
	if minSamples <= 0 {
		minSamples = MinSamples
	}
	if len(samples) >= minSamples {
		return samples
	}
	rng := rand.New(rand.NewSource(seed))
	for len(samples) < minSamples {
		samples = append(samples, syntheticSample(rng))
	}
	return samples
}

func syntheticSample(rng *rand.Rand) Sample {
	atRisk := rng.Float64() < syntheticAtRiskShare

	dropoutProb := syntheticNormalDropout
	if atRisk {
		dropoutProb = syntheticAtRiskDropout
	}
	label := 0
	if rng.Float64() < dropoutProb {
		label = 1
	}

	keys := feature.Keys()
	features := make([]float64, len(keys))
	for j, key := range keys {
		features[j] = syntheticValue(key, atRisk, rng)
	}
	return Sample{
		StudentID: "",
		Features:  features,
		Label:     label,
		Synthetic: true,
	}
}

// syntheticValue draws one feature from its per-mode realistic range.
func syntheticValue(key string, atRisk bool, rng *rand.Rand) float64 {
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	if atRisk {
		switch key {
		case feature.KeyAverageGrade, feature.KeyCurrentAverage:
			return uniform(4, 9)
		case feature.KeyGradeVariance:
			return uniform(2, 6)
		case feature.KeyGradeTrend:
			return uniform(-3.5, 0)
		case feature.KeyFailedSubjects:
			return float64(rng.Intn(5) + 2)
		case feature.KeyAbsenceRate:
			return uniform(15, 50)
		case feature.KeyUnjustifiedAbsence:
			return uniform(10, 30)
		case feature.KeyTardinessRate:
			return uniform(5, 15)
		case feature.KeyConsecutiveAbsences:
			return float64(rng.Intn(10) + 3)
		case feature.KeyBehaviorIncidents:
			return float64(rng.Intn(7) + 2)
		case feature.KeySanctionsCount:
			return float64(rng.Intn(5) + 1)
		case feature.KeyPositiveBehaviors:
			return float64(rng.Intn(3))
		case feature.KeyParticipationScore:
			return uniform(0, 4)
		case feature.KeyHomeworkCompletion:
			return uniform(20, 60)
		case feature.KeyLateHomeworkRate:
			return uniform(20, 50)
		case feature.KeyAverageStudyTime:
			return uniform(0, 30)
		case feature.KeySocialIntegration:
			return uniform(0, 4)
		case feature.KeyExtracurricular:
			return float64(rng.Intn(2))
		case feature.KeyAge:
			return float64(rng.Intn(5) + 14)
		case feature.KeyFamilySituationRisk:
			return float64(rng.Intn(4))
		case feature.KeyHasSupportAtHome:
			if rng.Float64() < 0.5 {
				return 1
			}
			return 0
		case feature.KeyMonthsInSchool:
			return float64(rng.Intn(60) + 1)
		}
	} else {
		switch key {
		case feature.KeyAverageGrade, feature.KeyCurrentAverage:
			return uniform(10, 16)
		case feature.KeyGradeVariance:
			return uniform(0, 3)
		case feature.KeyGradeTrend:
			return uniform(-0.5, 1.5)
		case feature.KeyFailedSubjects:
			return float64(rng.Intn(2))
		case feature.KeyAbsenceRate:
			return uniform(0, 8)
		case feature.KeyUnjustifiedAbsence:
			return uniform(0, 3)
		case feature.KeyTardinessRate:
			return uniform(0, 5)
		case feature.KeyConsecutiveAbsences:
			return float64(rng.Intn(3))
		case feature.KeyBehaviorIncidents:
			return float64(rng.Intn(2))
		case feature.KeySanctionsCount:
			return 0
		case feature.KeyPositiveBehaviors:
			return float64(rng.Intn(6) + 1)
		case feature.KeyParticipationScore:
			return uniform(5, 10)
		case feature.KeyHomeworkCompletion:
			return uniform(75, 100)
		case feature.KeyLateHomeworkRate:
			return uniform(0, 15)
		case feature.KeyAverageStudyTime:
			return uniform(20, 90)
		case feature.KeySocialIntegration:
			return uniform(4, 10)
		case feature.KeyExtracurricular:
			return float64(rng.Intn(4))
		case feature.KeyAge:
			return float64(rng.Intn(5) + 14)
		case feature.KeyFamilySituationRisk:
			return float64(rng.Intn(3))
		case feature.KeyHasSupportAtHome:
			if rng.Float64() < 0.9 {
				return 1
			}
			return 0
		case feature.KeyMonthsInSchool:
			return float64(rng.Intn(75) + 6)
		}
	}
	def, _ := feature.DefaultOf(key)
	return def
}
