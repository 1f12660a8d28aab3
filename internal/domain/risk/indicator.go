package risk

import (
	"fmt"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURED INDICATORS
// ══════════════════════════════════════════════════════════════════════════════

// IndicatorType names the feature an indicator watches. The closed set maps
// directly onto extracted features; TypeCustom carries a sandboxed expression.
type IndicatorType string

const (
	IndicatorAverage       IndicatorType = "average"
	IndicatorAbsenceRate   IndicatorType = "absence_rate"
	IndicatorHomeworkRate  IndicatorType = "homework_completion_rate"
	IndicatorBehavior      IndicatorType = "behavior_incidents"
	IndicatorGradeTrend    IndicatorType = "grade_trend"
	IndicatorParticipation IndicatorType = "participation_score"
	IndicatorCustom        IndicatorType = "custom"
)

// FeatureKey returns the feature vector key the indicator reads, or empty for
// a custom indicator which evaluates an expression over the whole vector.
func (t IndicatorType) FeatureKey() string {
	switch t {
	case IndicatorAverage:
		return "current_average"
	case IndicatorAbsenceRate:
		return "absence_rate"
	case IndicatorHomeworkRate:
		return "homework_completion_rate"
	case IndicatorBehavior:
		return "behavior_incidents"
	case IndicatorGradeTrend:
		return "grade_trend"
	case IndicatorParticipation:
		return "participation_score"
	default:
		return ""
	}
}

// IsValid reports whether the indicator type is known.
func (t IndicatorType) IsValid() bool {
	switch t {
	case IndicatorAverage, IndicatorAbsenceRate, IndicatorHomeworkRate,
		IndicatorBehavior, IndicatorGradeTrend, IndicatorParticipation, IndicatorCustom:
		return true
	default:
		return false
	}
}

// Operator is a threshold comparison operator.
type Operator string

const (
	OpGT  Operator = ">"
	OpGTE Operator = ">="
	OpLT  Operator = "<"
	OpLTE Operator = "<="
	OpEQ  Operator = "="
)

// Apply evaluates `value op threshold`. Equality uses a small epsilon because
// extracted features are floats.
func (o Operator) Apply(value, threshold float64) (bool, error) {
	switch o {
	case OpGT:
		return value > threshold, nil
	case OpGTE:
		return value >= threshold, nil
	case OpLT:
		return value < threshold, nil
	case OpLTE:
		return value <= threshold, nil
	case OpEQ:
		diff := value - threshold
		if diff < 0 {
			diff = -diff
		}
		return diff < 1e-9, nil
	default:
		return false, shared.WrapError("risk", "Apply", shared.ErrConfiguration,
			fmt.Sprintf("unknown operator %q", o), nil)
	}
}

// Indicator is a school-configured trigger evaluated against each fresh
// feature vector. Triggered indicators land in the profile indicator map and
// feed the alert engine's indicator conditions.
type Indicator struct {
	ID       string
	TenantID shared.TenantID
	Name     string
	Type     IndicatorType

	Threshold float64
	Operator  Operator
	Weight    float64 // [0,10], scales the indicator's contribution

	// Expression is set only for TypeCustom. It is evaluated in a sandbox
	// restricted to arithmetic and comparisons over whitelisted feature names.
	Expression string

	// ApplicableLevels restricts evaluation to profiles at these levels.
	// Empty means all levels.
	ApplicableLevels []Level

	Active           bool
	FlaggedForReview bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks indicator configuration invariants.
func (i *Indicator) Validate() error {
	if !i.Type.IsValid() {
		return shared.ErrUnknownIndicator
	}
	if i.Weight < 0 || i.Weight > 10 {
		return shared.WrapError("risk", "Validate", shared.ErrValidation,
			fmt.Sprintf("indicator weight outside [0,10]: %.2f", i.Weight), nil)
	}
	if i.Type == IndicatorCustom && i.Expression == "" {
		return shared.WrapError("risk", "Validate", shared.ErrConfiguration,
			"custom indicator requires an expression", nil)
	}
	if i.Type != IndicatorCustom {
		if _, err := i.Operator.Apply(0, 0); err != nil {
			return err
		}
	}
	for _, l := range i.ApplicableLevels {
		if !l.IsValid() {
			return shared.WrapError("risk", "Validate", shared.ErrValidation,
				fmt.Sprintf("unknown risk level %q in applicable_levels", l), nil)
		}
	}
	return nil
}

// AppliesTo reports whether the indicator should be evaluated for a profile
// currently at the given level.
func (i *Indicator) AppliesTo(level Level) bool {
	if !i.Active {
		return false
	}
	if len(i.ApplicableLevels) == 0 {
		return true
	}
	for _, l := range i.ApplicableLevels {
		if l == level {
			return true
		}
	}
	return false
}

// TriggeredIndicator records one indicator firing during an analysis pass.
type TriggeredIndicator struct {
	IndicatorID string    `json:"indicator_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	Weight      float64   `json:"weight"`
	TriggeredAt time.Time `json:"triggered_at"`
}
