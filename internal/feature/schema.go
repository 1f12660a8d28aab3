// Package feature implements windowed feature extraction for one student:
// the declared feature schema, the typed source adapter ports, and the
// extractor that turns raw domain records into a FeatureVector.
package feature

// SchemaVersion identifies the active feature schema. Model artifacts record
// the version they were trained under; mixing versions is refused.
const SchemaVersion = "v1"

// Category groups features for sub-score computation and reporting.
type Category string

const (
	CategoryAcademic    Category = "academic"
	CategoryAttendance  Category = "attendance"
	CategoryBehavioral  Category = "behavioral"
	CategoryEngagement  Category = "engagement"
	CategorySocial      Category = "social"
	CategoryDemographic Category = "demographic"
)

// Definition declares one feature: its key, category and the default used
// when the producing source is unavailable.
type Definition struct {
	Key      string
	Category Category
	Default  float64
}

// Feature keys of schema v1. Order here is the canonical vector order.
const (
	KeyAverageGrade          = "average_grade"
	KeyGradeVariance         = "grade_variance"
	KeyGradeTrend            = "grade_trend"
	KeyFailedSubjects        = "failed_subjects"
	KeyCurrentAverage        = "current_average"
	KeyAbsenceRate           = "absence_rate"
	KeyUnjustifiedAbsence    = "unjustified_absence_rate"
	KeyTardinessRate         = "tardiness_rate"
	KeyConsecutiveAbsences   = "consecutive_absences"
	KeyBehaviorIncidents     = "behavior_incidents"
	KeySanctionsCount        = "sanctions_count"
	KeyPositiveBehaviors     = "positive_behaviors"
	KeyParticipationScore    = "participation_score"
	KeyHomeworkCompletion    = "homework_completion_rate"
	KeyLateHomeworkRate      = "late_homework_rate"
	KeyAverageStudyTime      = "average_study_time"
	KeySocialIntegration     = "social_integration_score"
	KeyExtracurricular       = "extracurricular_activities"
	KeyAge                   = "age"
	KeyFamilySituationRisk   = "family_situation_risk"
	KeyHasSupportAtHome      = "has_support_at_home"
	KeyMonthsInSchool        = "months_in_school"
)

// schemaV1 is the declared schema in canonical order. Defaults encode the
// "neutral student" used when a source is degraded: average of 10/20, no
// absences, neutral participation, support at home assumed.
var schemaV1 = []Definition{
	{KeyAverageGrade, CategoryAcademic, 10},
	{KeyGradeVariance, CategoryAcademic, 0},
	{KeyGradeTrend, CategoryAcademic, 0},
	{KeyFailedSubjects, CategoryAcademic, 0},
	{KeyCurrentAverage, CategoryAcademic, 10},
	{KeyAbsenceRate, CategoryAttendance, 0},
	{KeyUnjustifiedAbsence, CategoryAttendance, 0},
	{KeyTardinessRate, CategoryAttendance, 0},
	{KeyConsecutiveAbsences, CategoryAttendance, 0},
	{KeyBehaviorIncidents, CategoryBehavioral, 0},
	{KeySanctionsCount, CategoryBehavioral, 0},
	{KeyPositiveBehaviors, CategoryBehavioral, 0},
	{KeyParticipationScore, CategoryBehavioral, 5},
	{KeyHomeworkCompletion, CategoryEngagement, 100},
	{KeyLateHomeworkRate, CategoryEngagement, 0},
	{KeyAverageStudyTime, CategoryEngagement, 0},
	{KeySocialIntegration, CategorySocial, 5},
	{KeyExtracurricular, CategorySocial, 0},
	{KeyAge, CategoryDemographic, 15},
	{KeyFamilySituationRisk, CategoryDemographic, 0},
	{KeyHasSupportAtHome, CategoryDemographic, 1},
	{KeyMonthsInSchool, CategoryDemographic, 0},
}

// Schema returns the declared feature definitions in canonical order.
func Schema() []Definition {
	out := make([]Definition, len(schemaV1))
	copy(out, schemaV1)
	return out
}

// Keys returns the feature keys in canonical order.
func Keys() []string {
	keys := make([]string, len(schemaV1))
	for i, d := range schemaV1 {
		keys[i] = d.Key
	}
	return keys
}

// DefaultOf returns the documented default for a feature key.
// The second return value is false for unknown keys.
func DefaultOf(key string) (float64, bool) {
	for _, d := range schemaV1 {
		if d.Key == key {
			return d.Default, true
		}
	}
	return 0, false
}

// IsKnownKey reports whether the key belongs to the active schema.
func IsKnownKey(key string) bool {
	_, ok := DefaultOf(key)
	return ok
}

// KeysByCategory returns the feature keys of one category, in schema order.
func KeysByCategory(c Category) []string {
	var keys []string
	for _, d := range schemaV1 {
		if d.Category == c {
			keys = append(keys, d.Key)
		}
	}
	return keys
}
