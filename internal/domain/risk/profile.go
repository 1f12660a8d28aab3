// Package risk contains the core domain model of the student risk analytics
// pipeline: risk profiles, levels, factors, pattern markers and configured
// indicators. This is pure business logic with no external dependencies.
package risk

import (
	"fmt"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Level is the categorical risk level derived from the composite score.
type Level string

const (
	LevelVeryLow  Level = "very_low"
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// levelOrder is the ascending severity ordering used for threshold comparisons.
var levelOrder = []Level{LevelVeryLow, LevelLow, LevelModerate, LevelHigh, LevelCritical}

// IsValid reports whether the level is one of the known values.
func (l Level) IsValid() bool {
	return l.Index() >= 0
}

// Index returns the position of the level in ascending severity order,
// or -1 for an unknown level.
func (l Level) Index() int {
	for i, v := range levelOrder {
		if v == l {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is at least as severe as other.
func (l Level) AtLeast(other Level) bool {
	return l.Index() >= other.Index()
}

// String returns the string representation of the level.
func (l Level) String() string { return string(l) }

// LevelOf maps a composite risk score in [0,100] to its categorical level.
// Thresholds are inclusive: >=80 critical, >=60 high, >=40 moderate, >=20 low.
func LevelOf(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelModerate
	case score >= 20:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// LevelFromProbability maps a dropout probability in [0,1] to a predicted level.
func LevelFromProbability(p float64) Level {
	switch {
	case p >= 0.8:
		return LevelCritical
	case p >= 0.6:
		return LevelHigh
	case p >= 0.4:
		return LevelModerate
	case p >= 0.2:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// Severity qualifies a risk factor or a detected pattern.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether the severity is one of the known values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Factor is a named contributor to the composite risk, kept on the profile
// so staff can see what drives the score.
type Factor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Value       float64  `json:"value"`
}

// PatternMarker is the evidence-bearing output of a temporal pattern detector.
// Markers are folded into the profile's indicator map under the "patterns" key.
type PatternMarker struct {
	Name        string    `json:"name"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Evidence    []string  `json:"evidence"`
	DetectedAt  time.Time `json:"detected_at"`
}

// IndicatorsPatternKey is the subtree of Profile.Indicators holding markers.
const IndicatorsPatternKey = "patterns"

// ══════════════════════════════════════════════════════════════════════════════
// RISK PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile is the per-(student, academic year) aggregate carrying scores,
// factors, indicators and monitoring state. It is created on the first
// analysis request (or by the enrollment backfill) and never deleted while
// the academic year is referenced.
type Profile struct {
	ID           string
	TenantID     shared.TenantID
	StudentID    string
	AcademicYear shared.AcademicYear

	// Composite score in [0,100] and its categorical level.
	RiskScore float64
	RiskLevel Level

	// Sub-dimension scores, each in [0,100].
	AcademicRisk   float64
	AttendanceRisk float64
	BehavioralRisk float64
	SocialRisk     float64

	// Model outputs.
	DropoutProbability    float64
	PredictedFinalAverage *float64 // [0,20], nil until first scoring

	RiskFactors     []Factor
	Indicators      map[string]interface{}
	Recommendations []string
	PriorityActions []string

	// Monitoring state.
	IsMonitored       bool
	MonitoringStarted *time.Time
	AssignedTo        *string

	LastAnalysis    *time.Time
	AnalysisVersion int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProfile creates a bare profile with zeroed scores for lazy creation.
func NewProfile(id string, tenant shared.TenantID, studentID string, year shared.AcademicYear) *Profile {
	now := time.Now().UTC()
	return &Profile{
		ID:           id,
		TenantID:     tenant,
		StudentID:    studentID,
		AcademicYear: year,
		RiskLevel:    LevelVeryLow,
		Indicators:   make(map[string]interface{}),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks the profile invariants before a store write.
func (p *Profile) Validate() error {
	for name, v := range map[string]float64{
		"risk_score":      p.RiskScore,
		"academic_risk":   p.AcademicRisk,
		"attendance_risk": p.AttendanceRisk,
		"behavioral_risk": p.BehavioralRisk,
		"social_risk":     p.SocialRisk,
	} {
		if v < 0 || v > 100 {
			return shared.WrapError("risk", "Validate", shared.ErrValidation,
				fmt.Sprintf("%s outside [0,100]: %.2f", name, v), nil)
		}
	}
	if p.DropoutProbability < 0 || p.DropoutProbability > 1 {
		return shared.WrapError("risk", "Validate", shared.ErrValidation,
			fmt.Sprintf("dropout_probability outside [0,1]: %.3f", p.DropoutProbability), nil)
	}
	if p.PredictedFinalAverage != nil && (*p.PredictedFinalAverage < 0 || *p.PredictedFinalAverage > 20) {
		return shared.WrapError("risk", "Validate", shared.ErrValidation,
			fmt.Sprintf("predicted_final_average outside [0,20]: %.2f", *p.PredictedFinalAverage), nil)
	}
	if got := LevelOf(p.RiskScore); p.RiskLevel != got {
		return shared.WrapError("risk", "Validate", shared.ErrValidation,
			fmt.Sprintf("risk_level %s does not match score %.2f (expected %s)", p.RiskLevel, p.RiskScore, got), nil)
	}
	return nil
}

// ScoringUpdate carries everything a scoring + prediction pass writes to a
// profile. C5 applies it as one atomic write.
type ScoringUpdate struct {
	RiskScore             float64
	AcademicRisk          float64
	AttendanceRisk        float64
	BehavioralRisk        float64
	SocialRisk            float64
	DropoutProbability    float64
	PredictedFinalAverage *float64
	RiskFactors           []Factor
	Indicators            map[string]interface{}
	Recommendations       []string
	PriorityActions       []string
	AnalysisVersion       int
}

// Apply mutates the profile with the scoring results. Pattern markers already
// present in the indicator map survive the update; feature keys are replaced.
func (p *Profile) Apply(u ScoringUpdate) {
	p.RiskScore = u.RiskScore
	p.RiskLevel = LevelOf(u.RiskScore)
	p.AcademicRisk = u.AcademicRisk
	p.AttendanceRisk = u.AttendanceRisk
	p.BehavioralRisk = u.BehavioralRisk
	p.SocialRisk = u.SocialRisk
	p.DropoutProbability = u.DropoutProbability
	p.PredictedFinalAverage = u.PredictedFinalAverage
	p.RiskFactors = u.RiskFactors
	p.Recommendations = u.Recommendations
	p.PriorityActions = u.PriorityActions

	if p.Indicators == nil {
		p.Indicators = make(map[string]interface{})
	}
	patterns := p.Indicators[IndicatorsPatternKey]
	for k, v := range u.Indicators {
		p.Indicators[k] = v
	}
	if patterns != nil {
		p.Indicators[IndicatorsPatternKey] = patterns
	}

	now := time.Now().UTC()
	p.LastAnalysis = &now
	p.AnalysisVersion = u.AnalysisVersion
	p.UpdatedAt = now
}

// MergePatterns folds detected markers into the indicator pattern subtree,
// replacing any previous marker of the same name.
func (p *Profile) MergePatterns(markers []PatternMarker) {
	if len(markers) == 0 {
		return
	}
	if p.Indicators == nil {
		p.Indicators = make(map[string]interface{})
	}
	existing, _ := p.Indicators[IndicatorsPatternKey].(map[string]PatternMarker)
	if existing == nil {
		existing = make(map[string]PatternMarker)
	}
	for _, m := range markers {
		existing[m.Name] = m
	}
	p.Indicators[IndicatorsPatternKey] = existing
	p.UpdatedAt = time.Now().UTC()
}

// StartMonitoring flags the profile as monitored.
func (p *Profile) StartMonitoring(assignee *string) {
	if p.IsMonitored {
		return
	}
	now := time.Now().UTC()
	p.IsMonitored = true
	p.MonitoringStarted = &now
	p.AssignedTo = assignee
	p.UpdatedAt = now
}

// StopMonitoring clears the monitoring state.
func (p *Profile) StopMonitoring() {
	p.IsMonitored = false
	p.MonitoringStarted = nil
	p.AssignedTo = nil
	p.UpdatedAt = time.Now().UTC()
}
