package feature

import (
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// Vector is an ordered mapping from feature key to numeric value, produced
// under one schema version over one extraction window.
type Vector struct {
	SchemaVersion string             `json:"schema_version"`
	StudentID     string             `json:"student_id"`
	AcademicYear  string             `json:"academic_year"`
	Window        timeutil.Window    `json:"window"`
	Values        map[string]float64 `json:"values"`

	// Degraded maps a source name to true when the adapter failed and the
	// source's features fell back to defaults.
	Degraded map[string]bool `json:"source_degraded,omitempty"`

	// Flags carries documented edge-case annotations, e.g. homework_no_data
	// when the 100% completion rate comes from zero assigned homework, and
	// record_missing when family_situation_risk=0 means "no record" rather
	// than "no risk".
	Flags map[string]bool `json:"flags,omitempty"`
}

// Edge-case flag names.
const (
	FlagHomeworkNoData = "homework_no_data"
	FlagRecordMissing  = "record_missing"
)

// NewVector builds a vector pre-filled with schema defaults.
func NewVector(studentID string, year shared.AcademicYear, window timeutil.Window) *Vector {
	values := make(map[string]float64, len(schemaV1))
	for _, d := range schemaV1 {
		values[d.Key] = d.Default
	}
	return &Vector{
		SchemaVersion: SchemaVersion,
		StudentID:     studentID,
		AcademicYear:  year.String(),
		Window:        window,
		Values:        values,
	}
}

// Get returns the value of a feature key, falling back to the schema default.
func (v *Vector) Get(key string) float64 {
	if val, ok := v.Values[key]; ok {
		return val
	}
	def, _ := DefaultOf(key)
	return def
}

// Set stores a feature value. Unknown keys are ignored to keep the vector
// closed over the schema.
func (v *Vector) Set(key string, value float64) {
	if !IsKnownKey(key) {
		return
	}
	v.Values[key] = value
}

// MarkDegraded records that a source failed and its features are defaults.
func (v *Vector) MarkDegraded(source string) {
	if v.Degraded == nil {
		v.Degraded = make(map[string]bool)
	}
	v.Degraded[source] = true
}

// IsDegraded reports whether any source was degraded.
func (v *Vector) IsDegraded() bool {
	return len(v.Degraded) > 0
}

// SetFlag records an edge-case annotation.
func (v *Vector) SetFlag(name string) {
	if v.Flags == nil {
		v.Flags = make(map[string]bool)
	}
	v.Flags[name] = true
}

// Ordered returns the values in canonical schema order, for model input.
func (v *Vector) Ordered() []float64 {
	out := make([]float64, len(schemaV1))
	for i, d := range schemaV1 {
		out[i] = v.Get(d.Key)
	}
	return out
}

// AsIndicators returns the vector contents as the profile indicator map:
// every schema key plus the degradation and flag metadata.
func (v *Vector) AsIndicators() map[string]interface{} {
	out := make(map[string]interface{}, len(v.Values)+2)
	for _, d := range schemaV1 {
		out[d.Key] = v.Get(d.Key)
	}
	if len(v.Degraded) > 0 {
		out["source_degraded"] = v.Degraded
	}
	if len(v.Flags) > 0 {
		out["flags"] = v.Flags
	}
	return out
}
