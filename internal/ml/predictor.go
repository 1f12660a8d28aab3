package ml

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

// Prediction is the model's output for one feature vector.
type Prediction struct {
	DropoutProbability float64
	RiskLevelPredicted risk.Level
	MainRiskFactors    []risk.Factor // at most 5
	Recommendations    []string      // at most 3
	ModelVersion       string
	Degraded           bool // cold-start model served the prediction
}

const (
	maxMainFactors     = 5
	maxRecommendations = 3
)

// Predictor serves predictions from the published artifact, loading it
// lazily and caching it until a reload signal. When no artifact exists, a
// deterministic cold-start model serves with a degraded flag.
type Predictor struct {
	modelDir string
	log      *logger.Logger

	mu        sync.RWMutex
	artifact  *Artifact
	coldStart bool
}

// NewPredictor creates a predictor over the artifact directory.
func NewPredictor(modelDir string, log *logger.Logger) *Predictor {
	return &Predictor{modelDir: modelDir, log: log}
}

// Predict scores one feature vector. Vectors from a different schema version
// than the loaded artifact are refused.
func (p *Predictor) Predict(v *feature.Vector) (*Prediction, error) {
	if v.SchemaVersion != feature.SchemaVersion {
		return nil, shared.ErrSchemaMismatch
	}

	artifact, degraded, err := p.current()
	if err != nil {
		return nil, err
	}

	row, err := artifact.Scaler.TransformOne(v.Ordered())
	if err != nil {
		return nil, err
	}
	prob, err := artifact.Forest.PredictProb(row)
	if err != nil {
		return nil, err
	}

	return &Prediction{
		DropoutProbability: prob,
		RiskLevelPredicted: risk.LevelFromProbability(prob),
		MainRiskFactors:    mainFactors(v, artifact),
		Recommendations:    modelRecommendations(prob),
		ModelVersion:       artifact.Version,
		Degraded:           degraded,
	}, nil
}

// Version returns the version of the currently loaded artifact, or empty
// when nothing is loaded yet.
func (p *Predictor) Version() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.artifact == nil {
		return ""
	}
	return p.artifact.Version
}

// Reload drops the cached artifact so the next prediction reloads from disk.
// Called when a version-change signal is observed after publishing.
func (p *Predictor) Reload() {
	p.mu.Lock()
	p.artifact = nil
	p.coldStart = false
	p.mu.Unlock()
}

// current returns the cached artifact, loading it on first use.
func (p *Predictor) current() (*Artifact, bool, error) {
	p.mu.RLock()
	if p.artifact != nil {
		artifact, cold := p.artifact, p.coldStart
		p.mu.RUnlock()
		return artifact, cold, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.artifact != nil {
		return p.artifact, p.coldStart, nil
	}

	artifact, err := LoadArtifact(p.modelDir)
	switch {
	case err == nil:
		p.artifact = artifact
		p.coldStart = false
		p.log.Info("model artifact loaded",
			logger.ModelVersion(artifact.Version),
			logger.Float64("f1", artifact.Metrics.F1))
	case errors.Is(err, shared.ErrArtifactMissing):
		artifact, err = ColdStartArtifact()
		if err != nil {
			return nil, false, err
		}
		p.artifact = artifact
		p.coldStart = true
		p.log.Warn("no model artifact found, serving cold-start model",
			logger.ModelVersion(artifact.Version))
	default:
		return nil, false, err
	}
	return p.artifact, p.coldStart, nil
}

// mainFactors picks the most important features, by trained importance, that
// read adversely for this student. At most five are reported.
func mainFactors(v *feature.Vector, artifact *Artifact) []risk.Factor {
	importances := artifact.Forest.FeatureImportances()

	type ranked struct {
		key        string
		importance float64
		value      float64
	}
	var candidates []ranked
	for i, key := range artifact.Manifest.Features {
		value := v.Get(key)
		if !adverse(key, value) {
			continue
		}
		candidates = append(candidates, ranked{key: key, importance: importances[i], value: value})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].importance != candidates[j].importance {
			return candidates[i].importance > candidates[j].importance
		}
		return candidates[i].key < candidates[j].key
	})
	if len(candidates) > maxMainFactors {
		candidates = candidates[:maxMainFactors]
	}

	factors := make([]risk.Factor, 0, len(candidates))
	for _, c := range candidates {
		factors = append(factors, risk.Factor{
			Name:        c.key,
			Description: fmt.Sprintf("Facteur défavorable: %s = %.1f", c.key, c.value),
			Severity:    risk.SeverityMedium,
			Value:       c.value,
		})
	}
	return factors
}

// adverse reports whether a feature value reads as a risk signal.
func adverse(key string, value float64) bool {
	switch key {
	case feature.KeyCurrentAverage, feature.KeyAverageGrade:
		return value < 10
	case feature.KeyGradeTrend:
		return value < -1
	case feature.KeyFailedSubjects:
		return value >= 2
	case feature.KeyGradeVariance:
		return value > 4
	case feature.KeyAbsenceRate:
		return value > 10
	case feature.KeyUnjustifiedAbsence:
		return value > 5
	case feature.KeyTardinessRate:
		return value > 10
	case feature.KeyConsecutiveAbsences:
		return value > 3
	case feature.KeyBehaviorIncidents:
		return value > 2
	case feature.KeySanctionsCount:
		return value > 1
	case feature.KeyParticipationScore:
		return value < 5
	case feature.KeyHomeworkCompletion:
		return value < 60
	case feature.KeyLateHomeworkRate:
		return value > 30
	case feature.KeySocialIntegration:
		return value < 4
	case feature.KeyFamilySituationRisk:
		return value >= 2
	case feature.KeyHasSupportAtHome:
		return value == 0
	default:
		return false
	}
}

// modelRecommendations derives up to three prescriptions from the predicted
// probability band.
func modelRecommendations(prob float64) []string {
	switch {
	case prob >= 0.8:
		return []string{
			"Convocation urgente de l'équipe éducative",
			"Mettre en place un plan d'intervention immédiat",
			"Informer la famille de la situation",
		}
	case prob >= 0.6:
		return []string{
			"Établir un plan d'intervention personnalisé",
			"Renforcer le suivi hebdomadaire",
		}
	case prob >= 0.4:
		return []string{
			"Mettre en place un suivi régulier",
			"Surveiller l'évolution de l'assiduité et des résultats",
		}
	case prob >= 0.2:
		return []string{"Maintenir une vigilance accrue"}
	default:
		return nil
	}
}
