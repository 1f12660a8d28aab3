package ml

import (
	"math/rand"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// Forest hyperparameters. Stable across training runs so that retraining on
// identical data reproduces the same model.
const (
	DefaultNumTrees       = 60
	DefaultMaxDepth       = 8
	DefaultMinSamplesLeaf = 3
	DefaultSeed           = 42
)

// RandomForest is a bagged ensemble of axis-aligned decision trees with
// aggregated per-feature importances.
type RandomForest struct {
	Trees       []*decisionTree `json:"trees"`
	NumFeatures int             `json:"num_features"`
	Importances []float64       `json:"importances"`
	Seed        int64           `json:"seed"`
}

// TrainForest fits a forest on standardized rows X with binary labels y.
// Training is fully determined by the seed: bootstrap sampling and per-split
// feature subsets all draw from one seeded generator.
func TrainForest(X [][]float64, y []int, seed int64) (*RandomForest, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, shared.WrapError("model", "Train", shared.ErrInvalidInput,
			"training rows and labels must be non-empty and aligned", nil)
	}
	numFeatures := len(X[0])
	rng := rand.New(rand.NewSource(seed))

	cfg := treeConfig{
		maxDepth:       DefaultMaxDepth,
		minSamplesLeaf: DefaultMinSamplesLeaf,
		featureSubset:  sqrtSubset(numFeatures),
	}

	forest := &RandomForest{
		Trees:       make([]*decisionTree, 0, DefaultNumTrees),
		NumFeatures: numFeatures,
		Importances: make([]float64, numFeatures),
		Seed:        seed,
	}

	for t := 0; t < DefaultNumTrees; t++ {
		indices := bootstrap(len(X), rng)
		forest.Trees = append(forest.Trees, buildTree(X, y, indices, cfg, rng, forest.Importances))
	}

	normalize(forest.Importances)
	return forest, nil
}

// bootstrap draws n indices with replacement.
func bootstrap(n int, rng *rand.Rand) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = rng.Intn(n)
	}
	return indices
}

func normalize(values []float64) {
	total := 0.0
	for _, v := range values {
		total += v
	}
	if total == 0 {
		return
	}
	for i := range values {
		values[i] /= total
	}
}

// PredictProb returns the mean positive-class probability over all trees.
func (f *RandomForest) PredictProb(row []float64) (float64, error) {
	if len(row) != f.NumFeatures {
		return 0, shared.WrapError("model", "Predict", shared.ErrInvalidInput,
			"row width does not match trained feature count", nil)
	}
	if len(f.Trees) == 0 {
		return 0, shared.ErrArtifactCorrupt
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += t.predict(row)
	}
	return sum / float64(len(f.Trees)), nil
}

// FeatureImportances returns the normalized importance per feature index.
func (f *RandomForest) FeatureImportances() []float64 {
	out := make([]float64, len(f.Importances))
	copy(out, f.Importances)
	return out
}
