package ml

import (
	"math/rand"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
)

// TrainModel fits the full pipeline on labeled samples: stratified 80/20
// split, scaler fitted on the training split only, seeded forest fit, and
// metrics measured on the held-out split. The returned artifact is not yet
// persisted; callers publish it with SaveArtifact.
func TrainModel(samples []Sample, seed int64, version string) (*Artifact, error) {
	if len(samples) < 10 {
		return nil, shared.ErrNotEnoughSamples
	}

	X := make([][]float64, len(samples))
	y := make([]int, len(samples))
	synthetic := 0
	for i, s := range samples {
		X[i] = s.Features
		y[i] = s.Label
		if s.Synthetic {
			synthetic++
		}
	}

	rng := rand.New(rand.NewSource(seed))
	trainX, trainY, testX, testY := stratifiedSplit(X, y, rng)
	if len(trainX) == 0 || len(testX) == 0 {
		return nil, shared.ErrNotEnoughSamples
	}

	scaler := &StandardScaler{}
	if err := scaler.Fit(trainX); err != nil {
		return nil, err
	}
	scaledTrain, err := scaler.Transform(trainX)
	if err != nil {
		return nil, err
	}
	scaledTest, err := scaler.Transform(testX)
	if err != nil {
		return nil, err
	}

	forest, err := TrainForest(scaledTrain, trainY, seed)
	if err != nil {
		return nil, err
	}

	metrics, err := evaluate(forest, scaledTest, testY)
	if err != nil {
		return nil, err
	}
	metrics.SampleCount = len(samples)
	metrics.SyntheticCount = synthetic

	return &Artifact{
		Version:   version,
		TrainedAt: time.Now().UTC(),
		Metrics:   metrics,
		Forest:    forest,
		Scaler:    scaler,
		Manifest: FeatureManifest{
			SchemaVersion: feature.SchemaVersion,
			Features:      feature.Keys(),
		},
	}, nil
}

// ColdStartArtifact trains the deterministic default model on purely
// synthetic data with the fixed seed. It serves predictions when no
// published artifact exists yet.
func ColdStartArtifact() (*Artifact, error) {
	samples := SyntheticTopUp(nil, MinSamples, DefaultSeed)
	return TrainModel(samples, DefaultSeed, "cold-start")
}
