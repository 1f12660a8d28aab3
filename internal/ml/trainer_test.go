package ml

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

func testLogger() *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = io.Discard
	return logger.New(opts)
}

func TestSyntheticTopUp_Deterministic(t *testing.T) {
	first := SyntheticTopUp(nil, MinSamples, DefaultSeed)
	second := SyntheticTopUp(nil, MinSamples, DefaultSeed)

	require.Len(t, first, MinSamples)
	require.Len(t, second, MinSamples)
	for i := range first {
		assert.True(t, first[i].Synthetic)
		assert.Equal(t, first[i].Label, second[i].Label)
		assert.Equal(t, first[i].Features, second[i].Features)
	}
}

func TestSyntheticTopUp_KeepsRealSamples(t *testing.T) {
	real := []Sample{
		{StudentID: "s1", Features: make([]float64, len(feature.Keys())), Label: 0},
		{StudentID: "s2", Features: make([]float64, len(feature.Keys())), Label: 1},
	}

	samples := SyntheticTopUp(real, 50, DefaultSeed)

	require.Len(t, samples, 50)
	assert.Equal(t, "s1", samples[0].StudentID)
	assert.Equal(t, "s2", samples[1].StudentID)
	for _, s := range samples[2:] {
		assert.True(t, s.Synthetic)
	}
}

func TestSyntheticTopUp_NoTopUpWhenEnough(t *testing.T) {
	real := make([]Sample, 120)
	samples := SyntheticTopUp(real, 100, DefaultSeed)
	assert.Len(t, samples, 120)
}

func TestTrainModel_TooFewSamples(t *testing.T) {
	_, err := TrainModel(SyntheticTopUp(nil, 5, DefaultSeed)[:5], DefaultSeed, "v1")
	assert.ErrorIs(t, err, shared.ErrNotEnoughSamples)
}

func TestTrainModel_Deterministic(t *testing.T) {
	samples := SyntheticTopUp(nil, 200, DefaultSeed)

	first, err := TrainModel(samples, DefaultSeed, "v1")
	require.NoError(t, err)
	second, err := TrainModel(samples, DefaultSeed, "v1")
	require.NoError(t, err)

	assert.Equal(t, first.Metrics.F1, second.Metrics.F1)
	assert.Equal(t, first.Metrics.Accuracy, second.Metrics.Accuracy)
	assert.Equal(t, first.Forest.FeatureImportances(), second.Forest.FeatureImportances())

	row, err := first.Scaler.TransformOne(samples[0].Features)
	require.NoError(t, err)
	p1, err := first.Forest.PredictProb(row)
	require.NoError(t, err)
	p2, err := second.Forest.PredictProb(row)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestTrainModel_ManifestMatchesSchema(t *testing.T) {
	artifact, err := TrainModel(SyntheticTopUp(nil, 100, DefaultSeed), DefaultSeed, "v1")
	require.NoError(t, err)

	assert.Equal(t, feature.SchemaVersion, artifact.Manifest.SchemaVersion)
	assert.Equal(t, feature.Keys(), artifact.Manifest.Features)
	assert.Equal(t, 100, artifact.Metrics.SampleCount)
	assert.Equal(t, 100, artifact.Metrics.SyntheticCount)
}

func TestSaveLoadArtifact_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	artifact, err := TrainModel(SyntheticTopUp(nil, 100, DefaultSeed), DefaultSeed, "v-test")
	require.NoError(t, err)
	require.NoError(t, SaveArtifact(dir, artifact))

	loaded, err := LoadArtifact(dir)
	require.NoError(t, err)
	assert.Equal(t, "v-test", loaded.Version)
	assert.Equal(t, artifact.Metrics.F1, loaded.Metrics.F1)
	assert.Equal(t, artifact.Manifest.Features, loaded.Manifest.Features)
}

func TestLoadArtifact_Missing(t *testing.T) {
	_, err := LoadArtifact(t.TempDir())
	assert.ErrorIs(t, err, shared.ErrArtifactMissing)
}

func TestPredictor_ColdStart(t *testing.T) {
	p := NewPredictor(t.TempDir(), testLogger())

	v := feature.NewVector("student-1", "2025-2026", timeutil.NewWindow(timeutil.Now(), 90))
	pred, err := p.Predict(v)
	require.NoError(t, err)

	assert.True(t, pred.Degraded)
	assert.Equal(t, "cold-start", pred.ModelVersion)
	assert.GreaterOrEqual(t, pred.DropoutProbability, 0.0)
	assert.LessOrEqual(t, pred.DropoutProbability, 1.0)
	assert.LessOrEqual(t, len(pred.MainRiskFactors), 5)
	assert.LessOrEqual(t, len(pred.Recommendations), 3)
}

func TestPredictor_SchemaMismatchRefused(t *testing.T) {
	p := NewPredictor(t.TempDir(), testLogger())

	v := feature.NewVector("student-1", "2025-2026", timeutil.NewWindow(timeutil.Now(), 90))
	v.SchemaVersion = "v0"

	_, err := p.Predict(v)
	assert.ErrorIs(t, err, shared.ErrSchemaMismatch)
}

func TestPredictor_ReloadPicksUpNewArtifact(t *testing.T) {
	dir := t.TempDir()
	p := NewPredictor(dir, testLogger())

	v := feature.NewVector("student-1", "2025-2026", timeutil.NewWindow(timeutil.Now(), 90))
	pred, err := p.Predict(v)
	require.NoError(t, err)
	require.True(t, pred.Degraded)

	artifact, err := TrainModel(SyntheticTopUp(nil, 100, DefaultSeed), DefaultSeed, "v-fresh")
	require.NoError(t, err)
	require.NoError(t, SaveArtifact(dir, artifact))

	// Still serving the cached cold-start model until reloaded.
	pred, err = p.Predict(v)
	require.NoError(t, err)
	assert.True(t, pred.Degraded)

	p.Reload()
	pred, err = p.Predict(v)
	require.NoError(t, err)
	assert.False(t, pred.Degraded)
	assert.Equal(t, "v-fresh", pred.ModelVersion)
}
