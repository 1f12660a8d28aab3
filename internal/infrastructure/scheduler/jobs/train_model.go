package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	redisc "github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/persistence/redis"
	"github.com/Idriss091/peproscolaire-sub000/internal/ml"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRAIN MODEL JOB
// ══════════════════════════════════════════════════════════════════════════════

// TrainModelConfig tunes the training pipeline.
type TrainModelConfig struct {
	// ModelDir is the artifact directory shared with the predictor.
	ModelDir string

	// MinSamples is the floor under which the dataset is topped up with
	// synthetic rows. Zero means ml.MinSamples.
	MinSamples int

	// Seed makes synthetic generation and training deterministic.
	Seed int64
}

// TrainModelJob retrains the dropout-risk model from the completed academic
// years, publishes the artifact bundle and signals every worker to reload.
//
// A scheduled run is a no-op while the current artifact still scores above
// the retrain threshold; a forced run (operator CLI, queue task with
// force=true) always retrains.
type TrainModelJob struct {
	collector *ml.Collector
	predictor *ml.Predictor
	signal    *redisc.ModelSignal
	events    shared.EventPublisher
	config    TrainModelConfig
	log       *logger.Logger
}

// NewTrainModelJob creates the training job.
func NewTrainModelJob(
	collector *ml.Collector,
	predictor *ml.Predictor,
	signal *redisc.ModelSignal,
	events shared.EventPublisher,
	config TrainModelConfig,
	log *logger.Logger,
) *TrainModelJob {
	if config.MinSamples <= 0 {
		config.MinSamples = ml.MinSamples
	}
	return &TrainModelJob{
		collector: collector,
		predictor: predictor,
		signal:    signal,
		events:    events,
		config:    config,
		log:       log,
	}
}

// Name implements scheduler.Job.
func (j *TrainModelJob) Name() string { return "train_model" }

// Description implements scheduler.Job.
func (j *TrainModelJob) Description() string {
	return "Retrain the dropout-risk model and publish the artifact bundle"
}

// Run is the scheduled entry point: retrain only when the current artifact
// needs it.
func (j *TrainModelJob) Run(ctx context.Context) error {
	return j.Train(ctx, false)
}

// Train runs the full pipeline. With force the threshold gate is bypassed.
func (j *TrainModelJob) Train(ctx context.Context, force bool) error {
	if !force {
		current, err := ml.LoadArtifact(j.config.ModelDir)
		switch {
		case err == nil && !current.Metrics.RetrainRequired():
			j.log.Info("model training skipped, current artifact is healthy",
				logger.ModelVersion(current.Version),
				logger.Float64("f1", current.Metrics.F1))
			return nil
		case err != nil && !errors.Is(err, shared.ErrArtifactMissing):
			j.log.Warn("could not inspect current artifact, retraining",
				logger.Err(err))
		}
	}

	year := shared.AcademicYear(timeutil.AcademicYearOf(timeutil.Now()))
	samples, err := j.collector.Collect(ctx, year)
	if err != nil {
		return err
	}
	collected := len(samples)
	samples = ml.SyntheticTopUp(samples, j.config.MinSamples, j.config.Seed)
	synthetic := len(samples) - collected

	version := fmt.Sprintf("v%s", timeutil.Now().Format("20060102-150405"))
	artifact, err := ml.TrainModel(samples, j.config.Seed, version)
	if err != nil {
		return err
	}
	if err := ml.SaveArtifact(j.config.ModelDir, artifact); err != nil {
		return err
	}

	// Local reload first, then the cross-worker signal.
	j.predictor.Reload()
	if err := j.signal.Publish(ctx, artifact.Version); err != nil {
		j.log.Warn("model reload signal failed, other workers reload on restart",
			logger.ModelVersion(artifact.Version), logger.Err(err))
	}

	if err := j.events.Publish(shared.NewModelPublishedEvent(
		artifact.Version, feature.SchemaVersion, artifact.Metrics.F1, collected, synthetic)); err != nil {
		j.log.Warn("model published event failed", logger.Err(err))
	}

	j.log.Info("model trained and published",
		logger.ModelVersion(artifact.Version),
		logger.Float64("f1", artifact.Metrics.F1),
		logger.Int("samples", collected),
		logger.Int("synthetic", synthetic))
	return nil
}
