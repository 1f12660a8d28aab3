package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
)

// Artifact file names under the model directory.
const (
	ModelFileName    = "dropout_risk_model.json"
	ScalerFileName   = "dropout_risk_scaler.json"
	FeaturesFileName = "features.json"
)

// FeatureManifest records the feature-name vector and schema version the
// model was trained under.
type FeatureManifest struct {
	SchemaVersion string   `json:"schema_version"`
	Features      []string `json:"features"`
}

// modelFile is the on-disk shape of the model artifact.
type modelFile struct {
	Version   string        `json:"version"`
	TrainedAt time.Time     `json:"trained_at"`
	Metrics   Metrics       `json:"metrics"`
	Forest    *RandomForest `json:"forest"`
}

// Artifact is a loaded model bundle: forest, scaler and feature manifest.
type Artifact struct {
	Version   string
	TrainedAt time.Time
	Metrics   Metrics
	Forest    *RandomForest
	Scaler    *StandardScaler
	Manifest  FeatureManifest
}

// SaveArtifact publishes the bundle under dir atomically: each file is
// written to a temp name and renamed into place, so a concurrent loader
// never observes a half-written artifact.
func SaveArtifact(dir string, a *Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return shared.WrapError("model", "Save", shared.ErrTransient, "creating artifact directory", err)
	}

	files := map[string]interface{}{
		ModelFileName: modelFile{
			Version:   a.Version,
			TrainedAt: a.TrainedAt,
			Metrics:   a.Metrics,
			Forest:    a.Forest,
		},
		ScalerFileName:   a.Scaler,
		FeaturesFileName: a.Manifest,
	}
	for name, payload := range files {
		if err := writeAtomic(filepath.Join(dir, name), payload); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return shared.WrapError("model", "Save", shared.ErrInvalidState, "encoding artifact", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return shared.WrapError("model", "Save", shared.ErrTransient, "writing artifact", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return shared.WrapError("model", "Save", shared.ErrTransient, "publishing artifact", err)
	}
	return nil
}

// LoadArtifact reads the bundle from dir. A missing artifact returns
// ErrArtifactMissing (callers fall back to the cold-start model); a schema
// version differing from the active extractor schema is a fatal
// configuration error.
func LoadArtifact(dir string) (*Artifact, error) {
	var mf modelFile
	if err := readJSON(filepath.Join(dir, ModelFileName), &mf); err != nil {
		return nil, err
	}
	var scaler StandardScaler
	if err := readJSON(filepath.Join(dir, ScalerFileName), &scaler); err != nil {
		return nil, err
	}
	var manifest FeatureManifest
	if err := readJSON(filepath.Join(dir, FeaturesFileName), &manifest); err != nil {
		return nil, err
	}

	if manifest.SchemaVersion != feature.SchemaVersion {
		return nil, shared.WrapError("model", "Load", shared.ErrConfiguration,
			fmt.Sprintf("artifact schema %q does not match active schema %q",
				manifest.SchemaVersion, feature.SchemaVersion), nil)
	}
	if mf.Forest == nil || len(manifest.Features) != mf.Forest.NumFeatures {
		return nil, shared.ErrArtifactCorrupt
	}

	return &Artifact{
		Version:   mf.Version,
		TrainedAt: mf.TrainedAt,
		Metrics:   mf.Metrics,
		Forest:    mf.Forest,
		Scaler:    &scaler,
		Manifest:  manifest,
	}, nil
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return shared.ErrArtifactMissing
		}
		return shared.WrapError("model", "Load", shared.ErrTransient, "reading artifact", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return shared.WrapError("model", "Load", shared.ErrConfiguration, "parsing artifact", err)
	}
	return nil
}
