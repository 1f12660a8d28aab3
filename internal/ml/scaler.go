// Package ml implements the dropout classifier: a seeded random forest over
// standardized feature vectors, with JSON artifacts published atomically and
// a synthetic cold-start path when no artifact exists.
package ml

import (
	"fmt"
	"math"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// StandardScaler performs per-feature mean/variance standardization.
// It is fitted on the training split only.
type StandardScaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Fit computes per-column mean and standard deviation.
func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return shared.WrapError("model", "Fit", shared.ErrInvalidInput, "empty training set", nil)
	}
	cols := len(rows[0])
	s.Means = make([]float64, cols)
	s.Stds = make([]float64, cols)

	for _, row := range rows {
		if len(row) != cols {
			return shared.WrapError("model", "Fit", shared.ErrInvalidInput,
				fmt.Sprintf("ragged row: got %d columns, want %d", len(row), cols), nil)
		}
		for j, v := range row {
			s.Means[j] += v
		}
	}
	n := float64(len(rows))
	for j := range s.Means {
		s.Means[j] /= n
	}
	for _, row := range rows {
		for j, v := range row {
			d := v - s.Means[j]
			s.Stds[j] += d * d
		}
	}
	for j := range s.Stds {
		s.Stds[j] = math.Sqrt(s.Stds[j] / n)
		// Constant columns standardize to zero instead of dividing by zero.
		if s.Stds[j] == 0 {
			s.Stds[j] = 1
		}
	}
	return nil
}

// Transform standardizes rows in place-safe copies.
func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.Means) {
			return nil, shared.WrapError("model", "Transform", shared.ErrInvalidInput,
				fmt.Sprintf("row has %d columns, scaler fitted on %d", len(row), len(s.Means)), nil)
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Means[j]) / s.Stds[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// TransformOne standardizes a single row.
func (s *StandardScaler) TransformOne(row []float64) ([]float64, error) {
	out, err := s.Transform([][]float64{row})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
