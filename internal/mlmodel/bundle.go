// Package mlmodel loads the trained scoring artifacts exported by the
// training pipeline. Go has no joblib reader, so the pipeline exports each
// artifact as JSON coefficients: linear weights for the two models and
// mean/std pairs for their StandardScalers.
package mlmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Artifact file names inside the model directory. All four are required.
const (
	FileSupervisedModel  = "xgboost_fraud.json"
	FileAnomalyModel     = "isolation_forest.json"
	FileScalerSupervised = "scaler_amount_supervised.json"
	FileScalerAnomaly    = "scaler_amount.json"

	// Optional calibration output of the thresholds pipeline.
	FileThresholds = "thresholds.json"
)

// Anomaly model label conventions (sklearn IsolationForest.predict).
const (
	LabelAnomaly = -1
	LabelNormal  = 1
)

var ErrDimensionMismatch = errors.New("model input row width does not match model weights")

// StandardScaler holds one-feature standardization parameters.
type StandardScaler struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Transform standardizes a single value.
func (s *StandardScaler) Transform(x float64) float64 {
	return (x - s.Mean) / s.Std
}

func (s *StandardScaler) validate(name string) error {
	if s.Std <= 0 {
		return fmt.Errorf("artifact %s: std must be > 0, got %g", name, s.Std)
	}
	if math.IsNaN(s.Mean) || math.IsNaN(s.Std) {
		return fmt.Errorf("artifact %s: NaN parameter", name)
	}
	return nil
}

// SupervisedModel is the exported fraud classifier. PredictProba returns the
// positive-class (fraud) probability.
type SupervisedModel struct {
	Version   string    `json:"version"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// PredictProba scores one input row. A row whose width does not match the
// trained weights is a contract violation and surfaces as a hard error.
func (m *SupervisedModel) PredictProba(row []float64) (float64, error) {
	if len(row) != len(m.Weights) {
		return 0, fmt.Errorf("%w: row=%d weights=%d", ErrDimensionMismatch, len(row), len(m.Weights))
	}
	z := m.Intercept
	for i, w := range m.Weights {
		z += w * row[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// AnomalyModel is the exported anomaly detector. Its native output is a
// binary label, not a probability: score < Threshold means anomaly.
type AnomalyModel struct {
	Version   string    `json:"version"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Threshold float64   `json:"threshold"`
}

// Predict returns LabelAnomaly or LabelNormal for one input row.
func (m *AnomalyModel) Predict(row []float64) (int, error) {
	if len(row) != len(m.Weights) {
		return 0, fmt.Errorf("%w: row=%d weights=%d", ErrDimensionMismatch, len(row), len(m.Weights))
	}
	score := m.Bias
	for i, w := range m.Weights {
		score += w * row[i]
	}
	if score < m.Threshold {
		return LabelAnomaly, nil
	}
	return LabelNormal, nil
}

// Thresholds is the optional calibration artifact overriding the configured
// criticality cutoffs.
type Thresholds struct {
	LowMax    float64 `json:"low_max"`
	MediumMax float64 `json:"medium_max"`
}

// Bundle is the immutable set of the two models and their paired scalers.
// After a successful load it is shared read-only across all scoring calls.
type Bundle struct {
	Supervised       *SupervisedModel
	Anomaly          *AnomalyModel
	ScalerSupervised *StandardScaler
	ScalerAnomaly    *StandardScaler

	// Thresholds is nil when no calibration artifact was present.
	Thresholds *Thresholds
}

// load reads and validates all artifacts from dir. Any missing or corrupt
// required artifact fails the whole load: a bundle that cannot score one
// request cannot score any.
func load(dir string, latentDim int) (*Bundle, error) {
	rowWidth := rowWidthFor(latentDim)

	b := &Bundle{
		Supervised:       &SupervisedModel{},
		Anomaly:          &AnomalyModel{},
		ScalerSupervised: &StandardScaler{},
		ScalerAnomaly:    &StandardScaler{},
	}

	if err := readArtifact(dir, FileSupervisedModel, b.Supervised); err != nil {
		return nil, err
	}
	if err := readArtifact(dir, FileAnomalyModel, b.Anomaly); err != nil {
		return nil, err
	}
	if err := readArtifact(dir, FileScalerSupervised, b.ScalerSupervised); err != nil {
		return nil, err
	}
	if err := readArtifact(dir, FileScalerAnomaly, b.ScalerAnomaly); err != nil {
		return nil, err
	}

	if len(b.Supervised.Weights) != rowWidth {
		return nil, fmt.Errorf("artifact %s: %d weights, input row has %d fields",
			FileSupervisedModel, len(b.Supervised.Weights), rowWidth)
	}
	if len(b.Anomaly.Weights) != rowWidth {
		return nil, fmt.Errorf("artifact %s: %d weights, input row has %d fields",
			FileAnomalyModel, len(b.Anomaly.Weights), rowWidth)
	}
	if err := b.ScalerSupervised.validate(FileScalerSupervised); err != nil {
		return nil, err
	}
	if err := b.ScalerAnomaly.validate(FileScalerAnomaly); err != nil {
		return nil, err
	}

	// Calibrated thresholds are optional; absence is not an error.
	var th Thresholds
	switch err := readArtifact(dir, FileThresholds, &th); {
	case err == nil:
		b.Thresholds = &th
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	return b, nil
}

func readArtifact(dir, name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse artifact %s: %w", name, err)
	}
	return nil
}

// rowWidthFor is the fixed width of the model input row: the time baseline,
// the latent features, and the (scaled) amount.
func rowWidthFor(latentDim int) int {
	return 1 + latentDim + 1
}
