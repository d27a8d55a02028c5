package mlmodel

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLatentDim = 2

// writeArtifacts lays down a complete, valid artifact directory for rows of
// width testLatentDim+2 and returns its path.
func writeArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeArtifact(t, dir, FileSupervisedModel, SupervisedModel{
		Version:   "xgb-1.0",
		Weights:   []float64{0.1, 0.2, 0.3, 0.4},
		Intercept: -0.5,
	})
	writeArtifact(t, dir, FileAnomalyModel, AnomalyModel{
		Version:   "iforest-1.0",
		Weights:   []float64{0.1, 0.1, 0.1, 0.1},
		Bias:      0.2,
		Threshold: 0.0,
	})
	writeArtifact(t, dir, FileScalerSupervised, StandardScaler{Mean: 88.3, Std: 250.1})
	writeArtifact(t, dir, FileScalerAnomaly, StandardScaler{Mean: 90.0, Std: 240.0})

	return dir
}

func writeArtifact(t *testing.T, dir, name string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestLoadCompleteBundle(t *testing.T) {
	dir := writeArtifacts(t)

	b, err := load(dir, testLatentDim)
	require.NoError(t, err)

	assert.Equal(t, "xgb-1.0", b.Supervised.Version)
	assert.Equal(t, "iforest-1.0", b.Anomaly.Version)
	assert.Equal(t, 88.3, b.ScalerSupervised.Mean)
	assert.Equal(t, 240.0, b.ScalerAnomaly.Std)
	assert.Nil(t, b.Thresholds)
}

func TestLoadOptionalThresholds(t *testing.T) {
	dir := writeArtifacts(t)
	writeArtifact(t, dir, FileThresholds, Thresholds{LowMax: 0.35, MediumMax: 0.65})

	b, err := load(dir, testLatentDim)
	require.NoError(t, err)
	require.NotNil(t, b.Thresholds)
	assert.Equal(t, 0.35, b.Thresholds.LowMax)
	assert.Equal(t, 0.65, b.Thresholds.MediumMax)
}

func TestLoadMissingRequiredArtifact(t *testing.T) {
	dir := writeArtifacts(t)
	require.NoError(t, os.Remove(filepath.Join(dir, FileAnomalyModel)))

	_, err := load(dir, testLatentDim)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), FileAnomalyModel)
}

func TestLoadCorruptArtifact(t *testing.T) {
	dir := writeArtifacts(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileSupervisedModel), []byte("{not json"), 0o644))

	_, err := load(dir, testLatentDim)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse artifact")
}

func TestLoadRejectsWeightWidthMismatch(t *testing.T) {
	dir := writeArtifacts(t)
	writeArtifact(t, dir, FileSupervisedModel, SupervisedModel{
		Version: "xgb-1.0",
		Weights: []float64{0.1, 0.2},
	})

	_, err := load(dir, testLatentDim)
	require.Error(t, err)
	assert.Contains(t, err.Error(), FileSupervisedModel)
}

func TestLoadRejectsInvalidScaler(t *testing.T) {
	dir := writeArtifacts(t)
	writeArtifact(t, dir, FileScalerAnomaly, StandardScaler{Mean: 10, Std: 0})

	_, err := load(dir, testLatentDim)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "std must be > 0")
}

func TestStandardScalerTransform(t *testing.T) {
	s := StandardScaler{Mean: 100, Std: 50}
	assert.Equal(t, 2.0, s.Transform(200))
	assert.Equal(t, -2.0, s.Transform(0))
	assert.Zero(t, s.Transform(100))
}

func TestSupervisedPredictProba(t *testing.T) {
	m := SupervisedModel{Weights: []float64{1, -1}, Intercept: 0.5}

	p, err := m.PredictProba([]float64{2, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(-1.5)), p, 1e-9)

	_, err = m.PredictProba([]float64{1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAnomalyPredict(t *testing.T) {
	m := AnomalyModel{Weights: []float64{1, 1}, Bias: 0, Threshold: 0}

	label, err := m.Predict([]float64{-1, -2})
	require.NoError(t, err)
	assert.Equal(t, LabelAnomaly, label)

	label, err = m.Predict([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, LabelNormal, label)

	// Score equal to the threshold is normal, not anomalous.
	label, err = m.Predict([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, LabelNormal, label)

	_, err = m.Predict([]float64{0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRowWidthFor(t *testing.T) {
	assert.Equal(t, 30, rowWidthFor(28))
	assert.Equal(t, 4, rowWidthFor(testLatentDim))
}
