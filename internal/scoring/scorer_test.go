package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/backend/internal/mlmodel"
)

const testLatentDim = 2

// testBundle builds a bundle with identity scalers and neutral weights for
// rows of width testLatentDim+2. anomalyThreshold controls the binary label:
// with zero weights the anomaly score is always 0, so threshold 1 flags and
// threshold -1 clears.
func testBundle(anomalyThreshold float64) *mlmodel.Bundle {
	return &mlmodel.Bundle{
		Supervised: &mlmodel.SupervisedModel{
			Version: "xgb-test",
			Weights: make([]float64, testLatentDim+2),
		},
		Anomaly: &mlmodel.AnomalyModel{
			Version:   "iforest-test",
			Weights:   make([]float64, testLatentDim+2),
			Threshold: anomalyThreshold,
		},
		ScalerSupervised: &mlmodel.StandardScaler{Mean: 0, Std: 1},
		ScalerAnomaly:    &mlmodel.StandardScaler{Mean: 0, Std: 1},
	}
}

func testAttrs() TxAttributes {
	return TxAttributes{
		Amount:    150,
		Channel:   "POS",
		Timestamp: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestScoreDegradedPathSkipsBundle(t *testing.T) {
	scorer := NewScorer(testLatentDim, Fallback{})

	// A nil bundle must not be touched when no features are present.
	out, err := scorer.Score(TxAttributes{
		Amount:          50,
		Channel:         "POS",
		MerchantCountry: "FR",
		Timestamp:       time.Now().UTC(),
	}, nil, nil)
	require.NoError(t, err)

	assert.True(t, out.Degraded)
	assert.Equal(t, RationaleFallback, out.Rationale)
	assert.InDelta(t, 0.10, out.Supervised, 1e-9)
	assert.InDelta(t, 0.05, out.Anomaly, 1e-9)
}

func TestScoreModelPath(t *testing.T) {
	scorer := NewScorer(testLatentDim, Fallback{})
	features := map[string]float64{"V1": 0.5, "V2": -1.2}

	out, err := scorer.Score(testAttrs(), features, testBundle(-1))
	require.NoError(t, err)

	assert.False(t, out.Degraded)
	assert.Equal(t, RationaleModel, out.Rationale)
	// Zero weights and intercept give sigmoid(0) = 0.5.
	assert.InDelta(t, 0.5, out.Supervised, 1e-9)
	assert.Zero(t, out.Anomaly)
}

func TestScoreAnomalyCollapsesToBinary(t *testing.T) {
	scorer := NewScorer(testLatentDim, Fallback{})
	features := map[string]float64{"V1": 0.5}

	out, err := scorer.Score(testAttrs(), features, testBundle(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Anomaly)

	out, err = scorer.Score(testAttrs(), features, testBundle(-1))
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Anomaly)
}

func TestScoreAppliesPerModelScaler(t *testing.T) {
	scorer := NewScorer(testLatentDim, Fallback{})

	bundle := testBundle(-1)
	// Only the amount slot carries weight, so the supervised score isolates
	// the scaled amount: z = (200-100)/50 = 2.
	bundle.Supervised.Weights = []float64{0, 0, 0, 1}
	bundle.ScalerSupervised = &mlmodel.StandardScaler{Mean: 100, Std: 50}

	attrs := testAttrs()
	attrs.Amount = 200
	attrs.Timestamp = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	out, err := scorer.Score(attrs, map[string]float64{"V1": 0}, bundle)
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(-2)), out.Supervised, 1e-9)
}

func TestScoreDimensionMismatchSurfaces(t *testing.T) {
	scorer := NewScorer(testLatentDim, Fallback{})

	bundle := testBundle(-1)
	bundle.Anomaly.Weights = make([]float64, 3)

	_, err := scorer.Score(testAttrs(), map[string]float64{"V1": 1}, bundle)
	require.Error(t, err)
	assert.ErrorIs(t, err, mlmodel.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "anomaly model")

	bundle = testBundle(-1)
	bundle.Supervised.Weights = make([]float64, 3)

	_, err = scorer.Score(testAttrs(), map[string]float64{"V1": 1}, bundle)
	require.Error(t, err)
	assert.ErrorIs(t, err, mlmodel.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "supervised model")
}

func TestBuildRowShape(t *testing.T) {
	scorer := NewScorer(3, Fallback{})
	ts := time.Date(2024, 3, 15, 1, 0, 30, 0, time.UTC)

	row := scorer.buildRow(ts, 42.5, map[string]float64{
		"V1": 1.5,
		"V3": -0.25,
		// Keys outside V1..Vn are ignored.
		"nb_tx_24h": 99,
	})

	assert.Equal(t, []float64{3630, 1.5, 0, -0.25, 42.5}, row)
}

func TestTimeBaseline(t *testing.T) {
	assert.Zero(t, timeBaseline(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 86399.0, timeBaseline(time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)))

	// Non-UTC inputs are resolved against the UTC day.
	cet := time.FixedZone("CET", 3600)
	assert.Zero(t, timeBaseline(time.Date(2024, 3, 15, 1, 0, 0, 0, cet)))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.5))
	assert.Equal(t, 0.25, clamp01(0.25))
	assert.Equal(t, 1.0, clamp01(1.5))
}
