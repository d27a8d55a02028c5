package scoring

import (
	"fmt"
	"time"

	"github.com/fraudshield/backend/internal/mlmodel"
)

// TxAttributes are the raw transaction attributes the scorer needs.
type TxAttributes struct {
	Amount          float64
	Channel         string
	MerchantCountry string
	Timestamp       time.Time
}

// ScoreOutput carries both raw model scores on the common [0,1] risk scale,
// plus the path marker so downstream consumers can tell real-model scores
// from heuristic ones.
type ScoreOutput struct {
	Supervised float64
	Anomaly    float64
	Degraded   bool
	Rationale  string
}

// Rationale strings persisted with every decision.
const (
	RationaleModel    = "Scores XGBoost + IsolationForest sur features comportementales"
	RationaleFallback = "Score heuristique (mode dégradé, sans features ML)"
)

// Scorer assembles the model input row and runs both models. It holds only
// the row shape; the bundle is passed per call so a fake can be substituted.
type Scorer struct {
	latentDim int
	fallback  Fallback
}

// NewScorer creates a scorer for rows with n latent features.
func NewScorer(latentDim int, fallback Fallback) *Scorer {
	return &Scorer{latentDim: latentDim, fallback: fallback}
}

// Score runs both models over the assembled input row. When mlFeatures is
// empty (cold start, history store absent) it bypasses the models entirely
// and returns the deterministic heuristic estimate; the bundle is not touched
// on that path, so degraded scoring works before any model artifact exists.
//
// Model inference errors are not recovered here: a dimension mismatch means
// the input contract was violated upstream and must surface, not score as 0.
func (s *Scorer) Score(attrs TxAttributes, mlFeatures map[string]float64, bundle *mlmodel.Bundle) (ScoreOutput, error) {
	if len(mlFeatures) == 0 {
		sup, anom := s.fallback.Scores(attrs.Amount, attrs.Channel, attrs.MerchantCountry)
		return ScoreOutput{
			Supervised: sup,
			Anomaly:    anom,
			Degraded:   true,
			Rationale:  RationaleFallback,
		}, nil
	}

	row := s.buildRow(attrs.Timestamp, attrs.Amount, mlFeatures)
	amountIdx := len(row) - 1

	// Each model sees the amount through its own scaler; the raw amount is
	// dropped from the row it scores.
	anomalyRow := make([]float64, len(row))
	copy(anomalyRow, row)
	anomalyRow[amountIdx] = bundle.ScalerAnomaly.Transform(attrs.Amount)

	label, err := bundle.Anomaly.Predict(anomalyRow)
	if err != nil {
		return ScoreOutput{}, fmt.Errorf("anomaly model: %w", err)
	}
	scoreAnomaly := 0.0
	if label == mlmodel.LabelAnomaly {
		scoreAnomaly = 1.0
	}

	supervisedRow := make([]float64, len(row))
	copy(supervisedRow, row)
	supervisedRow[amountIdx] = bundle.ScalerSupervised.Transform(attrs.Amount)

	proba, err := bundle.Supervised.PredictProba(supervisedRow)
	if err != nil {
		return ScoreOutput{}, fmt.Errorf("supervised model: %w", err)
	}

	return ScoreOutput{
		Supervised: clamp01(proba),
		Anomaly:    clamp01(scoreAnomaly),
		Rationale:  RationaleModel,
	}, nil
}

// buildRow assembles the fixed-width numeric row: time baseline, the V1..Vn
// latent features (missing entries default to 0.0), then the raw amount.
func (s *Scorer) buildRow(ts time.Time, amount float64, mlFeatures map[string]float64) []float64 {
	row := make([]float64, 0, 2+s.latentDim)
	row = append(row, timeBaseline(ts))
	for i := 1; i <= s.latentDim; i++ {
		row = append(row, mlFeatures[fmt.Sprintf("V%d", i)])
	}
	row = append(row, amount)
	return row
}

// timeBaseline mirrors the training dataset's Time column: seconds elapsed
// since the start of the transaction's UTC day.
func timeBaseline(ts time.Time) float64 {
	utc := ts.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return utc.Sub(midnight).Seconds()
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
