package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/backend/configs"
	"github.com/fraudshield/backend/internal/feature"
	"github.com/fraudshield/backend/internal/mlmodel"
	"github.com/fraudshield/backend/internal/models"
)

type staticBundleProvider struct {
	bundle *mlmodel.Bundle
	err    error
	calls  int
}

func (p *staticBundleProvider) Get() (*mlmodel.Bundle, error) {
	p.calls++
	return p.bundle, p.err
}

type emptyHistory struct {
	err error
}

func (h emptyHistory) CountByClient(context.Context, uuid.UUID, time.Time, time.Time) (int, error) {
	return 0, h.err
}

func (h emptyHistory) AvgAmountByClient(context.Context, uuid.UUID, time.Time, time.Time) (float64, error) {
	return 0, h.err
}

func newTestEngine(history feature.HistoryReader, bundles BundleProvider) *Engine {
	var computer *feature.Computer
	if history != nil {
		computer = feature.NewComputer(history)
	}
	scorer := NewScorer(testLatentDim, Fallback{})
	policy := NewPolicy(configs.PolicyConfig{LowMax: 0.4, MediumMax: 0.7})
	return NewEngine(computer, bundles, scorer, policy)
}

func TestEvaluateFullPipeline(t *testing.T) {
	provider := &staticBundleProvider{bundle: testBundle(-1)}
	engine := newTestEngine(emptyHistory{}, provider)

	tx := models.Transaction{
		ID:              uuid.New(),
		ClientID:        uuid.New(),
		Amount:          600,
		Currency:        "EUR",
		Channel:         models.ChannelPOS,
		MerchantCountry: "FR",
		Timestamp:       time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC),
	}
	profile := &models.Client{
		ResidenceCountry: "FR",
		DailyCeiling:     500,
		MonthlyIncome:    3000,
	}

	decision, err := engine.Evaluate(context.Background(), EvalInput{
		Transaction: tx,
		Profile:     profile,
	})
	require.NoError(t, err)

	assert.Equal(t, tx.ID, decision.TransactionID)
	assert.False(t, decision.Degraded)
	assert.Equal(t, RationaleModel, decision.Rationale)
	assert.Equal(t, "xgb-test", decision.ModelVersion)

	// Zero-weight test models give sigmoid(0) = 0.5 and no anomaly.
	assert.InDelta(t, 0.5, decision.ScoreSupervised, 1e-9)
	assert.Zero(t, decision.ScoreAnomaly)
	assert.InDelta(t, 0.5, decision.FinalScore, 1e-9)
	assert.Equal(t, models.CriticalityMedium, decision.Criticality)

	assert.Equal(t, []string{ReasonCeilingExceeded, ReasonNightHour}, decision.ReasonCodes)
	assert.Equal(t, 1, decision.Features.CeilingExceeded)
	assert.Equal(t, 1, decision.Features.NightHour)
	assert.Equal(t, 0, decision.Features.UnusualCountry)
	assert.InDelta(t, 0.2, decision.Features.IncomeRatio, 1e-9)
	assert.False(t, decision.ScoredAt.IsZero())
	assert.Equal(t, 1, provider.calls)
}

func TestEvaluateDegradedServiceMode(t *testing.T) {
	// A failing provider proves the heuristic path never asks for the bundle.
	provider := &staticBundleProvider{err: errors.New("no artifacts")}
	engine := newTestEngine(nil, provider)

	decision, err := engine.Evaluate(context.Background(), EvalInput{
		Transaction: models.Transaction{
			ID:              uuid.New(),
			ClientID:        uuid.New(),
			Amount:          600,
			Channel:         models.ChannelPOS,
			MerchantCountry: "FR",
			Timestamp:       time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)

	assert.True(t, decision.Degraded)
	assert.Equal(t, RationaleFallback, decision.Rationale)
	assert.Equal(t, "heuristic-v1", decision.ModelVersion)
	assert.InDelta(t, 0.35, decision.ScoreSupervised, 1e-9)
	assert.InDelta(t, 0.30, decision.ScoreAnomaly, 1e-9)
	assert.Equal(t, models.CriticalityLow, decision.Criticality)
	assert.Equal(t, []string{ReasonNoSignal}, decision.ReasonCodes)
	assert.Zero(t, provider.calls)
}

func TestEvaluateAppliesCalibratedThresholds(t *testing.T) {
	bundle := testBundle(-1)
	bundle.Thresholds = &mlmodel.Thresholds{LowMax: 0.2, MediumMax: 0.45}
	engine := newTestEngine(emptyHistory{}, &staticBundleProvider{bundle: bundle})

	decision, err := engine.Evaluate(context.Background(), EvalInput{
		Transaction: models.Transaction{
			ID:        uuid.New(),
			ClientID:  uuid.New(),
			Amount:    50,
			Channel:   models.ChannelPOS,
			Timestamp: time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)

	// final 0.5 sits above the calibrated medium cutoff of 0.45.
	assert.Equal(t, models.CriticalityHigh, decision.Criticality)
}

func TestEvaluateCallerFeaturesMergedWithBehavioral(t *testing.T) {
	bundle := testBundle(-1)
	// Isolate V1 through the supervised model: z = 2 when V1 = 2.
	bundle.Supervised.Weights = []float64{0, 1, 0, 0}
	engine := newTestEngine(emptyHistory{}, &staticBundleProvider{bundle: bundle})

	decision, err := engine.Evaluate(context.Background(), EvalInput{
		Transaction: models.Transaction{
			ID:        uuid.New(),
			ClientID:  uuid.New(),
			Amount:    50,
			Channel:   models.ChannelPOS,
			Timestamp: time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC),
		},
		MLFeatures: map[string]float64{"V1": 2},
	})
	require.NoError(t, err)

	assert.False(t, decision.Degraded)
	assert.Greater(t, decision.ScoreSupervised, 0.85)
}

func TestEvaluateFeatureErrorStopsPipeline(t *testing.T) {
	storeErr := errors.New("history store down")
	engine := newTestEngine(emptyHistory{err: storeErr}, &staticBundleProvider{bundle: testBundle(-1)})

	_, err := engine.Evaluate(context.Background(), EvalInput{
		Transaction: models.Transaction{
			ID:        uuid.New(),
			ClientID:  uuid.New(),
			Timestamp: time.Now().UTC(),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "feature computation")
}

func TestEvaluateBundleErrorSurfaces(t *testing.T) {
	loadErr := errors.New("artifact missing")
	engine := newTestEngine(emptyHistory{}, &staticBundleProvider{err: loadErr})

	_, err := engine.Evaluate(context.Background(), EvalInput{
		Transaction: models.Transaction{
			ID:        uuid.New(),
			ClientID:  uuid.New(),
			Timestamp: time.Now().UTC(),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, loadErr)
}
