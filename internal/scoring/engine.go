package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fraudshield/backend/internal/feature"
	"github.com/fraudshield/backend/internal/metrics"
	"github.com/fraudshield/backend/internal/mlmodel"
	"github.com/fraudshield/backend/internal/models"
)

// BundleProvider yields the immutable model bundle. Satisfied by
// mlmodel.Loader; tests substitute a fake.
type BundleProvider interface {
	Get() (*mlmodel.Bundle, error)
}

// Engine is the decisioning orchestrator: features, then scores, then
// criticality, then reason codes, strictly in that order, composed into one
// synchronous call per transaction. Concurrency comes from running
// independent invocations in parallel; the engine itself holds no mutable
// per-call state.
type Engine struct {
	features *feature.Computer
	bundles  BundleProvider
	scorer   *Scorer
	policy   Policy
}

// NewEngine wires the pipeline. A nil feature computer puts the engine in
// degraded service mode: every evaluation takes the heuristic path, which is
// how the system runs before a history store or model artifacts exist.
func NewEngine(features *feature.Computer, bundles BundleProvider, scorer *Scorer, policy Policy) *Engine {
	return &Engine{
		features: features,
		bundles:  bundles,
		scorer:   scorer,
		policy:   policy,
	}
}

// EvalInput is one transaction to decide on, with its read-only client
// profile and any latent model features supplied by upstream enrichment.
type EvalInput struct {
	Transaction models.Transaction
	Profile     *models.Client

	// MLFeatures carries the V1..Vn latent features when the caller has
	// them. Behavioral features computed here are merged on top.
	MLFeatures map[string]float64
}

// Evaluate runs the full pipeline and returns the decision with the complete
// feature set and rationale embedded for audit.
func (e *Engine) Evaluate(ctx context.Context, in EvalInput) (*models.FraudDecision, error) {
	start := time.Now()
	tx := in.Transaction

	var feats models.BehaviorFeatures
	mlFeatures := make(map[string]float64, len(in.MLFeatures)+8)
	for k, v := range in.MLFeatures {
		mlFeatures[k] = v
	}

	if e.features != nil {
		var err error
		feats, err = e.features.Compute(ctx, feature.Input{
			ClientID:        tx.ClientID,
			CardID:          tx.CardID,
			MerchantID:      tx.MerchantID,
			Amount:          tx.Amount,
			Timestamp:       tx.Timestamp,
			MerchantCountry: tx.MerchantCountry,
		}, in.Profile)
		if err != nil {
			return nil, fmt.Errorf("feature computation: %w", err)
		}
		for k, v := range feats.Map() {
			mlFeatures[k] = v
		}
	}

	policy := e.policy
	var bundle *mlmodel.Bundle
	modelVersion := "heuristic-v1"

	// The bundle is only required on the model path; the heuristic path must
	// work before any artifact exists.
	if len(mlFeatures) > 0 {
		var err error
		bundle, err = e.bundles.Get()
		if err != nil {
			return nil, fmt.Errorf("model bundle: %w", err)
		}
		policy = policy.WithCalibration(bundle.Thresholds)
		modelVersion = bundle.Supervised.Version
	}

	scores, err := e.scorer.Score(TxAttributes{
		Amount:          tx.Amount,
		Channel:         tx.Channel,
		MerchantCountry: tx.MerchantCountry,
		Timestamp:       tx.Timestamp,
	}, mlFeatures, bundle)
	if err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}
	if scores.Degraded {
		modelVersion = "heuristic-v1"
	}

	finalScore, criticality := policy.Decide(scores.Supervised, scores.Anomaly)
	reasonCodes := BuildReasonCodes(feats, scores.Supervised, scores.Anomaly)

	decision := &models.FraudDecision{
		TransactionID:   tx.ID,
		ScoreSupervised: scores.Supervised,
		ScoreAnomaly:    scores.Anomaly,
		FinalScore:      finalScore,
		Criticality:     criticality,
		Rationale:       scores.Rationale,
		ReasonCodes:     reasonCodes,
		Features:        feats,
		Degraded:        scores.Degraded,
		ModelVersion:    modelVersion,
		ScoredAt:        time.Now().UTC(),
	}

	metrics.ObserveDecision(criticality, scores.Degraded, time.Since(start))

	log.Info().
		Str("transaction_id", tx.ID.String()).
		Float64("score_supervised", scores.Supervised).
		Float64("score_anomaly", scores.Anomaly).
		Float64("final_score", finalScore).
		Str("criticality", criticality).
		Strs("reason_codes", reasonCodes).
		Bool("degraded", scores.Degraded).
		Dur("elapsed", time.Since(start)).
		Msg("Transaction evaluated")

	return decision, nil
}
