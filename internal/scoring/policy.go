package scoring

import (
	"strings"

	"github.com/fraudshield/backend/configs"
	"github.com/fraudshield/backend/internal/mlmodel"
	"github.com/fraudshield/backend/internal/models"
)

// Policy maps the two raw scores to one final score and a criticality tier.
// Thresholds come from configuration; a calibration artifact in the model
// directory overrides them.
type Policy struct {
	lowMax    float64
	mediumMax float64
}

// NewPolicy creates a policy from the configured thresholds.
func NewPolicy(cfg configs.PolicyConfig) Policy {
	return Policy{lowMax: cfg.LowMax, mediumMax: cfg.MediumMax}
}

// WithCalibration returns a policy using the calibrated thresholds when t is
// non-nil, the receiver unchanged otherwise.
func (p Policy) WithCalibration(t *mlmodel.Thresholds) Policy {
	if t == nil {
		return p
	}
	return Policy{lowMax: t.LowMax, mediumMax: t.MediumMax}
}

// Decide combines the two scores. Either signal being high is sufficient
// grounds for escalation, so the combination is a max, not an average: a
// strong single signal must not be diluted. Boundary values belong to the
// upper tier.
func (p Policy) Decide(scoreSupervised, scoreAnomaly float64) (float64, string) {
	final := clamp01(max(scoreSupervised, scoreAnomaly))

	switch {
	case final < p.lowMax:
		return final, models.CriticalityLow
	case final < p.mediumMax:
		return final, models.CriticalityMedium
	default:
		return final, models.CriticalityHigh
	}
}

// Fallback is the deterministic rule-based estimator used only when no model
// features are available. It is not a secondary model: it exists so the
// system stays usable before any artifact or feature history exists.
type Fallback struct{}

// Scores returns the heuristic supervised-style and anomaly-style estimates.
// The anomaly estimate is kept slightly below the supervised one, matching
// the shipped heuristic.
func (Fallback) Scores(amount float64, channel, merchantCountry string) (float64, float64) {
	base := 0.10

	switch {
	case amount >= 1000:
		base += 0.55
	case amount >= 300:
		base += 0.25
	case amount >= 100:
		base += 0.10
	}

	switch strings.ToUpper(channel) {
	case models.ChannelECommerce:
		base += 0.15
	case models.ChannelATM:
		base += 0.10
	}

	if country := strings.TrimSpace(merchantCountry); country != "" && !isFrance(country) {
		base += 0.25
	}

	return clamp01(base), clamp01(base - 0.05)
}

// isFrance accepts both the ISO code and the country name, case-insensitive.
func isFrance(country string) bool {
	return strings.EqualFold(country, "FR") || strings.EqualFold(country, "FRANCE")
}
