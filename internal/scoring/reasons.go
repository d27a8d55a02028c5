package scoring

import "github.com/fraudshield/backend/internal/models"

// Reason codes, in evaluation order. The sentinel marks decisions where no
// rule fired and never co-occurs with another tag.
const (
	ReasonAnomalyIForest  = "ANOMALIE_IFOREST"
	ReasonCeilingExceeded = "DEPASSE_PLAFOND_JOURNALIER"
	ReasonUnusualCountry  = "PAYS_INHABITUEL"
	ReasonNightHour       = "HEURE_NOCTURNE"
	ReasonIntense24h      = "ACTIVITE_INTENSE_24H"
	ReasonNoSignal        = "RAS_SIGNAL_FAIBLE"
)

// intense24hThreshold is the 24h transaction count above which activity is
// tagged as intense.
const intense24hThreshold = 10

// BuildReasonCodes derives the explainability tags for a decision. Pure and
// deterministic: same inputs, same sequence, insertion order fixed.
func BuildReasonCodes(f models.BehaviorFeatures, scoreSupervised, scoreAnomaly float64) []string {
	reasons := make([]string, 0, 4)

	if scoreAnomaly >= 1.0 {
		reasons = append(reasons, ReasonAnomalyIForest)
	}
	if f.CeilingExceeded == 1 {
		reasons = append(reasons, ReasonCeilingExceeded)
	}
	if f.UnusualCountry == 1 {
		reasons = append(reasons, ReasonUnusualCountry)
	}
	if f.NightHour == 1 {
		reasons = append(reasons, ReasonNightHour)
	}
	if f.NbTx24h >= intense24hThreshold {
		reasons = append(reasons, ReasonIntense24h)
	}

	if len(reasons) == 0 {
		reasons = append(reasons, ReasonNoSignal)
	}
	return reasons
}
