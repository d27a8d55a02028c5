package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBehaviorFeaturesMap(t *testing.T) {
	f := BehaviorFeatures{
		NbTx1h:          2,
		NbTx24h:         12,
		AvgAmount7d:     84.5,
		NightHour:       1,
		UnusualCountry:  1,
		CeilingExceeded: 0,
		IncomeRatio:     0.2,

		// Context fields stay out of the flattened map.
		ClientSegment: "premium",
		ClientCountry: "FR",
		MonthlyIncome: 3000,
		DailyCeiling:  500,
	}

	m := f.Map()
	assert.Equal(t, map[string]float64{
		"nb_tx_1h":         2,
		"nb_tx_24h":        12,
		"avg_amount_7d":    84.5,
		"night_hour":       1,
		"unusual_country":  1,
		"ceiling_exceeded": 0,
		"income_ratio":     0.2,
	}, m)
}

func TestJSONBRoundTrip(t *testing.T) {
	j := JSONB{"final_score": 0.82, "criticality": "ELEVE"}

	raw, err := j.Value()
	require.NoError(t, err)

	var out JSONB
	require.NoError(t, out.Scan(raw))
	assert.Equal(t, 0.82, out["final_score"])
	assert.Equal(t, "ELEVE", out["criticality"])
}

func TestJSONBScanNil(t *testing.T) {
	j := JSONB{"k": "v"}
	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)
}
