// Package feature computes point-in-time behavioral aggregates for a
// transaction from the client's historical record. Every window is half-open
// [t-delta, t): the transaction being scored and anything at or after its
// timestamp never count toward its own features.
package feature

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fraudshield/backend/internal/models"
)

// HistoryReader is the aggregate contract against the transaction history
// store. Windows are client-scoped; implementations must treat [from, to) as
// half-open.
type HistoryReader interface {
	CountByClient(ctx context.Context, clientID uuid.UUID, from, to time.Time) (int, error)
	AvgAmountByClient(ctx context.Context, clientID uuid.UUID, from, to time.Time) (float64, error)
}

// Computer derives a BehaviorFeatures set for one transaction. It is
// read-only over the history store and carries no per-call state.
type Computer struct {
	history HistoryReader
}

// NewComputer creates a feature computer backed by the given history store.
func NewComputer(history HistoryReader) *Computer {
	return &Computer{history: history}
}

// Input is everything the feature computation needs about the transaction
// under evaluation. CardID is accepted for interface completeness; window
// scoping is by client.
type Input struct {
	ClientID        uuid.UUID
	CardID          uuid.UUID
	MerchantID      uuid.UUID
	Amount          float64
	Timestamp       time.Time // must be UTC
	MerchantCountry string
}

// Compute builds the behavioral feature set for tx. The client profile may be
// nil (unknown client): profile-derived indicators then default to 0, which
// is an expected case, not an error.
func (c *Computer) Compute(ctx context.Context, in Input, profile *models.Client) (models.BehaviorFeatures, error) {
	ts := in.Timestamp.UTC()

	var f models.BehaviorFeatures

	nb1h, err := c.history.CountByClient(ctx, in.ClientID, ts.Add(-time.Hour), ts)
	if err != nil {
		return f, fmt.Errorf("count 1h window: %w", err)
	}
	f.NbTx1h = nb1h

	nb24h, err := c.history.CountByClient(ctx, in.ClientID, ts.Add(-24*time.Hour), ts)
	if err != nil {
		return f, fmt.Errorf("count 24h window: %w", err)
	}
	f.NbTx24h = nb24h

	// Average over an empty window is defined as 0.0, never NaN.
	avg7d, err := c.history.AvgAmountByClient(ctx, in.ClientID, ts.Add(-7*24*time.Hour), ts)
	if err != nil {
		return f, fmt.Errorf("avg 7d window: %w", err)
	}
	f.AvgAmount7d = avg7d

	if hour := ts.Hour(); hour >= 0 && hour <= 5 {
		f.NightHour = 1
	}

	if profile != nil {
		f.ClientSegment = profile.Segment
		f.ClientCountry = profile.ResidenceCountry
		f.MonthlyIncome = profile.MonthlyIncome
		f.DailyCeiling = profile.DailyCeiling

		f.UnusualCountry = unusualCountry(profile.ResidenceCountry, in.MerchantCountry)

		if profile.DailyCeiling > 0 && in.Amount > profile.DailyCeiling {
			f.CeilingExceeded = 1
		}

		if profile.MonthlyIncome > 0 {
			f.IncomeRatio = in.Amount / profile.MonthlyIncome
		}
	}

	return f, nil
}

// unusualCountry returns 1 only when both countries are known and differ.
// Comparison is case-insensitive; representation is normalized at the API
// boundary, this is the last line of defense against mixed-case stores.
func unusualCountry(residence, merchant string) int {
	residence = strings.TrimSpace(residence)
	merchant = strings.TrimSpace(merchant)
	if residence == "" || merchant == "" {
		return 0
	}
	if strings.EqualFold(residence, merchant) {
		return 0
	}
	return 1
}
