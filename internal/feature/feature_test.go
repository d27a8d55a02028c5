package feature

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/backend/internal/models"
)

// windowCall records one aggregate query so tests can assert the exact
// window bounds the computer asked for.
type windowCall struct {
	clientID uuid.UUID
	from     time.Time
	to       time.Time
}

type fakeHistory struct {
	counts     map[time.Duration]int
	avg7d      float64
	countErr   error
	avgErr     error
	countCalls []windowCall
	avgCalls   []windowCall
}

func (f *fakeHistory) CountByClient(_ context.Context, clientID uuid.UUID, from, to time.Time) (int, error) {
	f.countCalls = append(f.countCalls, windowCall{clientID: clientID, from: from, to: to})
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[to.Sub(from)], nil
}

func (f *fakeHistory) AvgAmountByClient(_ context.Context, clientID uuid.UUID, from, to time.Time) (float64, error) {
	f.avgCalls = append(f.avgCalls, windowCall{clientID: clientID, from: from, to: to})
	if f.avgErr != nil {
		return 0, f.avgErr
	}
	return f.avg7d, nil
}

func TestComputeWindowBounds(t *testing.T) {
	history := &fakeHistory{counts: map[time.Duration]int{}}
	computer := NewComputer(history)

	clientID := uuid.New()
	ts := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

	_, err := computer.Compute(context.Background(), Input{
		ClientID:  clientID,
		Amount:    50,
		Timestamp: ts,
	}, nil)
	require.NoError(t, err)

	require.Len(t, history.countCalls, 2)
	assert.Equal(t, clientID, history.countCalls[0].clientID)
	assert.Equal(t, ts.Add(-time.Hour), history.countCalls[0].from)
	assert.Equal(t, ts, history.countCalls[0].to)
	assert.Equal(t, ts.Add(-24*time.Hour), history.countCalls[1].from)
	assert.Equal(t, ts, history.countCalls[1].to)

	require.Len(t, history.avgCalls, 1)
	assert.Equal(t, ts.Add(-7*24*time.Hour), history.avgCalls[0].from)
	assert.Equal(t, ts, history.avgCalls[0].to)
}

func TestComputeNormalizesTimestampToUTC(t *testing.T) {
	history := &fakeHistory{counts: map[time.Duration]int{}}
	computer := NewComputer(history)

	paris := time.FixedZone("CET", 3600)
	// 03:00 CET is 02:00 UTC, inside the night window.
	ts := time.Date(2024, 3, 15, 3, 0, 0, 0, paris)

	feats, err := computer.Compute(context.Background(), Input{
		ClientID:  uuid.New(),
		Amount:    50,
		Timestamp: ts,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, feats.NightHour)
	assert.True(t, history.countCalls[0].to.Equal(ts.UTC()))
}

func TestComputeNightHourBoundaries(t *testing.T) {
	tests := []struct {
		hour int
		want int
	}{
		{hour: 0, want: 1},
		{hour: 3, want: 1},
		{hour: 5, want: 1},
		{hour: 6, want: 0},
		{hour: 14, want: 0},
		{hour: 23, want: 0},
	}

	for _, tt := range tests {
		computer := NewComputer(&fakeHistory{counts: map[time.Duration]int{}})
		ts := time.Date(2024, 3, 15, tt.hour, 0, 0, 0, time.UTC)

		feats, err := computer.Compute(context.Background(), Input{
			ClientID:  uuid.New(),
			Amount:    50,
			Timestamp: ts,
		}, nil)
		require.NoError(t, err)
		assert.Equalf(t, tt.want, feats.NightHour, "hour %d", tt.hour)
	}
}

func TestComputeProfileIndicators(t *testing.T) {
	history := &fakeHistory{
		counts: map[time.Duration]int{time.Hour: 2, 24 * time.Hour: 12},
		avg7d:  84.5,
	}
	computer := NewComputer(history)

	profile := &models.Client{
		ResidenceCountry: "FR",
		MonthlyIncome:    3000,
		DailyCeiling:     500,
		Segment:          "standard",
	}

	feats, err := computer.Compute(context.Background(), Input{
		ClientID:        uuid.New(),
		Amount:          600,
		Timestamp:       time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC),
		MerchantCountry: "ES",
	}, profile)
	require.NoError(t, err)

	assert.Equal(t, 2, feats.NbTx1h)
	assert.Equal(t, 12, feats.NbTx24h)
	assert.Equal(t, 84.5, feats.AvgAmount7d)
	assert.Equal(t, 1, feats.UnusualCountry)
	assert.Equal(t, 1, feats.CeilingExceeded)
	assert.InDelta(t, 0.2, feats.IncomeRatio, 1e-9)
	assert.Equal(t, "standard", feats.ClientSegment)
	assert.Equal(t, "FR", feats.ClientCountry)
}

func TestComputeNilProfileDefaultsToZero(t *testing.T) {
	computer := NewComputer(&fakeHistory{counts: map[time.Duration]int{}})

	feats, err := computer.Compute(context.Background(), Input{
		ClientID:        uuid.New(),
		Amount:          9999,
		Timestamp:       time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC),
		MerchantCountry: "US",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, feats.UnusualCountry)
	assert.Equal(t, 0, feats.CeilingExceeded)
	assert.Zero(t, feats.IncomeRatio)
}

func TestComputeZeroCeilingAndIncomeAreUnknown(t *testing.T) {
	computer := NewComputer(&fakeHistory{counts: map[time.Duration]int{}})

	profile := &models.Client{ResidenceCountry: "FR"}

	feats, err := computer.Compute(context.Background(), Input{
		ClientID:  uuid.New(),
		Amount:    10000,
		Timestamp: time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC),
	}, profile)
	require.NoError(t, err)

	assert.Equal(t, 0, feats.CeilingExceeded)
	assert.Zero(t, feats.IncomeRatio)
}

func TestComputeWrapsHistoryErrors(t *testing.T) {
	storeErr := errors.New("connection reset")

	computer := NewComputer(&fakeHistory{countErr: storeErr})
	_, err := computer.Compute(context.Background(), Input{
		ClientID:  uuid.New(),
		Timestamp: time.Now().UTC(),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "count 1h window")

	computer = NewComputer(&fakeHistory{counts: map[time.Duration]int{}, avgErr: storeErr})
	_, err = computer.Compute(context.Background(), Input{
		ClientID:  uuid.New(),
		Timestamp: time.Now().UTC(),
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "avg 7d window")
}

func TestUnusualCountry(t *testing.T) {
	tests := []struct {
		name      string
		residence string
		merchant  string
		want      int
	}{
		{name: "both empty", residence: "", merchant: "", want: 0},
		{name: "residence unknown", residence: "", merchant: "ES", want: 0},
		{name: "merchant unknown", residence: "FR", merchant: "", want: 0},
		{name: "whitespace only merchant", residence: "FR", merchant: "   ", want: 0},
		{name: "same country", residence: "FR", merchant: "FR", want: 0},
		{name: "same country mixed case", residence: "fr", merchant: "FR", want: 0},
		{name: "padded match", residence: " FR ", merchant: "FR", want: 0},
		{name: "different countries", residence: "FR", merchant: "ES", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unusualCountry(tt.residence, tt.merchant))
		})
	}
}
