package services

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/backend/internal/models"
)

func TestRandomScoreRequestShape(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	clientID := uuid.New()

	validChannels := map[string]bool{
		models.ChannelPOS:       true,
		models.ChannelECommerce: true,
		models.ChannelATM:       true,
	}
	validCountries := make(map[string]bool)
	for _, c := range seedCountries {
		validCountries[c] = true
	}

	now := time.Now().UTC()

	for i := 0; i < 500; i++ {
		req := randomScoreRequest(rng, clientID)

		assert.Equal(t, clientID.String(), req.ClientID)
		_, err := uuid.Parse(req.CardID)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, req.Amount, 5.0)
		assert.LessOrEqual(t, req.Amount, 3000.0)
		assert.Equal(t, "EUR", req.Currency)
		assert.True(t, validChannels[req.Channel], "unexpected channel %q", req.Channel)
		assert.True(t, validCountries[req.MerchantCountry], "unexpected country %q", req.MerchantCountry)

		require.NotNil(t, req.Timestamp)
		assert.False(t, req.Timestamp.After(now.Add(time.Minute)))
		assert.False(t, req.Timestamp.Before(now.Add(-73*time.Hour)))
	}
}

func TestRandomScoreRequestCardsAreUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	clientID := uuid.New()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		req := randomScoreRequest(rng, clientID)
		assert.False(t, seen[req.CardID])
		seen[req.CardID] = true
	}
}

func TestRandomScoreRequestAmountDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	clientID := uuid.New()

	small := 0
	total := 2000
	for i := 0; i < total; i++ {
		if randomScoreRequest(rng, clientID).Amount < 150 {
			small++
		}
	}

	// Everyday purchases dominate the mix
	assert.Greater(t, small, total/2)
}
