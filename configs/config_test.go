package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "fraud-decisions", cfg.Redis.StreamName)
	assert.Equal(t, "alert-workers", cfg.Redis.ConsumerGroup)
	assert.Equal(t, "fraud-alerts", cfg.Kafka.AlertTopic)
	assert.Equal(t, "fraud-decisions-dlq", cfg.Worker.DeadLetterStream)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, "ml/models", cfg.Model.ArtifactDir)
	assert.Equal(t, 28, cfg.Model.LatentDim)
	assert.Equal(t, 0.4, cfg.Policy.LowMax)
	assert.Equal(t, 0.7, cfg.Policy.MediumMax)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_LATENT_DIM", "16")
	t.Setenv("POLICY_LOW_MAX", "0.3")
	t.Setenv("WORKER_POLL_INTERVAL", "250ms")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 16, cfg.Model.LatentDim)
	assert.Equal(t, 0.3, cfg.Policy.LowMax)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
}

func TestEnvHelpersFallBackOnBadValues(t *testing.T) {
	t.Setenv("MODEL_LATENT_DIM", "not-a-number")
	t.Setenv("POLICY_LOW_MAX", "not-a-float")
	t.Setenv("WORKER_POLL_INTERVAL", "soon")

	cfg := Load()

	assert.Equal(t, 28, cfg.Model.LatentDim)
	assert.Equal(t, 0.4, cfg.Policy.LowMax)
	assert.Equal(t, 100*time.Millisecond, cfg.Worker.PollInterval)
}
