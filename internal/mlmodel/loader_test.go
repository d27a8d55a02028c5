package mlmodel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/backend/configs"
)

func TestLoaderGetCachesBundle(t *testing.T) {
	dir := writeArtifacts(t)
	loader := NewLoader(configs.ModelConfig{ArtifactDir: dir, LatentDim: testLatentDim})

	first, err := loader.Get()
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := loader.Get()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoaderFailureIsTerminal(t *testing.T) {
	loader := NewLoader(configs.ModelConfig{ArtifactDir: t.TempDir(), LatentDim: testLatentDim})

	_, firstErr := loader.Get()
	require.Error(t, firstErr)

	// Later calls report the original failure, they do not retry the load.
	_, secondErr := loader.Get()
	assert.Equal(t, firstErr, secondErr)
	assert.Error(t, loader.Healthy())
}

func TestLoaderConcurrentGet(t *testing.T) {
	dir := writeArtifacts(t)
	loader := NewLoader(configs.ModelConfig{ArtifactDir: dir, LatentDim: testLatentDim})

	const goroutines = 16
	bundles := make([]*Bundle, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := loader.Get()
			assert.NoError(t, err)
			bundles[i] = b
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, bundles[0], bundles[i])
	}
}

func TestLoaderHealthyForcesLoad(t *testing.T) {
	dir := writeArtifacts(t)
	loader := NewLoader(configs.ModelConfig{ArtifactDir: dir, LatentDim: testLatentDim})

	require.NoError(t, loader.Healthy())

	b, err := loader.Get()
	require.NoError(t, err)
	assert.NotNil(t, b)
}
