package mlmodel

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fraudshield/backend/configs"
)

// Loader owns the process-wide model bundle. It is an explicit handle built
// by the composition root, not an ambient global, so tests can substitute a
// fake bundle. The first Get loads and validates the artifacts; every later
// call, from any goroutine, observes the same bundle or the same error.
type Loader struct {
	cfg configs.ModelConfig

	once   sync.Once
	bundle *Bundle
	err    error
}

// NewLoader creates a loader for the configured artifact directory. No I/O
// happens until the first Get.
func NewLoader(cfg configs.ModelConfig) *Loader {
	return &Loader{cfg: cfg}
}

// Get returns the cached bundle, loading it on first call. A load failure is
// terminal for the process lifetime: every caller sees the same error, since
// a failure here affects every subsequent scoring call identically.
func (l *Loader) Get() (*Bundle, error) {
	l.once.Do(func() {
		l.bundle, l.err = load(l.cfg.ArtifactDir, l.cfg.LatentDim)
		if l.err != nil {
			log.Error().Err(l.err).Str("dir", l.cfg.ArtifactDir).Msg("Model bundle load failed")
			return
		}
		log.Info().
			Str("dir", l.cfg.ArtifactDir).
			Str("supervised_version", l.bundle.Supervised.Version).
			Str("anomaly_version", l.bundle.Anomaly.Version).
			Bool("calibrated_thresholds", l.bundle.Thresholds != nil).
			Msg("Model bundle loaded")
	})
	return l.bundle, l.err
}

// Healthy reports whether the bundle can be served, forcing a load if none
// happened yet. Used by the startup health check.
func (l *Loader) Healthy() error {
	_, err := l.Get()
	return err
}
