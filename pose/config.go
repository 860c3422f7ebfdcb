package pose

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Config holds the pose estimation parameters.
type Config struct {
	// RansacThreshold is the inlier threshold on the Sampson distance, in normalized image units.
	RansacThreshold  float64 `yaml:"ransac_threshold"`
	RansacConfidence float64 `yaml:"ransac_confidence"`
	MaxIterations    int     `yaml:"max_iterations"`
	// DistanceThreshold is the largest depth, in baselines, at which a point still counts for
	// the chirality check.
	DistanceThreshold float64 `yaml:"distance_threshold"`
	// MinParallax is the median displacement, in normalized image units, under which the two
	// views are considered identical.
	MinParallax float64 `yaml:"min_parallax"`
}

// DefaultConfig returns the default pose estimation parameters.
func DefaultConfig() *Config {
	return &Config{
		RansacThreshold:   0.001,
		RansacConfidence:  0.999,
		MaxIterations:     1000,
		DistanceThreshold: 50,
		MinParallax:       1e-4,
	}
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.RansacThreshold <= 0 {
		return goutils.NewConfigValidationError(path, errors.New(`"ransac_threshold" must be positive`))
	}
	if config.RansacConfidence <= 0 || config.RansacConfidence >= 1 {
		return goutils.NewConfigValidationError(path, errors.New(`"ransac_confidence" must be in (0, 1)`))
	}
	if config.MaxIterations <= 0 {
		return goutils.NewConfigValidationError(path, errors.New(`"max_iterations" must be positive`))
	}
	if config.DistanceThreshold <= 0 {
		return goutils.NewConfigValidationError(path, errors.New(`"distance_threshold" must be positive`))
	}
	if config.MinParallax < 0 {
		return goutils.NewConfigValidationError(path, errors.New(`"min_parallax" cannot be negative`))
	}
	return nil
}
