package matching

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Config holds the correspondence matching parameters.
type Config struct {
	// RatioThreshold is the maximum ratio between the nearest and second nearest descriptor distances.
	RatioThreshold float64 `yaml:"ratio_threshold"`
	// MinFilterMatches is the smallest number of ratio test survivors filtered by the fundamental matrix.
	MinFilterMatches int `yaml:"min_filter_matches"`
	// RansacThreshold is the maximum distance in pixels from a point to its epipolar line.
	RansacThreshold  float64 `yaml:"ransac_threshold"`
	RansacConfidence float64 `yaml:"ransac_confidence"`
	MaxIterations    int     `yaml:"max_iterations"`
}

// DefaultConfig returns the default matching parameters.
func DefaultConfig() *Config {
	return &Config{
		RatioThreshold:   0.6,
		MinFilterMatches: 9,
		RansacThreshold:  1.0,
		RansacConfidence: 0.99,
		MaxIterations:    1000,
	}
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.RatioThreshold <= 0 || config.RatioThreshold > 1 {
		return goutils.NewConfigValidationError(path, errors.New(`"ratio_threshold" must be in (0, 1]`))
	}
	if config.MinFilterMatches < 8 {
		return goutils.NewConfigValidationError(path, errors.New(`"min_filter_matches" must be at least 8`))
	}
	if config.RansacThreshold <= 0 {
		return goutils.NewConfigValidationError(path, errors.New(`"ransac_threshold" must be positive`))
	}
	if config.RansacConfidence <= 0 || config.RansacConfidence >= 1 {
		return goutils.NewConfigValidationError(path, errors.New(`"ransac_confidence" must be in (0, 1)`))
	}
	if config.MaxIterations <= 0 {
		return goutils.NewConfigValidationError(path, errors.New(`"max_iterations" must be positive`))
	}
	return nil
}
