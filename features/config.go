package features

import (
	goutils "go.viam.com/utils"
)

const (
	defaultMaxFeatures       = 5000
	defaultContrastThreshold = 0.04
	defaultNMSWindow         = 7
	defaultBlurSigma         = 1.0
)

// Config holds the feature extraction parameters.
type Config struct {
	// MaxFeatures is the number of strongest corners kept per image.
	MaxFeatures int `yaml:"max_features"`
	// ContrastThreshold is the minimum FAST intensity difference as a fraction of full scale.
	ContrastThreshold float64 `yaml:"contrast_threshold"`
	// NMSWindow is the side of the non-maximum suppression window, in pixels.
	NMSWindow int `yaml:"nms_window"`
	// BlurSigma is the gaussian blur applied before computing descriptor gradients.
	BlurSigma float64 `yaml:"blur_sigma"`
}

// DefaultConfig returns the default feature extraction parameters.
func DefaultConfig() *Config {
	return &Config{
		MaxFeatures:       defaultMaxFeatures,
		ContrastThreshold: defaultContrastThreshold,
		NMSWindow:         defaultNMSWindow,
		BlurSigma:         defaultBlurSigma,
	}
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.MaxFeatures <= 0 {
		return goutils.NewConfigValidationError(path, errNonPositive("max_features"))
	}
	if config.ContrastThreshold <= 0 || config.ContrastThreshold >= 1 {
		return goutils.NewConfigValidationError(path, errOutOfRange("contrast_threshold", "(0, 1)"))
	}
	if config.NMSWindow < 1 || config.NMSWindow%2 == 0 {
		return goutils.NewConfigValidationError(path, errOutOfRange("nms_window", "odd and positive"))
	}
	if config.BlurSigma < 0 {
		return goutils.NewConfigValidationError(path, errOutOfRange("blur_sigma", "non-negative"))
	}
	return nil
}
