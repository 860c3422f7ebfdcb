package visualodometry

import (
	"os"
	"runtime"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"

	"github.com/viamrobotics/viam-visual-odometry/camera"
	"github.com/viamrobotics/viam-visual-odometry/features"
	"github.com/viamrobotics/viam-visual-odometry/matching"
	"github.com/viamrobotics/viam-visual-odometry/pose"
)

// ReferenceMode selects the frame each new frame is compared with.
type ReferenceMode string

const (
	// Previous compares every frame with the frame right before it in the input, even when the
	// pair ending at that frame was skipped.
	Previous ReferenceMode = "previous"
	// LastAccepted compares every frame with the last frame whose pose was integrated. Pairs
	// are then processed one after the other.
	LastAccepted ReferenceMode = "last_accepted"
)

var supportedReferenceModes = []ReferenceMode{Previous, LastAccepted}

// PipelineConfig holds the orchestration parameters.
type PipelineConfig struct {
	// Workers bounds the number of concurrent extractions and pair estimations. Zero means one
	// worker per CPU.
	Workers   int           `yaml:"workers"`
	Seed      uint64        `yaml:"seed"`
	Reference ReferenceMode `yaml:"reference"`
}

// Config is the configuration of a visual odometry Pipeline.
type Config struct {
	Camera   camera.Config   `yaml:"camera"`
	Features features.Config `yaml:"features"`
	Matching matching.Config `yaml:"matching"`
	Pose     pose.Config     `yaml:"pose"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
}

// DefaultConfig returns a configuration with every parameter set to its default.
func DefaultConfig() *Config {
	return &Config{
		Camera:   *camera.DefaultConfig(),
		Features: *features.DefaultConfig(),
		Matching: *matching.DefaultConfig(),
		Pose:     *pose.DefaultConfig(),
		Pipeline: PipelineConfig{Reference: Previous},
	}
}

// LoadConfig reads the YAML file at path over the defaults and validates the result.
func LoadConfig(path string, logger golog.Logger) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}
	config := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	if err := config.Validate(path); err != nil {
		return nil, err
	}
	if config.Camera.IsDefault() {
		logger.Warnw("using placeholder camera calibration, trajectories will be distorted", "config", path)
	}
	return config, nil
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if err := config.Camera.Validate(path + ".camera"); err != nil {
		return err
	}
	if err := config.Features.Validate(path + ".features"); err != nil {
		return err
	}
	if err := config.Matching.Validate(path + ".matching"); err != nil {
		return err
	}
	if err := config.Pose.Validate(path + ".pose"); err != nil {
		return err
	}
	return config.Pipeline.Validate(path + ".pipeline")
}

// Validate ensures all parts of the config are valid.
func (config *PipelineConfig) Validate(path string) error {
	if config.Workers < 0 {
		return goutils.NewConfigValidationError(path, errors.New(`"workers" cannot be negative`))
	}
	if config.Reference == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "reference")
	}
	if !slices.Contains(supportedReferenceModes, config.Reference) {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("unsupported reference %q, expected one of %v", config.Reference, supportedReferenceModes))
	}
	return nil
}

func (config *PipelineConfig) workers() int {
	if config.Workers == 0 {
		return runtime.NumCPU()
	}
	return config.Workers
}

// WriteYAML writes the configuration to path.
func (config *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "error while marshaling config")
	}
	//nolint:gosec
	return os.WriteFile(path, data, 0o644)
}
