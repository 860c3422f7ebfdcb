// Package main contains a command that estimates the trajectory of a camera from a directory or
// zip archive of frames, or from frames captured off a robot's camera, and prints it as JSON.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/slam/dataprocess"
	"go.viam.com/utils"

	visualodometry "github.com/viamrobotics/viam-visual-odometry"
	vocamera "github.com/viamrobotics/viam-visual-odometry/camera"
	"github.com/viamrobotics/viam-visual-odometry/frames"
)

var logger = golog.NewDevelopmentLogger("estimate_trajectory")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Input     string `flag:"0,usage=directory or zip archive of frames"`
	Config    string `flag:"config,usage=yaml config file overriding the defaults"`
	OutputDir string `flag:"output_dir,usage=directory to also write the trajectory and effective config to"`
	Workers   int    `flag:"workers,usage=number of concurrent workers, defaults to one per cpu"`
	Debug     bool   `flag:"debug"`

	Robot      string `flag:"robot,usage=address of the robot to capture frames from"`
	Camera     string `flag:"camera,usage=name of the robot camera to capture frames from"`
	Frames     int    `flag:"frames,default=30,usage=number of frames to capture"`
	IntervalMs int    `flag:"interval_ms,default=200,usage=milliseconds between captured frames"`
}

// Validate ensures the command has exactly one frame source.
func (args *Arguments) Validate() error {
	live := args.Robot != "" || args.Camera != ""
	switch {
	case args.Input == "" && !live:
		return errors.New("expected a frame directory or archive, or --robot and --camera")
	case args.Input != "" && live:
		return errors.New("cannot both load frames and capture them from a camera")
	case live && (args.Robot == "" || args.Camera == ""):
		return errors.New("capturing frames requires both --robot and --camera")
	case live && args.Frames < 2:
		return errors.Errorf("--frames must be at least 2, got %d", args.Frames)
	case args.IntervalMs < 0:
		return errors.Errorf("--interval_ms cannot be negative, got %d", args.IntervalMs)
	}
	return nil
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if err := argsParsed.Validate(); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = golog.NewDebugLogger("estimate_trajectory")
	}
	if argsParsed.Robot == "" {
		return run(ctx, argsParsed, nil, os.Stdout, logger)
	}

	robotClient, err := client.New(ctx, argsParsed.Robot, logger)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to robot %q", argsParsed.Robot)
	}
	defer func() {
		err = multierr.Combine(err, robotClient.Close(ctx))
	}()
	cam, err := camera.FromRobot(robotClient, argsParsed.Camera)
	if err != nil {
		return err
	}
	return run(ctx, argsParsed, cam, os.Stdout, logger)
}

type pairReport struct {
	Reference       int     `json:"reference"`
	Current         int     `json:"current"`
	Matches         int     `json:"matches"`
	Correspondences int     `json:"correspondences"`
	Scale           float64 `json:"scale,omitempty"`
	Skipped         string  `json:"skipped,omitempty"`
}

type report struct {
	Frames     []string     `json:"frames"`
	Trajectory [][3]float64 `json:"trajectory"`
	Pairs      []pairReport `json:"pairs"`
}

func newReport(input []frames.Frame, res *visualodometry.Result) *report {
	r := &report{
		Frames:     make([]string, 0, len(input)),
		Trajectory: make([][3]float64, 0, len(res.Trajectory)),
		Pairs:      make([]pairReport, 0, len(res.Pairs)),
	}
	for _, f := range input {
		r.Frames = append(r.Frames, f.Name)
	}
	for _, p := range res.Trajectory {
		r.Trajectory = append(r.Trajectory, [3]float64{p.X, p.Y, p.Z})
	}
	for _, p := range res.Pairs {
		pr := pairReport{
			Reference:       p.Reference,
			Current:         p.Current,
			Matches:         p.Matches,
			Correspondences: p.Correspondences,
		}
		if p.Skipped() {
			pr.Skipped = p.Err.Error()
		} else {
			pr.Scale = p.Pose.Scale
		}
		r.Pairs = append(r.Pairs, pr)
	}
	return r
}

// loadConfig reads the config file when one is given. Otherwise the defaults are used, with the
// calibration reported by cam when there is one.
func loadConfig(ctx context.Context, args Arguments, cam camera.Camera, logger golog.Logger) (*visualodometry.Config, error) {
	var config *visualodometry.Config
	switch {
	case args.Config != "":
		var err error
		if config, err = visualodometry.LoadConfig(args.Config, logger); err != nil {
			return nil, err
		}
	case cam != nil:
		calibration, err := vocamera.ConfigFromCamera(ctx, cam, logger)
		if err != nil {
			return nil, err
		}
		config = visualodometry.DefaultConfig()
		config.Camera = *calibration
	default:
		config = visualodometry.DefaultConfig()
		logger.Warn("no config given, using placeholder camera calibration")
	}
	if args.Workers != 0 {
		config.Pipeline.Workers = args.Workers
	}
	return config, nil
}

// run estimates the trajectory of the frames captured from cam, or loaded from args.Input when
// cam is nil, and writes the report to out.
func run(ctx context.Context, args Arguments, cam camera.Camera, out io.Writer, logger golog.Logger) error {
	config, err := loadConfig(ctx, args, cam, logger)
	if err != nil {
		return err
	}
	pipeline, err := visualodometry.New(config, logger)
	if err != nil {
		return err
	}

	var input []frames.Frame
	if cam == nil {
		if input, err = frames.Load(ctx, args.Input, logger); err != nil {
			return errors.Wrapf(err, "failed to load frames from %q", args.Input)
		}
	} else {
		interval := time.Duration(args.IntervalMs) * time.Millisecond
		if input, err = frames.Capture(ctx, cam, args.Frames, interval, logger); err != nil {
			return err
		}
		if args.OutputDir != "" {
			if err := frames.Save(filepath.Join(args.OutputDir, "frames"), input); err != nil {
				return err
			}
		}
	}

	start := time.Now()
	res, err := pipeline.Run(ctx, input)
	if err != nil {
		return err
	}
	logger.Infow("done", "frames", len(input), "elapsed", time.Since(start))

	data, err := json.MarshalIndent(newReport(input, res), "", "  ")
	if err != nil {
		return err
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return err
	}
	if args.OutputDir == "" {
		return nil
	}
	return writeOutputs(args.OutputDir, data, config, start, logger)
}

// writeOutputs stores the report and the configuration it was produced with side by side.
func writeOutputs(
	dir string,
	data []byte,
	config *visualodometry.Config,
	timeStamp time.Time,
	logger golog.Logger,
) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	reportFilename := dataprocess.CreateTimestampFilename(dir, "trajectory", ".json", timeStamp)
	if err := dataprocess.WriteBytesToFile(data, reportFilename); err != nil {
		return errors.Wrap(err, "failed to write trajectory")
	}
	configFilename := dataprocess.CreateTimestampFilename(dir, "config", ".yaml", timeStamp)
	if err := config.WriteYAML(configFilename); err != nil {
		return err
	}
	logger.Debugw("wrote outputs", "trajectory", filepath.Base(reportFilename), "config", filepath.Base(configFilename))
	return nil
}
