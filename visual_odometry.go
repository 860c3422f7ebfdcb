// Package visualodometry estimates the trajectory of a monocular camera from an ordered sequence
// of images by chaining the relative poses of consecutive frames.
package visualodometry

import (
	"context"
	"image"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"github.com/viamrobotics/viam-visual-odometry/camera"
	"github.com/viamrobotics/viam-visual-odometry/features"
	"github.com/viamrobotics/viam-visual-odometry/frames"
	"github.com/viamrobotics/viam-visual-odometry/matching"
	"github.com/viamrobotics/viam-visual-odometry/pose"
	"github.com/viamrobotics/viam-visual-odometry/trajectory"
)

// minCorrespondences gates the number of correspondences left after geometric filtering
// (PairOutcome.Correspondences), not the ratio test survivors (PairOutcome.Matches). Pairs with
// fewer are skipped with ErrInsufficientCorrespondences before pose estimation.
const minCorrespondences = 8

// FeatureExtractor computes the features of an image.
type FeatureExtractor interface {
	Extract(ctx context.Context, img *image.Gray) (*features.Features, error)
}

// Matcher finds correspondences between the features of two images.
type Matcher interface {
	Match(ctx context.Context, f1, f2 *features.Features, rnd *rand.Rand) (*matching.Correspondences, error)
}

// PoseEstimator recovers the relative pose between two images from their correspondences.
type PoseEstimator interface {
	Estimate(ctx context.Context, corr *matching.Correspondences, rnd *rand.Rand) (*pose.RelativePose, error)
}

// PairOutcome records what happened to the pair of frames (Reference, Current).
type PairOutcome struct {
	Reference int
	Current   int
	// Matches is the number of ratio test survivors, Correspondences the number left after
	// geometric filtering.
	Matches         int
	Correspondences int
	// Pose is set when the pair was integrated; Err is set when it was skipped.
	Pose *pose.RelativePose
	Err  error
}

// Skipped reports whether the pair was left out of the trajectory.
func (o *PairOutcome) Skipped() bool {
	return o.Err != nil
}

// Result is the outcome of a Run.
type Result struct {
	// Trajectory starts at the origin and holds one more position per integrated pair.
	Trajectory []r3.Vector
	Pairs      []PairOutcome
}

// Pipeline estimates trajectories. A Pipeline holds no per-run state and can run concurrently.
type Pipeline struct {
	extractor FeatureExtractor
	matcher   Matcher
	estimator PoseEstimator
	config    PipelineConfig
	logger    golog.Logger
}

// New returns a Pipeline built from config.
func New(config *Config, logger golog.Logger) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate("config"); err != nil {
		return nil, err
	}
	model, err := camera.New(&config.Camera)
	if err != nil {
		return nil, errors.Wrap(err, "configuring camera error")
	}
	extractor, err := features.NewExtractor(&config.Features, logger)
	if err != nil {
		return nil, err
	}
	matcher, err := matching.NewMatcher(&config.Matching, logger)
	if err != nil {
		return nil, err
	}
	estimator, err := pose.NewEstimator(&config.Pose, model, logger)
	if err != nil {
		return nil, err
	}
	return NewFromComponents(extractor, matcher, estimator, config.Pipeline, logger)
}

// NewFromComponents returns a Pipeline using the given components.
func NewFromComponents(
	extractor FeatureExtractor,
	matcher Matcher,
	estimator PoseEstimator,
	config PipelineConfig,
	logger golog.Logger,
) (*Pipeline, error) {
	if extractor == nil || matcher == nil || estimator == nil {
		return nil, errors.New("pipeline requires an extractor, a matcher and a pose estimator")
	}
	if config.Reference == "" {
		config.Reference = Previous
	}
	if err := config.Validate("pipeline"); err != nil {
		return nil, err
	}
	return &Pipeline{
		extractor: extractor,
		matcher:   matcher,
		estimator: estimator,
		config:    config,
		logger:    logger,
	}, nil
}

// Run estimates the trajectory of the camera that took frames, in order. Pairs that yield no
// pose are skipped and reported in the result. It returns ErrInsufficientFrames for fewer than
// two frames and ErrEmptyTrajectory when every pair was skipped.
func (p *Pipeline) Run(ctx context.Context, input []frames.Frame) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "visualodometry::Pipeline::Run")
	defer span.End()

	if len(input) < 2 {
		return nil, errors.Wrapf(ErrInsufficientFrames, "got %d", len(input))
	}
	for i, f := range input {
		if f.Image == nil {
			return nil, errors.Errorf("frame %d (%q) has no image", i, f.Name)
		}
	}

	feats, err := p.extractAll(ctx, input)
	if err != nil {
		return nil, err
	}
	cache := newFeatureCache(feats)

	integrator := trajectory.NewIntegrator()
	var outcomes []PairOutcome
	switch p.config.Reference {
	case LastAccepted:
		outcomes, err = p.runSequential(ctx, cache, integrator)
	default:
		outcomes, err = p.runParallel(ctx, cache, integrator)
	}
	if err != nil {
		return nil, err
	}

	skipped := 0
	for i := range outcomes {
		if outcomes[i].Skipped() {
			skipped++
		}
	}
	if integrator.Len() < 2 {
		p.logger.Warnw("no pair could be integrated", "frames", len(input))
		return nil, errors.Wrapf(ErrEmptyTrajectory, "all %d pairs were skipped", len(outcomes))
	}
	p.logger.Infow("estimated trajectory",
		"frames", len(input),
		"integrated", len(outcomes)-skipped,
		"skipped", skipped)
	return &Result{Trajectory: integrator.Trajectory(), Pairs: outcomes}, nil
}

// extractAll computes the features of every frame exactly once, on at most config.Workers
// goroutines.
func (p *Pipeline) extractAll(ctx context.Context, input []frames.Frame) ([]*features.Features, error) {
	ctx, span := trace.StartSpan(ctx, "visualodometry::Pipeline::extractAll")
	defer span.End()

	feats := make([]*features.Features, len(input))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.workers())
	for i := range input {
		i := i
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() (err error) {
			defer recoverPanic(&err, "extracting features of frame %d", i)
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := p.extractor.Extract(gctx, input[i].Image)
			if err != nil {
				return errors.Wrapf(err, "extracting features of frame %d (%q)", i, input[i].Name)
			}
			feats[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "feature extraction interrupted")
	}
	return feats, nil
}

// featureCache holds the features of every frame until no pair left to estimate reads them.
type featureCache struct {
	mu      sync.Mutex
	feats   []*features.Features
	pending []int
}

// newFeatureCache counts, for each frame, the consecutive pairs it belongs to.
func newFeatureCache(feats []*features.Features) *featureCache {
	pending := make([]int, len(feats))
	for i := range pending {
		if i > 0 {
			pending[i]++
		}
		if i < len(pending)-1 {
			pending[i]++
		}
	}
	return &featureCache{feats: feats, pending: pending}
}

func (c *featureCache) size() int {
	return len(c.feats)
}

func (c *featureCache) get(i int) *features.Features {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feats[i]
}

// done marks one pair reading frame i as estimated and drops the features once all are.
func (c *featureCache) done(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[i]--
	if c.pending[i] <= 0 {
		c.feats[i] = nil
	}
}

// release drops the features of frame i regardless of pending pairs.
func (c *featureCache) release(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[i] = 0
	c.feats[i] = nil
}

// live returns the number of frames whose features are still held.
func (c *featureCache) live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.feats {
		if f != nil {
			n++
		}
	}
	return n
}

// runParallel estimates every consecutive pair on the worker pool, then integrates the outcomes
// in input order.
func (p *Pipeline) runParallel(
	ctx context.Context,
	cache *featureCache,
	integrator *trajectory.Integrator,
) ([]PairOutcome, error) {
	outcomes := make([]PairOutcome, cache.size()-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.workers())
	for i := range outcomes {
		i := i
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() (err error) {
			defer recoverPanic(&err, "estimating pair %d", i)
			outcome, err := p.estimatePair(gctx, cache.get(i), cache.get(i+1), i, i, i+1)
			cache.done(i)
			cache.done(i + 1)
			if err != nil {
				return err
			}
			outcomes[i] = *outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range outcomes {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "integration interrupted")
		}
		p.integrate(integrator, &outcomes[i])
	}
	return outcomes, nil
}

// runSequential compares every frame with the last integrated frame. Only the reference and the
// frames not yet compared keep their features.
func (p *Pipeline) runSequential(
	ctx context.Context,
	cache *featureCache,
	integrator *trajectory.Integrator,
) ([]PairOutcome, error) {
	outcomes := make([]PairOutcome, 0, cache.size()-1)
	reference := 0
	for current := 1; current < cache.size(); current++ {
		outcome, err := p.estimatePair(ctx, cache.get(reference), cache.get(current), current-1, reference, current)
		if err != nil {
			return nil, err
		}
		if p.integrate(integrator, outcome) {
			cache.release(reference)
			reference = current
		} else {
			cache.release(current)
		}
		outcomes = append(outcomes, *outcome)
	}
	return outcomes, nil
}

// estimatePair matches and estimates the pose between two frames. Pairwise failures are
// recorded in the outcome; any other error aborts the run.
func (p *Pipeline) estimatePair(
	ctx context.Context,
	refFeats, curFeats *features.Features,
	pairIndex, reference, current int,
) (*PairOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "pair estimation interrupted")
	}
	// seeded by pair so results do not depend on scheduling
	rnd := rand.New(rand.NewSource(p.config.Seed + uint64(pairIndex)))
	outcome := &PairOutcome{Reference: reference, Current: current}

	corr, err := p.matcher.Match(ctx, refFeats, curFeats, rnd)
	if err != nil {
		return nil, errors.Wrapf(err, "matching frames %d and %d", reference, current)
	}
	outcome.Matches = len(corr.Matches)
	outcome.Correspondences = corr.Len()
	if corr.Len() < minCorrespondences {
		outcome.Err = errors.Wrapf(ErrInsufficientCorrespondences,
			"frames %d and %d have %d correspondences", reference, current, corr.Len())
		return outcome, nil
	}

	relPose, err := p.estimator.Estimate(ctx, corr, rnd)
	switch {
	case err == nil:
		outcome.Pose = relPose
	case isPairwise(err):
		outcome.Err = errors.Wrapf(err, "frames %d and %d", reference, current)
	default:
		return nil, errors.Wrapf(err, "estimating pose between frames %d and %d", reference, current)
	}
	return outcome, nil
}

// integrate adds the outcome's pose to the trajectory and reports whether it did.
func (p *Pipeline) integrate(integrator *trajectory.Integrator, outcome *PairOutcome) bool {
	if outcome.Skipped() {
		p.logger.Warnw("skipping pair",
			"reference", outcome.Reference,
			"current", outcome.Current,
			"error", outcome.Err)
		return false
	}
	position := integrator.Integrate(outcome.Pose)
	p.logger.Debugw("integrated pair",
		"reference", outcome.Reference,
		"current", outcome.Current,
		"scale", outcome.Pose.Scale,
		"position", position)
	return true
}

func recoverPanic(err *error, format string, args ...interface{}) {
	if r := recover(); r != nil {
		*err = errors.Errorf("panic while "+format+": %v", append(args, r)...)
	}
}
