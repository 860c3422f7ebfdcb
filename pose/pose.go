// Package pose recovers the relative rotation and scaled translation between two views from
// pixel correspondences.
package pose

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-visual-odometry/camera"
	"github.com/viamrobotics/viam-visual-odometry/internal/twoview"
	"github.com/viamrobotics/viam-visual-odometry/matching"
)

const rotationTolerance = 1e-6

// RelativePose is the motion of the camera between two views: a point X in the first camera
// frame is at Rotation*X + Direction*Scale in the second.
type RelativePose struct {
	Rotation  *mat.Dense
	Direction r3.Vector
	Scale     float64
	// Inliers is the number of correspondences consistent with the pose.
	Inliers int
}

// Translation returns the scaled translation.
func (p *RelativePose) Translation() r3.Vector {
	return p.Direction.Mul(p.Scale)
}

// Estimator recovers relative poses. It is safe for concurrent use as long as every call gets
// its own random source.
type Estimator struct {
	config *Config
	camera *camera.Model
	logger golog.Logger
}

// NewEstimator returns an Estimator for images taken by the given camera.
func NewEstimator(config *Config, model *camera.Model, logger golog.Logger) (*Estimator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate("pose"); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("pose estimation requires a camera model")
	}
	return &Estimator{config: config, camera: model, logger: logger}, nil
}

// Estimate recovers the relative pose between the two views of corr. It returns
// ErrInsufficientCorrespondences for fewer than 8 correspondences and ErrDegenerateGeometry when
// the correspondences do not determine a pose, including when both views are identical.
func (e *Estimator) Estimate(ctx context.Context, corr *matching.Correspondences, rnd *rand.Rand) (*RelativePose, error) {
	ctx, span := trace.StartSpan(ctx, "pose::Estimator::Estimate")
	defer span.End()

	if corr == nil || corr.Len() < twoview.MinPoints {
		n := 0
		if corr != nil {
			n = corr.Len()
		}
		return nil, errors.Wrapf(ErrInsufficientCorrespondences, "got %d, need %d", n, twoview.MinPoints)
	}
	pts1 := e.camera.Normalize(corr.Points1)
	pts2 := e.camera.Normalize(corr.Points2)
	if parallax := medianParallax(pts1, pts2); parallax < e.config.MinParallax {
		return nil, errors.Wrapf(ErrDegenerateGeometry, "median parallax %g is below %g", parallax, e.config.MinParallax)
	}

	res, err := twoview.RANSAC(ctx, &essentialProblem{pts1: pts1, pts2: pts2}, twoview.RANSACParams{
		Threshold:     e.config.RansacThreshold,
		Confidence:    e.config.RansacConfidence,
		MaxIterations: e.config.MaxIterations,
	}, rnd)
	if err != nil {
		if errors.Is(err, twoview.ErrNoModel) {
			return nil, degenerate(err)
		}
		return nil, err
	}

	best, err := e.selectPose(res.Model, pts1, pts2, res.Inliers)
	if err != nil {
		return nil, err
	}
	in1 := make([]r2.Point, 0, best.count)
	in2 := make([]r2.Point, 0, best.count)
	for i, ok := range best.mask {
		if ok {
			in1 = append(in1, pts1[i])
			in2 = append(in2, pts2[i])
		}
	}
	scale := EstimateScale(best.rotation, best.direction, in1, in2)
	e.logger.Debugw("estimated relative pose",
		"correspondences", corr.Len(),
		"essential_inliers", res.NumInliers,
		"chirality_inliers", best.count,
		"scale", scale)
	return &RelativePose{
		Rotation:  best.rotation,
		Direction: best.direction,
		Scale:     scale,
		Inliers:   best.count,
	}, nil
}

type poseCandidate struct {
	rotation  *mat.Dense
	direction r3.Vector
	mask      []bool
	count     int
}

// selectPose decomposes the essential matrix and keeps the candidate placing the most essential
// inliers in front of both cameras, closer than the distance threshold.
func (e *Estimator) selectPose(essential *mat.Dense, pts1, pts2 []r2.Point, inliers []bool) (*poseCandidate, error) {
	r1, r2, t, err := twoview.DecomposeEssential(essential)
	if err != nil {
		return nil, degenerate(err)
	}
	var best *poseCandidate
	for _, c := range []poseCandidate{
		{rotation: r1, direction: t},
		{rotation: r1, direction: t.Mul(-1)},
		{rotation: r2, direction: t},
		{rotation: r2, direction: t.Mul(-1)},
	} {
		c := c
		c.mask = make([]bool, len(pts1))
		for i := range pts1 {
			if !inliers[i] {
				continue
			}
			if e.inFront(c.rotation, c.direction, pts1[i], pts2[i]) {
				c.mask[i] = true
				c.count++
			}
		}
		if best == nil || c.count > best.count {
			best = &c
		}
	}
	if best.count < twoview.MinPoints {
		return nil, errors.Wrapf(ErrDegenerateGeometry, "only %d points pass the chirality check", best.count)
	}
	if !twoview.IsRotation(best.rotation, rotationTolerance) {
		return nil, errors.Wrap(ErrDegenerateGeometry, "recovered rotation is not orthonormal")
	}
	return best, nil
}

// inFront reports whether the triangulated point has a depth in (0, DistanceThreshold) in both
// cameras.
func (e *Estimator) inFront(rot *mat.Dense, t r3.Vector, p1, p2 r2.Point) bool {
	x, ok := twoview.Triangulate(rot, t, p1, p2)
	if !ok {
		return false
	}
	if x.Z <= 0 || x.Z >= e.config.DistanceThreshold {
		return false
	}
	z2 := twoview.MulVec(rot, x).Add(t).Z
	return z2 > 0 && z2 < e.config.DistanceThreshold
}

// medianParallax is the median displacement between corresponding points.
func medianParallax(pts1, pts2 []r2.Point) float64 {
	d := make([]float64, len(pts1))
	for i := range pts1 {
		d[i] = pts1[i].Sub(pts2[i]).Norm()
	}
	median, err := stats.Median(d)
	if err != nil {
		return 0
	}
	return median
}

// essentialProblem fits an essential matrix to normalized correspondences.
type essentialProblem struct {
	pts1, pts2 []r2.Point
}

func (p *essentialProblem) Len() int        { return len(p.pts1) }
func (p *essentialProblem) SampleSize() int { return twoview.MinPoints }

func (p *essentialProblem) Fit(indices []int) (*mat.Dense, error) {
	s1 := make([]r2.Point, len(indices))
	s2 := make([]r2.Point, len(indices))
	for i, idx := range indices {
		s1[i], s2[i] = p.pts1[idx], p.pts2[idx]
	}
	e, err := twoview.EightPoint(s1, s2)
	if err != nil {
		return nil, err
	}
	return twoview.EnforceEssential(e)
}

func (p *essentialProblem) Residual(model *mat.Dense, i int) float64 {
	return twoview.SampsonError(model, p.pts1[i], p.pts2[i])
}
