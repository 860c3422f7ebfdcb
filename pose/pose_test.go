package pose

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-visual-odometry/camera"
	"github.com/viamrobotics/viam-visual-odometry/internal/testhelper"
	"github.com/viamrobotics/viam-visual-odometry/internal/twoview"
	"github.com/viamrobotics/viam-visual-odometry/matching"
)

func newTestEstimator(t *testing.T) (*Estimator, *camera.Model) {
	t.Helper()
	model, err := camera.New(camera.DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	est, err := NewEstimator(DefaultConfig(), model, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return est, model
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate("path"), test.ShouldBeNil)
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"threshold", func(c *Config) { c.RansacThreshold = 0 }, "ransac_threshold"},
		{"confidence", func(c *Config) { c.RansacConfidence = 0 }, "ransac_confidence"},
		{"iterations", func(c *Config) { c.MaxIterations = -1 }, "max_iterations"},
		{"distance", func(c *Config) { c.DistanceThreshold = 0 }, "distance_threshold"},
		{"parallax", func(c *Config) { c.MinParallax = -1 }, "min_parallax"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			err := cfg.Validate("path")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}
}

func TestNewEstimator(t *testing.T) {
	_, err := NewEstimator(nil, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	model, err := camera.New(camera.DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	est, err := NewEstimator(nil, model, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.config, test.ShouldResemble, DefaultConfig())
}

func TestEstimate(t *testing.T) {
	est, model := newTestEstimator(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		rot  *mat.Dense
		t    r3.Vector
	}{
		{"sideways", testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2}},
		{"forward with roll", testhelper.RotationZ(3), r3.Vector{X: 0.1, Y: -0.05, Z: 1}},
		{"short baseline", testhelper.RotationY(-2), r3.Vector{X: -0.3, Y: 0.1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			scene := testhelper.NewScene(1, 100, tc.rot, tc.t)
			pts1, pts2 := scene.Pixels(model)
			corr := &matching.Correspondences{Points1: pts1, Points2: pts2}

			pose, err := est.Estimate(ctx, corr, rand.New(rand.NewSource(1)))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, twoview.IsRotation(pose.Rotation, 1e-9), test.ShouldBeTrue)
			test.That(t, mat.EqualApprox(pose.Rotation, tc.rot, 1e-6), test.ShouldBeTrue)
			test.That(t, pose.Direction.Norm(), test.ShouldAlmostEqual, 1, 1e-12)
			test.That(t, pose.Direction.Sub(tc.t.Normalize()).Norm(), test.ShouldBeLessThan, 1e-6)
			test.That(t, pose.Scale, test.ShouldAlmostEqual, clampScale(scene.ExpectedScale()), 1e-6)
			test.That(t, pose.Inliers, test.ShouldEqual, 100)
			test.That(t, pose.Translation().Norm(), test.ShouldAlmostEqual, pose.Scale, 1e-12)
		})
	}

	t.Run("outliers", func(t *testing.T) {
		scene := testhelper.NewScene(2, 100, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
		pts1, pts2 := scene.Pixels(model)
		bounds := r2.Rect{X: r1.Interval{Lo: 0, Hi: 1280}, Y: r1.Interval{Lo: 0, Hi: 720}}
		pts2 = testhelper.AddOutliers(3, pts2, 5, bounds)
		pose, err := est.Estimate(ctx, &matching.Correspondences{Points1: pts1, Points2: pts2}, rand.New(rand.NewSource(1)))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mat.EqualApprox(pose.Rotation, scene.Rotation, 1e-6), test.ShouldBeTrue)
		test.That(t, pose.Inliers, test.ShouldBeBetweenOrEqual, 80, 82)
	})

	t.Run("same seed same pose", func(t *testing.T) {
		scene := testhelper.NewScene(4, 60, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
		pts1, pts2 := scene.Pixels(model)
		bounds := r2.Rect{X: r1.Interval{Lo: 0, Hi: 1280}, Y: r1.Interval{Lo: 0, Hi: 720}}
		pts2 = testhelper.AddOutliers(5, pts2, 4, bounds)
		corr := &matching.Correspondences{Points1: pts1, Points2: pts2}
		a, err := est.Estimate(ctx, corr, rand.New(rand.NewSource(9)))
		test.That(t, err, test.ShouldBeNil)
		b, err := est.Estimate(ctx, corr, rand.New(rand.NewSource(9)))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, a, test.ShouldResemble, b)
	})

	t.Run("self match is degenerate", func(t *testing.T) {
		scene := testhelper.NewScene(3, 50, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
		pts1, _ := scene.Pixels(model)
		_, err := est.Estimate(ctx, &matching.Correspondences{Points1: pts1, Points2: pts1}, rand.New(rand.NewSource(1)))
		test.That(t, errors.Is(err, ErrDegenerateGeometry), test.ShouldBeTrue)
	})

	t.Run("insufficient correspondences", func(t *testing.T) {
		scene := testhelper.NewScene(3, 7, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
		pts1, pts2 := scene.Pixels(model)
		_, err := est.Estimate(ctx, &matching.Correspondences{Points1: pts1, Points2: pts2}, rand.New(rand.NewSource(1)))
		test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeTrue)

		_, err = est.Estimate(ctx, nil, rand.New(rand.NewSource(1)))
		test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeTrue)
	})

	t.Run("unrelated points are degenerate or rejected", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(5))
		pts1 := make([]r2.Point, 40)
		pts2 := make([]r2.Point, 40)
		for i := range pts1 {
			pts1[i] = r2.Point{X: rnd.Float64() * 1280, Y: rnd.Float64() * 720}
			pts2[i] = r2.Point{X: rnd.Float64() * 1280, Y: rnd.Float64() * 720}
		}
		pose, err := est.Estimate(ctx, &matching.Correspondences{Points1: pts1, Points2: pts2}, rand.New(rand.NewSource(1)))
		if err != nil {
			test.That(t, errors.Is(err, ErrDegenerateGeometry), test.ShouldBeTrue)
			return
		}
		test.That(t, twoview.IsRotation(pose.Rotation, 1e-6), test.ShouldBeTrue)
		test.That(t, pose.Scale, test.ShouldBeBetweenOrEqual, MinScale, MaxScale)
	})

	t.Run("canceled", func(t *testing.T) {
		scene := testhelper.NewScene(1, 100, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
		pts1, pts2 := scene.Pixels(model)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := est.Estimate(cctx, &matching.Correspondences{Points1: pts1, Points2: pts2}, rand.New(rand.NewSource(1)))
		test.That(t, err, test.ShouldBeError, context.Canceled)
	})
}

func TestEstimateScale(t *testing.T) {
	for _, tc := range []struct {
		name     string
		t        r3.Vector
		expected float64
	}{
		// median depth of about 60 baselines
		{"far scene clamps to minimum", r3.Vector{X: 0.1}, MinScale},
		// median depth of about 0.06 baselines
		{"near scene clamps to maximum", r3.Vector{X: 100}, MaxScale},
	} {
		t.Run(tc.name, func(t *testing.T) {
			scene := testhelper.NewScene(6, 30, twoview.Eye(3), tc.t)
			pts1, pts2 := scene.Normalized()
			scale := EstimateScale(scene.Rotation, tc.t.Normalize(), pts1, pts2)
			test.That(t, scale, test.ShouldEqual, tc.expected)
		})
	}

	t.Run("in range", func(t *testing.T) {
		scene := testhelper.NewScene(7, 31, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
		pts1, pts2 := scene.Normalized()
		scale := EstimateScale(scene.Rotation, scene.Translation.Normalize(), pts1, pts2)
		test.That(t, scale, test.ShouldAlmostEqual, scene.ExpectedScale(), 1e-6)
		test.That(t, scale, test.ShouldBeBetweenOrEqual, MinScale, MaxScale)
	})

	t.Run("no points falls back", func(t *testing.T) {
		test.That(t, EstimateScale(twoview.Eye(3), r3.Vector{X: 1}, nil, nil), test.ShouldEqual, FallbackScale)
	})

	t.Run("near zero median falls back", func(t *testing.T) {
		test.That(t, scaleFromDepths([]float64{0, 1e-9, -1e-9}), test.ShouldEqual, FallbackScale)
	})

	t.Run("clamp", func(t *testing.T) {
		test.That(t, clampScale(0.01), test.ShouldEqual, MinScale)
		test.That(t, clampScale(100), test.ShouldEqual, MaxScale)
		test.That(t, clampScale(2.5), test.ShouldEqual, 2.5)
		test.That(t, clampScale(-3), test.ShouldEqual, MinScale)
	})
}

func TestMedianParallax(t *testing.T) {
	pts := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}
	test.That(t, medianParallax(pts, pts), test.ShouldEqual, 0.0)
	shifted := []r2.Point{{X: 3, Y: 4}, {X: 1, Y: 2}, {X: 2, Y: 4}}
	test.That(t, medianParallax(pts, shifted), test.ShouldEqual, 2.0)
	test.That(t, medianParallax(nil, nil), test.ShouldEqual, 0.0)
}

func TestDegenerateKeepsCause(t *testing.T) {
	for _, cause := range []error{
		twoview.ErrNoModel,
		errors.Wrap(twoview.ErrDegenerate, "essential matrix"),
	} {
		err := errors.Wrap(degenerate(cause), "frames 0 and 1")
		test.That(t, errors.Is(err, ErrDegenerateGeometry), test.ShouldBeTrue)
		test.That(t, errors.Is(err, errors.Cause(cause)), test.ShouldBeTrue)
		test.That(t, errors.Is(err, ErrInsufficientCorrespondences), test.ShouldBeFalse)
		test.That(t, err.Error(), test.ShouldContainSubstring, cause.Error())
	}
}
