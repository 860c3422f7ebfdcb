package twoview

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-visual-odometry/internal/testhelper"
)

func skew(t r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -t.Z, t.Y,
		t.Z, 0, -t.X,
		-t.Y, t.X, 0,
	})
}

func groundTruthEssential(scene *testhelper.Scene) *mat.Dense {
	var e mat.Dense
	e.Mul(skew(scene.Translation), scene.Rotation)
	e.Scale(1/mat.Norm(&e, 2), &e)
	return &e
}

func equalUpToSign(a, b *mat.Dense, tol float64) bool {
	var neg mat.Dense
	neg.Scale(-1, b)
	return mat.EqualApprox(a, b, tol) || mat.EqualApprox(a, &neg, tol)
}

func TestEightPoint(t *testing.T) {
	scene := testhelper.NewScene(1, 50, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
	pts1, pts2 := scene.Normalized()

	t.Run("exact correspondences", func(t *testing.T) {
		e, err := EightPoint(pts1, pts2)
		test.That(t, err, test.ShouldBeNil)
		for i := range pts1 {
			test.That(t, SampsonError(e, pts1[i], pts2[i]), test.ShouldBeLessThan, 1e-12)
		}
		test.That(t, equalUpToSign(e, groundTruthEssential(scene), 1e-6), test.ShouldBeTrue)
		test.That(t, mat.Det(e), test.ShouldAlmostEqual, 0, 1e-9)
	})

	t.Run("minimal sample", func(t *testing.T) {
		e, err := EightPoint(pts1[:8], pts2[:8])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, equalUpToSign(e, groundTruthEssential(scene), 1e-6), test.ShouldBeTrue)
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		_, err := EightPoint(pts1[:10], pts2[:9])
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("too few points", func(t *testing.T) {
		_, err := EightPoint(pts1[:7], pts2[:7])
		test.That(t, err.Error(), test.ShouldContainSubstring, "at least 8")
	})

	t.Run("coincident points", func(t *testing.T) {
		same := make([]r2.Point, 10)
		_, err := EightPoint(same, same)
		test.That(t, err, test.ShouldBeError, ErrDegenerate)
	})
}

func TestEnforceEssential(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		3, 1, 0,
		1, 2, 1,
		0, 1, 4,
	})
	e, err := EnforceEssential(m)
	test.That(t, err, test.ShouldBeNil)
	var svd mat.SVD
	test.That(t, svd.Factorize(e, mat.SVDNone), test.ShouldBeTrue)
	values := svd.Values(nil)
	test.That(t, values[0], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, values[1], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, values[2], test.ShouldAlmostEqual, 0, 1e-9)
}

func TestDecomposeEssential(t *testing.T) {
	for _, tc := range []struct {
		name string
		rot  *mat.Dense
		t    r3.Vector
	}{
		{"sideways", testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2}},
		{"forward", testhelper.RotationZ(-10), r3.Vector{X: 0.1, Y: 0.1, Z: 1}},
		{"pure translation", Eye(3), r3.Vector{Y: 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			scene := &testhelper.Scene{Rotation: tc.rot, Translation: tc.t}
			r1, r2, dir, err := DecomposeEssential(groundTruthEssential(scene))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, IsRotation(r1, 1e-9), test.ShouldBeTrue)
			test.That(t, IsRotation(r2, 1e-9), test.ShouldBeTrue)
			test.That(t, mat.EqualApprox(r1, tc.rot, 1e-9) || mat.EqualApprox(r2, tc.rot, 1e-9), test.ShouldBeTrue)
			test.That(t, dir.Norm(), test.ShouldAlmostEqual, 1, 1e-12)
			test.That(t, math.Abs(dir.Dot(tc.t.Normalize())), test.ShouldAlmostEqual, 1, 1e-9)
		})
	}

	t.Run("non-finite", func(t *testing.T) {
		e := Eye(3)
		e.Set(1, 2, math.NaN())
		_, _, _, err := DecomposeEssential(e)
		test.That(t, errors.Is(err, ErrDegenerate), test.ShouldBeTrue)
	})
}

func TestTriangulate(t *testing.T) {
	scene := testhelper.NewScene(2, 20, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
	pts1, pts2 := scene.Normalized()
	for i, p := range scene.Points {
		got, ok := Triangulate(scene.Rotation, scene.Translation, pts1[i], pts2[i])
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got.Sub(p).Norm(), test.ShouldBeLessThan, 1e-6)
	}

	t.Run("unit baseline scales depth", func(t *testing.T) {
		unit := scene.Translation.Normalize()
		got, ok := Triangulate(scene.Rotation, unit, pts1[0], pts2[0])
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got.Z, test.ShouldAlmostEqual, scene.Points[0].Z/scene.Translation.Norm(), 1e-6)
	})
}

func TestEpipolarDistance(t *testing.T) {
	scene := testhelper.NewScene(3, 30, testhelper.RotationY(5), r3.Vector{X: 1, Z: 0.2})
	pts1, pts2 := scene.Normalized()
	f, err := EightPoint(pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	for i := range pts1 {
		test.That(t, EpipolarDistance(f, pts1[i], pts2[i]), test.ShouldBeLessThan, 1e-12)
	}
	off := pts2[0].Add(r2.Point{X: 0.05, Y: 0.05})
	test.That(t, EpipolarDistance(f, pts1[0], off), test.ShouldBeGreaterThan, 1e-6)
}

func TestIsRotation(t *testing.T) {
	test.That(t, IsRotation(Eye(3), 1e-12), test.ShouldBeTrue)
	test.That(t, IsRotation(testhelper.RotationY(30), 1e-12), test.ShouldBeTrue)

	reflection := mat.NewDense(3, 3, []float64{-1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, IsRotation(reflection, 1e-9), test.ShouldBeFalse)

	scaled := Eye(3)
	scaled.Scale(2, scaled)
	test.That(t, IsRotation(scaled, 1e-9), test.ShouldBeFalse)

	test.That(t, IsRotation(Eye(4), 1e-9), test.ShouldBeFalse)
}
