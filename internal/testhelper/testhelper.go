// Package testhelper generates synthetic two-view scenes with known ground-truth motion for tests.
package testhelper

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-visual-odometry/camera"
)

// Scene is a set of 3D points seen by two cameras. Points are expressed in the first camera
// frame and a point X maps to Rotation*X + Translation in the second camera frame.
type Scene struct {
	Points      []r3.Vector
	Rotation    *mat.Dense
	Translation r3.Vector
}

// NewScene creates n random points in front of both cameras, with depth in [4, 8] and lateral
// extent in [-2, 2].
func NewScene(seed uint64, n int, rot *mat.Dense, t r3.Vector) *Scene {
	rnd := rand.New(rand.NewSource(seed))
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{
			X: rnd.Float64()*4 - 2,
			Y: rnd.Float64()*4 - 2,
			Z: rnd.Float64()*4 + 4,
		}
	}
	return &Scene{Points: pts, Rotation: rot, Translation: t}
}

// RotationY returns the rotation of the given angle in degrees about the y axis.
func RotationY(degrees float64) *mat.Dense {
	s, c := math.Sincos(degrees * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

// RotationZ returns the rotation of the given angle in degrees about the z axis.
func RotationZ(degrees float64) *mat.Dense {
	s, c := math.Sincos(degrees * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// InSecondView returns p expressed in the second camera frame.
func (s *Scene) InSecondView(p r3.Vector) r3.Vector {
	r := s.Rotation
	return r3.Vector{
		X: r.At(0, 0)*p.X + r.At(0, 1)*p.Y + r.At(0, 2)*p.Z,
		Y: r.At(1, 0)*p.X + r.At(1, 1)*p.Y + r.At(1, 2)*p.Z,
		Z: r.At(2, 0)*p.X + r.At(2, 1)*p.Y + r.At(2, 2)*p.Z,
	}.Add(s.Translation)
}

// Normalized returns the ideal normalized image coordinates of every point in both views.
func (s *Scene) Normalized() ([]r2.Point, []r2.Point) {
	pts1 := make([]r2.Point, len(s.Points))
	pts2 := make([]r2.Point, len(s.Points))
	for i, p := range s.Points {
		q := s.InSecondView(p)
		pts1[i] = r2.Point{X: p.X / p.Z, Y: p.Y / p.Z}
		pts2[i] = r2.Point{X: q.X / q.Z, Y: q.Y / q.Z}
	}
	return pts1, pts2
}

// Pixels projects every point into both views through the camera model.
func (s *Scene) Pixels(model *camera.Model) ([]r2.Point, []r2.Point) {
	pts1 := make([]r2.Point, 0, len(s.Points))
	pts2 := make([]r2.Point, 0, len(s.Points))
	for _, p := range s.Points {
		px1, ok1 := model.Project(p)
		px2, ok2 := model.Project(s.InSecondView(p))
		if !ok1 || !ok2 {
			continue
		}
		pts1 = append(pts1, px1)
		pts2 = append(pts2, px2)
	}
	return pts1, pts2
}

// ExpectedScale is the scale a unit-baseline triangulation of the scene yields: the inverse of
// the median depth measured in baselines.
func (s *Scene) ExpectedScale() float64 {
	baseline := s.Translation.Norm()
	depths := make([]float64, len(s.Points))
	for i, p := range s.Points {
		depths[i] = p.Z / baseline
	}
	median, err := stats.Median(depths)
	if err != nil {
		return math.NaN()
	}
	return 1 / median
}

// AddOutliers replaces every k-th point of pts2 with a random point within the given bounds.
func AddOutliers(seed uint64, pts2 []r2.Point, k int, bounds r2.Rect) []r2.Point {
	rnd := rand.New(rand.NewSource(seed))
	out := make([]r2.Point, len(pts2))
	copy(out, pts2)
	for i := 0; i < len(out); i += k {
		out[i] = r2.Point{
			X: bounds.X.Lo + rnd.Float64()*bounds.X.Length(),
			Y: bounds.Y.Lo + rnd.Float64()*bounds.Y.Length(),
		}
	}
	return out
}
