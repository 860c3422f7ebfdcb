// Package twoview implements the two-view geometry kernels shared by correspondence filtering
// and pose estimation: the normalized 8-point solver, a RANSAC driver, essential matrix
// decomposition and linear triangulation.
package twoview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
	"gonum.org/v1/gonum/mat"
)

// MinPoints is the number of correspondences needed by the 8-point solver.
const MinPoints = 8

// ErrDegenerate is returned when a solver cannot produce a model from its input.
var ErrDegenerate = errors.New("degenerate point configuration")

// Eye returns an nxn identity matrix.
func Eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// MulVec returns m*v for a 3x3 matrix m.
func MulVec(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// IsRotation reports whether m is orthonormal with determinant +1 within tol.
func IsRotation(m *mat.Dense, tol float64) bool {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return false
	}
	var mtm mat.Dense
	mtm.Mul(m.T(), m)
	if !mat.EqualApprox(&mtm, Eye(3), tol) {
		return false
	}
	return math.Abs(mat.Det(m)-1) <= tol
}

// EightPoint estimates the 3x3 matrix F satisfying x2^T F x1 = 0 from at least 8
// correspondences, using Hartley normalization. The result has rank 2 and unit Frobenius norm.
func EightPoint(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < MinPoints {
		return nil, errors.Errorf("sets of points must have at least %d elements, got %d", MinPoints, len(pts1))
	}
	points1, t1, ok1 := normalizePoints(pts1)
	points2, t2, ok2 := normalizePoints(pts2)
	if !ok1 || !ok2 {
		return nil, ErrDegenerate
	}

	// at least 9 rows so the full V holds the null vector
	nRows := len(points1)
	if nRows < 9 {
		nRows = 9
	}
	a := mat.NewDense(nRows, 9, nil)
	for i := range points1 {
		v1, v2 := points1[i], points2[i]
		a.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFullV); !ok {
		return nil, errors.Wrap(ErrDegenerate, "failed to factorize design matrix")
	}
	var v mat.Dense
	svd.VTo(&v)
	f := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		f.Set(i/3, i%3, v.At(i, 8))
	}

	f, err := EnforceRank2(f)
	if err != nil {
		return nil, err
	}
	// undo normalization: T2^T F T1
	var tf, out mat.Dense
	tf.Mul(t2.T(), f)
	out.Mul(&tf, t1)
	norm := mat.Norm(&out, 2)
	if norm == 0 || math.IsNaN(norm) {
		return nil, ErrDegenerate
	}
	out.Scale(1/norm, &out)
	return &out, nil
}

// EnforceRank2 zeroes the smallest singular value of a 3x3 matrix.
func EnforceRank2(m *mat.Dense) (*mat.Dense, error) {
	u, s, v, err := svd3(m)
	if err != nil {
		return nil, err
	}
	return recompose(u, []float64{s[0], s[1], 0}, v), nil
}

// EnforceEssential projects a 3x3 matrix onto the essential manifold (singular values 1, 1, 0).
func EnforceEssential(m *mat.Dense) (*mat.Dense, error) {
	u, _, v, err := svd3(m)
	if err != nil {
		return nil, err
	}
	return recompose(u, []float64{1, 1, 0}, v), nil
}

// DecomposeEssential decomposes an essential matrix into its two rotation candidates and the
// unit translation direction, defined up to sign.
func DecomposeEssential(e *mat.Dense) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	// the rdk decomposition does not report factorization failures
	if !isFinite(e) {
		return nil, nil, r3.Vector{}, errors.Wrap(ErrDegenerate, "essential matrix has non-finite entries")
	}
	r1, r2, t, err := transform.DecomposeEssentialMatrix(e)
	if err != nil {
		return nil, nil, r3.Vector{}, errors.Wrap(ErrDegenerate, err.Error())
	}
	dir := r3.Vector{X: t.At(0, 0), Y: t.At(1, 0), Z: t.At(2, 0)}
	return r1, r2, dir.Normalize(), nil
}

func isFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Triangulate computes the 3D point, in the first camera frame, seen at normalized coordinates
// p1 by the camera [I|0] and at p2 by the camera [R|t]. It returns false for points at infinity.
func Triangulate(rot *mat.Dense, t r3.Vector, p1, p2 r2.Point) (r3.Vector, bool) {
	tv := []float64{t.X, t.Y, t.Z}
	row := func(i int) []float64 {
		return []float64{rot.At(i, 0), rot.At(i, 1), rot.At(i, 2), tv[i]}
	}
	r0, r1, r2 := row(0), row(1), row(2)
	a := mat.NewDense(4, 4, []float64{
		-1, 0, p1.X, 0,
		0, -1, p1.Y, 0,
		p2.X*r2[0] - r0[0], p2.X*r2[1] - r0[1], p2.X*r2[2] - r0[2], p2.X*r2[3] - r0[3],
		p2.Y*r2[0] - r1[0], p2.Y*r2[1] - r1[1], p2.Y*r2[2] - r1[2], p2.Y*r2[3] - r1[3],
	})
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFullV); !ok {
		return r3.Vector{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	w := v.At(3, 3)
	if math.Abs(w) < 1e-12 {
		return r3.Vector{}, false
	}
	return r3.Vector{X: v.At(0, 3) / w, Y: v.At(1, 3) / w, Z: v.At(2, 3) / w}, true
}

// SampsonError is the squared first-order geometric error of the correspondence (p1, p2) under
// the epipolar constraint p2^T E p1 = 0.
func SampsonError(e mat.Matrix, p1, p2 r2.Point) float64 {
	x1 := r3.Vector{X: p1.X, Y: p1.Y, Z: 1}
	x2 := r3.Vector{X: p2.X, Y: p2.Y, Z: 1}
	ex1 := MulVec(e, x1)
	etx2 := MulVec(e.T(), x2)
	num := x2.Dot(ex1)
	den := ex1.X*ex1.X + ex1.Y*ex1.Y + etx2.X*etx2.X + etx2.Y*etx2.Y
	if den == 0 {
		return math.Inf(1)
	}
	return num * num / den
}

// EpipolarDistance is the larger of the squared distances from p2 to the epipolar line F p1 and
// from p1 to the epipolar line F^T p2.
func EpipolarDistance(f mat.Matrix, p1, p2 r2.Point) float64 {
	x1 := r3.Vector{X: p1.X, Y: p1.Y, Z: 1}
	x2 := r3.Vector{X: p2.X, Y: p2.Y, Z: 1}
	l2 := MulVec(f, x1)
	l1 := MulVec(f.T(), x2)
	n2 := l2.X*l2.X + l2.Y*l2.Y
	n1 := l1.X*l1.X + l1.Y*l1.Y
	if n1 == 0 || n2 == 0 {
		return math.Inf(1)
	}
	d2 := x2.Dot(l2)
	d1 := x1.Dot(l1)
	return math.Max(d1*d1/n1, d2*d2/n2)
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, bool) {
	n := float64(len(pts))
	var mu r2.Point
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / n)
	d := 0.
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / n
	}
	if d == 0 || math.IsNaN(d) {
		return nil, nil, false
	}
	scale := math.Sqrt2 / d
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, t, true
}

func svd3(m *mat.Dense) (*mat.Dense, []float64, *mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, nil, nil, errors.Wrap(ErrDegenerate, "failed to factorize 3x3 matrix")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	return &u, svd.Values(nil), &v, nil
}

func recompose(u *mat.Dense, s []float64, v *mat.Dense) *mat.Dense {
	var us, out mat.Dense
	us.Mul(u, mat.NewDiagDense(3, s))
	out.Mul(&us, v.T())
	return &out
}
