package matching

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-visual-odometry/internal/twoview"
)

// fundamentalProblem fits a fundamental matrix to pixel correspondences.
type fundamentalProblem struct {
	pts1, pts2 []r2.Point
}

func (p *fundamentalProblem) Len() int        { return len(p.pts1) }
func (p *fundamentalProblem) SampleSize() int { return twoview.MinPoints }

func (p *fundamentalProblem) Fit(indices []int) (*mat.Dense, error) {
	s1 := make([]r2.Point, len(indices))
	s2 := make([]r2.Point, len(indices))
	for i, idx := range indices {
		s1[i], s2[i] = p.pts1[idx], p.pts2[idx]
	}
	return twoview.EightPoint(s1, s2)
}

func (p *fundamentalProblem) Residual(model *mat.Dense, i int) float64 {
	return twoview.EpipolarDistance(model, p.pts1[i], p.pts2[i])
}
