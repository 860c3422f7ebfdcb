package pose

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-visual-odometry/internal/twoview"
)

const (
	// MinScale and MaxScale bound every scale estimate.
	MinScale = 0.1
	MaxScale = 10.0
	// FallbackScale is used when no depth can be measured.
	FallbackScale = 5.0

	minMedianDepth = 1e-6
)

// EstimateScale triangulates the normalized correspondences with the cameras [I|0] and
// [rot|direction] and returns the inverse of their median depth, clamped to [MinScale, MaxScale].
// FallbackScale is used when there are no points or the median depth is near zero.
func EstimateScale(rot *mat.Dense, direction r3.Vector, pts1, pts2 []r2.Point) float64 {
	depths := make([]float64, 0, len(pts1))
	for i := range pts1 {
		x, ok := twoview.Triangulate(rot, direction, pts1[i], pts2[i])
		if !ok || math.IsNaN(x.Z) || math.IsInf(x.Z, 0) {
			continue
		}
		depths = append(depths, x.Z)
	}
	return clampScale(scaleFromDepths(depths))
}

func scaleFromDepths(depths []float64) float64 {
	median, err := stats.Median(depths)
	if err != nil || math.IsNaN(median) || math.Abs(median) < minMedianDepth {
		return FallbackScale
	}
	return 1 / median
}

func clampScale(scale float64) float64 {
	return math.Min(math.Max(scale, MinScale), MaxScale)
}
