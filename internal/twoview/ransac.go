package twoview

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// ErrNoModel is returned by RANSAC when no sample produced a model.
var ErrNoModel = errors.New("ransac failed to find a model")

// Problem is a model fitting problem that RANSAC can solve.
type Problem interface {
	// Len is the number of data points.
	Len() int
	// SampleSize is the minimal number of points needed to fit a model.
	SampleSize() int
	// Fit fits a model to the points at the given indices.
	Fit(indices []int) (*mat.Dense, error)
	// Residual is the squared error of point i under the model.
	Residual(model *mat.Dense, i int) float64
}

// RANSACParams holds the parameters of a RANSAC run.
type RANSACParams struct {
	// Threshold is the inlier threshold, in the units of the square root of Problem.Residual.
	Threshold     float64
	Confidence    float64
	MaxIterations int
	// Refine refits the best model on all of its inliers.
	Refine bool
}

// RANSACResult is the best model found by RANSAC and its inliers.
type RANSACResult struct {
	Model      *mat.Dense
	Inliers    []bool
	NumInliers int
	Iterations int
}

// InlierIndices returns the indices of the inliers.
func (r *RANSACResult) InlierIndices() []int {
	out := make([]int, 0, r.NumInliers)
	for i, in := range r.Inliers {
		if in {
			out = append(out, i)
		}
	}
	return out
}

// RANSAC robustly fits a model to the points of p. The iteration count adapts to the best inlier
// ratio seen so far, bounded by params.MaxIterations.
func RANSAC(ctx context.Context, p Problem, params RANSACParams, rnd *rand.Rand) (*RANSACResult, error) {
	n, k := p.Len(), p.SampleSize()
	if n < k {
		return nil, errors.Wrapf(ErrNoModel, "need at least %d points, got %d", k, n)
	}
	if params.MaxIterations <= 0 {
		return nil, errors.New("max iterations must be positive")
	}
	thresh := params.Threshold * params.Threshold

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sample := make([]int, k)

	var best *RANSACResult
	maxIters := params.MaxIterations
	iter := 0
	for ; iter < maxIters; iter++ {
		if iter%32 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		// partial Fisher-Yates: the first k entries of perm become a uniform sample
		for i := 0; i < k; i++ {
			j := i + rnd.Intn(n-i)
			perm[i], perm[j] = perm[j], perm[i]
		}
		copy(sample, perm[:k])

		model, err := p.Fit(sample)
		if err != nil {
			continue
		}
		inliers, count := scoreModel(p, model, thresh)
		if best == nil || count > best.NumInliers {
			best = &RANSACResult{Model: model, Inliers: inliers, NumInliers: count}
			if count > k {
				maxIters = updateNumIters(params.Confidence, float64(n-count)/float64(n), k, maxIters)
			}
		}
	}
	if best == nil {
		return nil, ErrNoModel
	}
	best.Iterations = iter

	if params.Refine && best.NumInliers > k {
		if model, err := p.Fit(best.InlierIndices()); err == nil {
			inliers, count := scoreModel(p, model, thresh)
			if count >= best.NumInliers {
				best.Model, best.Inliers, best.NumInliers = model, inliers, count
			}
		}
	}
	return best, nil
}

func scoreModel(p Problem, model *mat.Dense, thresh float64) ([]bool, int) {
	inliers := make([]bool, p.Len())
	count := 0
	for i := range inliers {
		if r := p.Residual(model, i); r <= thresh {
			inliers[i] = true
			count++
		}
	}
	return inliers, count
}

// updateNumIters returns the number of iterations needed to draw an outlier free sample with
// the given confidence.
func updateNumIters(confidence, outlierRatio float64, sampleSize, maxIters int) int {
	confidence = math.Max(math.Min(confidence, 1), 0)
	outlierRatio = math.Max(math.Min(outlierRatio, 1), 0)

	num := math.Max(1-confidence, math.SmallestNonzeroFloat64)
	denom := 1 - math.Pow(1-outlierRatio, float64(sampleSize))
	if denom < math.SmallestNonzeroFloat64 {
		return 0
	}
	num = math.Log(num)
	denom = math.Log(denom)
	if denom >= 0 || -num >= float64(maxIters)*(-denom) {
		return maxIters
	}
	return int(math.Round(num / denom))
}
