// Package inject provides pipeline components whose behavior can be replaced per test.
package inject

import (
	"context"
	"image"

	"golang.org/x/exp/rand"

	visualodometry "github.com/viamrobotics/viam-visual-odometry"
	"github.com/viamrobotics/viam-visual-odometry/features"
	"github.com/viamrobotics/viam-visual-odometry/matching"
	"github.com/viamrobotics/viam-visual-odometry/pose"
)

// FeatureExtractor is an injectable visualodometry.FeatureExtractor.
type FeatureExtractor struct {
	visualodometry.FeatureExtractor
	ExtractFunc func(ctx context.Context, img *image.Gray) (*features.Features, error)
}

// Extract calls the injected ExtractFunc or the real version.
func (e *FeatureExtractor) Extract(ctx context.Context, img *image.Gray) (*features.Features, error) {
	if e.ExtractFunc == nil {
		return e.FeatureExtractor.Extract(ctx, img)
	}
	return e.ExtractFunc(ctx, img)
}

// Matcher is an injectable visualodometry.Matcher.
type Matcher struct {
	visualodometry.Matcher
	MatchFunc func(ctx context.Context, f1, f2 *features.Features, rnd *rand.Rand) (*matching.Correspondences, error)
}

// Match calls the injected MatchFunc or the real version.
func (m *Matcher) Match(
	ctx context.Context,
	f1, f2 *features.Features,
	rnd *rand.Rand,
) (*matching.Correspondences, error) {
	if m.MatchFunc == nil {
		return m.Matcher.Match(ctx, f1, f2, rnd)
	}
	return m.MatchFunc(ctx, f1, f2, rnd)
}

// PoseEstimator is an injectable visualodometry.PoseEstimator.
type PoseEstimator struct {
	visualodometry.PoseEstimator
	EstimateFunc func(ctx context.Context, corr *matching.Correspondences, rnd *rand.Rand) (*pose.RelativePose, error)
}

// Estimate calls the injected EstimateFunc or the real version.
func (e *PoseEstimator) Estimate(
	ctx context.Context,
	corr *matching.Correspondences,
	rnd *rand.Rand,
) (*pose.RelativePose, error) {
	if e.EstimateFunc == nil {
		return e.PoseEstimator.Estimate(ctx, corr, rnd)
	}
	return e.EstimateFunc(ctx, corr, rnd)
}
