// Package matching pairs the features of two images and rejects pairs inconsistent with a single
// epipolar geometry.
package matching

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/exp/rand"

	"github.com/viamrobotics/viam-visual-odometry/features"
	"github.com/viamrobotics/viam-visual-odometry/internal/twoview"
)

// Match pairs the descriptor Query of the first image with the descriptor Train of the second.
type Match struct {
	Query    int
	Train    int
	Distance float64
}

// Correspondences are matched pixel locations: Points1[i] in the first image corresponds to
// Points2[i] in the second. Matches holds every match that passed the ratio test, whether or not
// it survived geometric filtering. An empty set is valid.
type Correspondences struct {
	Points1 []r2.Point
	Points2 []r2.Point
	Matches []Match
}

// Len returns the number of correspondences.
func (c *Correspondences) Len() int {
	return len(c.Points1)
}

// Matcher finds correspondences between two sets of features. It is safe for concurrent use as
// long as every call gets its own random source.
type Matcher struct {
	config *Config
	logger golog.Logger
}

// NewMatcher returns a Matcher using the given parameters.
func NewMatcher(config *Config, logger golog.Logger) (*Matcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate("matching"); err != nil {
		return nil, err
	}
	return &Matcher{config: config, logger: logger}, nil
}

// Match finds, for every descriptor of f1, its two nearest descriptors in f2 and keeps the pair
// when the nearest is clearly closer than the second. When enough pairs survive, the ones
// inconsistent with a robustly estimated fundamental matrix are dropped.
func (m *Matcher) Match(ctx context.Context, f1, f2 *features.Features, rnd *rand.Rand) (*Correspondences, error) {
	ctx, span := trace.StartSpan(ctx, "matching::Matcher::Match")
	defer span.End()

	if f1 == nil || f2 == nil {
		return nil, errors.New("cannot match nil features")
	}
	if err := f1.Validate(); err != nil {
		return nil, err
	}
	if err := f2.Validate(); err != nil {
		return nil, err
	}
	matches, err := m.ratioMatches(ctx, f1, f2)
	if err != nil {
		return nil, err
	}
	pts1 := make([]r2.Point, len(matches))
	pts2 := make([]r2.Point, len(matches))
	for i, match := range matches {
		pts1[i] = f1.Keypoints[match.Query].Point
		pts2[i] = f2.Keypoints[match.Train].Point
	}
	corr := &Correspondences{Points1: pts1, Points2: pts2, Matches: matches}
	if len(matches) < m.config.MinFilterMatches {
		m.logger.Debugw("too few matches for geometric filtering", "matches", len(matches))
		return corr, nil
	}

	res, err := twoview.RANSAC(ctx, &fundamentalProblem{pts1: pts1, pts2: pts2}, twoview.RANSACParams{
		Threshold:     m.config.RansacThreshold,
		Confidence:    m.config.RansacConfidence,
		MaxIterations: m.config.MaxIterations,
		Refine:        true,
	}, rnd)
	if err != nil {
		if errors.Is(err, twoview.ErrNoModel) {
			m.logger.Warnw("fundamental matrix estimation failed, keeping unfiltered matches", "matches", len(matches))
			return corr, nil
		}
		return nil, err
	}
	corr.Points1 = make([]r2.Point, 0, res.NumInliers)
	corr.Points2 = make([]r2.Point, 0, res.NumInliers)
	for _, i := range res.InlierIndices() {
		corr.Points1 = append(corr.Points1, pts1[i])
		corr.Points2 = append(corr.Points2, pts2[i])
	}
	m.logger.Debugw("matched features",
		"ratio_matches", len(matches),
		"inliers", res.NumInliers,
		"iterations", res.Iterations)
	return corr, nil
}

// ratioMatches runs the nearest neighbor ratio test for every descriptor of f1 against f2.
func (m *Matcher) ratioMatches(ctx context.Context, f1, f2 *features.Features) ([]Match, error) {
	if f1.Len() == 0 || f2.Len() < 2 {
		return []Match{}, nil
	}
	idx := newIndex(f2.Descriptors)
	matches := make([]Match, 0)
	for i, d := range f1.Descriptors {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		nn := idx.nearest(d, 2)
		if len(nn) < 2 {
			continue
		}
		if nn[0].distance < m.config.RatioThreshold*nn[1].distance {
			matches = append(matches, Match{Query: i, Train: nn[0].index, Distance: nn[0].distance})
		}
	}
	return matches, nil
}
