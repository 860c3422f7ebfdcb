// Package features detects keypoints in grayscale images and computes a descriptor for each of them.
package features

import (
	"context"
	"image"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// Keypoint is a detected corner.
type Keypoint struct {
	Point       r2.Point
	Orientation float64
	Response    float64
}

// Features are the keypoints of an image and their descriptors. Keypoints[i] is described by
// Descriptors[i].
type Features struct {
	Keypoints   []Keypoint
	Descriptors [][]float64
}

// Len returns the number of keypoints.
func (f *Features) Len() int {
	return len(f.Keypoints)
}

// Validate checks that keypoints and descriptors are parallel and every descriptor has
// DescriptorSize components.
func (f *Features) Validate() error {
	if len(f.Keypoints) != len(f.Descriptors) {
		return errors.Wrapf(ErrMalformedFeatures, "%d keypoints, %d descriptors", len(f.Keypoints), len(f.Descriptors))
	}
	for i, d := range f.Descriptors {
		if len(d) != DescriptorSize {
			return errors.Wrapf(ErrMalformedFeatures, "descriptor %d has %d components", i, len(d))
		}
	}
	return nil
}

// Extractor computes Features from images. It holds no mutable state and is safe for
// concurrent use.
type Extractor struct {
	config *Config
	logger golog.Logger
}

// NewExtractor returns an Extractor using the given parameters.
func NewExtractor(config *Config, logger golog.Logger) (*Extractor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate("features"); err != nil {
		return nil, err
	}
	return &Extractor{config: config, logger: logger}, nil
}

// Extract equalizes img, detects up to MaxFeatures FAST corners on it and describes them.
// Images without corners yield empty Features.
func (e *Extractor) Extract(ctx context.Context, img *image.Gray) (*Features, error) {
	ctx, span := trace.StartSpan(ctx, "features::Extractor::Extract")
	defer span.End()

	if img == nil {
		return nil, errors.New("cannot extract features from a nil image")
	}
	equalized := EqualizeHistogram(img)
	w, h := equalized.Bounds().Dx(), equalized.Bounds().Dy()

	threshold := int(math.Round(e.config.ContrastThreshold * 255))
	corners := strongest(detectFAST(equalized, threshold, e.config.NMSWindow), e.config.MaxFeatures)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feats := &Features{
		Keypoints:   make([]Keypoint, len(corners)),
		Descriptors: make([][]float64, len(corners)),
	}
	if len(corners) == 0 {
		e.logger.Debugw("no keypoints detected", "width", w, "height", h)
		return feats, nil
	}
	gradients := newGradientField(equalized, e.config.BlurSigma)
	for i, c := range corners {
		angle := orientation(equalized, c.pt)
		feats.Keypoints[i] = Keypoint{
			Point:       r2.Point{X: float64(c.pt.X), Y: float64(c.pt.Y)},
			Orientation: angle,
			Response:    c.score,
		}
		feats.Descriptors[i] = gradients.describe(c.pt, angle)
	}
	e.logger.Debugw("extracted features", "keypoints", len(corners), "width", w, "height", h)
	return feats, nil
}
