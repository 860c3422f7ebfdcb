package features

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"gonum.org/v1/gonum/floats"

	"github.com/viamrobotics/viam-visual-odometry/testhelper"
)

func createTestImage() *image.Gray {
	rectImage := image.NewGray(image.Rect(0, 0, 300, 200))
	whiteRect := image.Rect(50, 30, 100, 150)
	draw.Draw(rectImage, rectImage.Bounds(), &image.Uniform{color.Gray{0}}, image.Point{}, draw.Src)
	draw.Draw(rectImage, whiteRect, &image.Uniform{color.Gray{255}}, image.Point{}, draw.Src)
	return rectImage
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate("path"), test.ShouldBeNil)

	for _, tc := range []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"max features", func(c *Config) { c.MaxFeatures = 0 }, "max_features"},
		{"contrast too low", func(c *Config) { c.ContrastThreshold = 0 }, "contrast_threshold"},
		{"contrast too high", func(c *Config) { c.ContrastThreshold = 1.5 }, "contrast_threshold"},
		{"even window", func(c *Config) { c.NMSWindow = 4 }, "nms_window"},
		{"negative blur", func(c *Config) { c.BlurSigma = -1 }, "blur_sigma"},
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

func TestEqualizeHistogram(t *testing.T) {
	t.Run("constant image is unchanged", func(t *testing.T) {
		img := testhelper.BlankImage(20, 10, 77)
		out := EqualizeHistogram(img)
		test.That(t, out.Pix, test.ShouldResemble, img.Pix)
	})

	t.Run("two levels stretch to full range", func(t *testing.T) {
		img := createTestImage()
		out := EqualizeHistogram(img)
		test.That(t, out.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
		test.That(t, out.GrayAt(60, 40).Y, test.ShouldEqual, uint8(255))
	})

	t.Run("sub image bounds", func(t *testing.T) {
		img := createTestImage().SubImage(image.Rect(40, 20, 110, 160)).(*image.Gray)
		out := EqualizeHistogram(img)
		test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 70, 140))
		test.That(t, out.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
		test.That(t, out.GrayAt(20, 20).Y, test.ShouldEqual, uint8(255))
	})

	t.Run("monotonic mapping", func(t *testing.T) {
		img := testhelper.TexturedImage(3, 64, 64)
		out := EqualizeHistogram(img)
		mapping := map[uint8]uint8{}
		for i, v := range img.Pix {
			if prev, ok := mapping[v]; ok {
				test.That(t, out.Pix[i], test.ShouldEqual, prev)
			}
			mapping[v] = out.Pix[i]
		}
		last := -1
		for v := 0; v < 256; v++ {
			if mapped, ok := mapping[uint8(v)]; ok {
				test.That(t, int(mapped), test.ShouldBeGreaterThanOrEqualTo, last)
				last = int(mapped)
			}
		}
		test.That(t, last, test.ShouldEqual, 255)
	})
}

func TestFastScore(t *testing.T) {
	var diffs [16]int
	_, ok := fastScore(&diffs, 10)
	test.That(t, ok, test.ShouldBeFalse)

	for i := 0; i < 8; i++ {
		diffs[i] = 50
	}
	_, ok = fastScore(&diffs, 10)
	test.That(t, ok, test.ShouldBeFalse)

	diffs[8] = 50
	score, ok := fastScore(&diffs, 10)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, score, test.ShouldEqual, 9*40.0)

	t.Run("arc wrapping past the start", func(t *testing.T) {
		var wrap [16]int
		for _, i := range []int{12, 13, 14, 15, 0, 1, 2, 3, 4} {
			wrap[i] = -30
		}
		score, ok := fastScore(&wrap, 10)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, score, test.ShouldEqual, 9*20.0)
	})

	t.Run("full circle", func(t *testing.T) {
		var full [16]int
		for i := range full {
			full[i] = 20
		}
		score, ok := fastScore(&full, 10)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, score, test.ShouldEqual, 16*10.0)
	})
}

func TestDetectFAST(t *testing.T) {
	img := createTestImage()
	corners := detectFAST(img, 10, 7)
	test.That(t, corners, test.ShouldNotBeEmpty)
	// a uniform rectangle only has corners at its vertices
	rectCorners := []image.Point{{50, 30}, {99, 30}, {50, 149}, {99, 149}}
	for _, c := range corners {
		near := false
		for _, rc := range rectCorners {
			if absInt(c.pt.X-rc.X) <= 2 && absInt(c.pt.Y-rc.Y) <= 2 {
				near = true
			}
		}
		test.That(t, near, test.ShouldBeTrue)
		test.That(t, c.score, test.ShouldBeGreaterThan, 0)
		test.That(t, c.pt.X, test.ShouldBeBetweenOrEqual, borderSize, 300-borderSize-1)
		test.That(t, c.pt.Y, test.ShouldBeBetweenOrEqual, borderSize, 200-borderSize-1)
	}

	test.That(t, detectFAST(testhelper.BlankImage(100, 100, 128), 10, 7), test.ShouldBeEmpty)

	textured := testhelper.TexturedImage(4, 160, 120)
	for _, c := range detectFAST(textured, 10, 7) {
		test.That(t, c.pt.X, test.ShouldBeBetweenOrEqual, borderSize, 160-borderSize-1)
		test.That(t, c.score, test.ShouldBeGreaterThan, 0)
		test.That(t, c.pt.Y, test.ShouldBeBetweenOrEqual, borderSize, 120-borderSize-1)
	}
}

func TestStrongest(t *testing.T) {
	corners := []corner{
		{image.Point{1, 1}, 2},
		{image.Point{2, 2}, 9},
		{image.Point{3, 3}, 4},
	}
	top := strongest(corners, 2)
	test.That(t, top, test.ShouldResemble, []corner{{image.Point{2, 2}, 9}, {image.Point{3, 3}, 4}})
	test.That(t, strongest(corners, 10), test.ShouldHaveLength, 3)
	test.That(t, strongest(nil, 10), test.ShouldBeEmpty)
}

func TestOrientation(t *testing.T) {
	right := image.NewGray(image.Rect(0, 0, 64, 64))
	below := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if x > 32 {
				right.SetGray(x, y, color.Gray{255})
			}
			if y > 32 {
				below.SetGray(x, y, color.Gray{255})
			}
		}
	}
	test.That(t, orientation(right, image.Point{32, 32}), test.ShouldAlmostEqual, 0)
	test.That(t, orientation(below, image.Point{32, 32}), test.ShouldAlmostEqual, math.Pi/2)

	left := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 32; x++ {
			left.SetGray(x, y, color.Gray{255})
		}
	}
	test.That(t, math.Abs(orientation(left, image.Point{32, 32})), test.ShouldAlmostEqual, math.Pi)
}

func TestNormalizeDescriptor(t *testing.T) {
	desc := make([]float64, DescriptorSize)
	normalizeDescriptor(desc)
	test.That(t, floats.Norm(desc, 2), test.ShouldEqual, 0.0)

	desc[0], desc[1], desc[2] = 10, 1, 1
	normalizeDescriptor(desc)
	test.That(t, floats.Norm(desc, 2), test.ShouldAlmostEqual, 1)
	test.That(t, desc[1], test.ShouldAlmostEqual, desc[2])
	// the dominant component was clipped to descriptorClip before renormalizing
	test.That(t, desc[0]/desc[1], test.ShouldAlmostEqual, descriptorClip*math.Sqrt(102), 1e-9)
}

func TestExtract(t *testing.T) {
	logger := golog.NewTestLogger(t)
	extractor, err := NewExtractor(DefaultConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	t.Run("blank image", func(t *testing.T) {
		feats, err := extractor.Extract(context.Background(), testhelper.BlankImage(320, 240, 0))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, feats.Len(), test.ShouldEqual, 0)
		test.That(t, feats.Validate(), test.ShouldBeNil)
	})

	t.Run("textured image", func(t *testing.T) {
		img := testhelper.TexturedImage(1, 320, 240)
		feats, err := extractor.Extract(context.Background(), img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, feats.Len(), test.ShouldBeGreaterThan, 100)
		test.That(t, feats.Validate(), test.ShouldBeNil)
		for i, kp := range feats.Keypoints {
			test.That(t, kp.Point.X, test.ShouldBeBetweenOrEqual, float64(borderSize), float64(320-borderSize-1))
			test.That(t, kp.Point.Y, test.ShouldBeBetweenOrEqual, float64(borderSize), float64(240-borderSize-1))
			if i > 0 {
				test.That(t, kp.Response, test.ShouldBeLessThanOrEqualTo, feats.Keypoints[i-1].Response)
			}
			norm := floats.Norm(feats.Descriptors[i], 2)
			test.That(t, norm, test.ShouldAlmostEqual, 1, 1e-9)
		}

		again, err := extractor.Extract(context.Background(), img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, again, test.ShouldResemble, feats)
	})

	t.Run("max features", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxFeatures = 10
		limited, err := NewExtractor(cfg, logger)
		test.That(t, err, test.ShouldBeNil)
		feats, err := limited.Extract(context.Background(), testhelper.TexturedImage(1, 320, 240))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, feats.Len(), test.ShouldEqual, 10)
	})

	t.Run("nil image", func(t *testing.T) {
		_, err := extractor.Extract(context.Background(), nil)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := extractor.Extract(ctx, testhelper.TexturedImage(1, 320, 240))
		test.That(t, err, test.ShouldBeError, context.Canceled)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.NMSWindow = 2
		_, err := NewExtractor(cfg, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestFeaturesValidate(t *testing.T) {
	f := &Features{Keypoints: make([]Keypoint, 2), Descriptors: make([][]float64, 1)}
	test.That(t, f.Validate(), test.ShouldNotBeNil)

	f.Descriptors = [][]float64{make([]float64, DescriptorSize), make([]float64, 3)}
	err := f.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "descriptor 1")
}
