package features

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"
)

const (
	// DescriptorSize is the length of a descriptor: 4x4 cells of 8 orientation bins.
	DescriptorSize = descriptorCells * descriptorCells * descriptorBins

	descriptorCells    = 4
	descriptorBins     = 8
	descriptorPatch    = 16
	descriptorClip     = 0.2
	descriptorWeightSD = descriptorPatch / 2
)

// gradientField holds the horizontal and vertical intensity gradients of an image.
type gradientField struct {
	w, h   int
	dx, dy []float64
}

// newGradientField computes central difference gradients of img after a gaussian blur.
func newGradientField(img *image.Gray, sigma float64) *gradientField {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	values := make([]float64, w*h)
	if sigma > 0 {
		blurred := imaging.Blur(img, sigma)
		for i := range values {
			values[i] = float64(blurred.Pix[4*i])
		}
	} else {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				values[y*w+x] = float64(img.Pix[y*img.Stride+x])
			}
		}
	}

	g := &gradientField{w: w, h: h, dx: make([]float64, w*h), dy: make([]float64, w*h)}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			g.dx[i] = (values[i+1] - values[i-1]) / 2
			g.dy[i] = (values[i+w] - values[i-w]) / 2
		}
	}
	return g
}

// describe computes the gradient orientation histogram descriptor of the patch centered on pt
// and rotated by angle.
func (g *gradientField) describe(pt image.Point, angle float64) []float64 {
	desc := make([]float64, DescriptorSize)
	sin, cos := math.Sincos(angle)
	half := float64(descriptorPatch) / 2
	cellSize := float64(descriptorPatch) / descriptorCells

	for row := 0; row < descriptorPatch; row++ {
		for col := 0; col < descriptorPatch; col++ {
			u := float64(col) + 0.5 - half
			v := float64(row) + 0.5 - half
			x := int(math.Round(float64(pt.X) + cos*u - sin*v))
			y := int(math.Round(float64(pt.Y) + sin*u + cos*v))
			if x < 1 || y < 1 || x >= g.w-1 || y >= g.h-1 {
				continue
			}
			i := y*g.w + x
			gx, gy := g.dx[i], g.dy[i]
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			theta := math.Mod(math.Atan2(gy, gx)-angle, 2*math.Pi)
			if theta < 0 {
				theta += 2 * math.Pi
			}
			bin := int(theta/(2*math.Pi)*descriptorBins) % descriptorBins
			cell := int(float64(row)/cellSize)*descriptorCells + int(float64(col)/cellSize)
			weight := math.Exp(-(u*u + v*v) / (2 * descriptorWeightSD * descriptorWeightSD))
			desc[cell*descriptorBins+bin] += weight * mag
		}
	}
	normalizeDescriptor(desc)
	return desc
}

// normalizeDescriptor scales desc to unit length, clips large components and renormalizes.
// An all zero descriptor is left untouched.
func normalizeDescriptor(desc []float64) {
	norm := floats.Norm(desc, 2)
	if norm == 0 {
		return
	}
	floats.Scale(1/norm, desc)
	for i, v := range desc {
		if v > descriptorClip {
			desc[i] = descriptorClip
		}
	}
	if norm = floats.Norm(desc, 2); norm > 0 {
		floats.Scale(1/norm, desc)
	}
}
