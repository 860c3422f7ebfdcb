package features

import (
	"image"
	"math"
)

// EqualizeHistogram returns a copy of img with its intensity histogram equalized. The result's
// bounds start at the origin. An image with a single intensity is copied unchanged.
func EqualizeHistogram(img *image.Gray) *image.Gray {
	out := toOrigin(img)
	total := len(out.Pix)
	if total == 0 {
		return out
	}
	var hist [256]int
	for _, v := range out.Pix {
		hist[v]++
	}
	first := 0
	for hist[first] == 0 {
		first++
	}
	if hist[first] == total {
		return out
	}

	var lut [256]uint8
	scale := 255 / float64(total-hist[first])
	sum := 0
	for i := first + 1; i < 256; i++ {
		sum += hist[i]
		lut[i] = uint8(math.Min(math.Round(float64(sum)*scale), 255))
	}
	for i, v := range out.Pix {
		out.Pix[i] = lut[v]
	}
	return out
}

// toOrigin copies img into a tightly packed gray image whose bounds start at the origin.
func toOrigin(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], src[:b.Dx()])
	}
	return out
}
