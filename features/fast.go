package features

import (
	"image"

	"go.viam.com/rdk/vision/keypoints"
	"gonum.org/v1/gonum/floats"
)

const (
	// fastArc is the number of contiguous circle pixels that must all be brighter or all darker.
	fastArc = 9
	// borderSize keeps keypoints far enough from the border for orientation and descriptor patches.
	borderSize = 16
)

// circle is the 16 pixel Bresenham circle of radius 3, clockwise from the top, in the order of
// the rdk FAST detector.
var circle = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

type corner struct {
	pt    image.Point
	score float64
}

// detectFAST returns the FAST-9 corners of img that survive non-maximum suppression over a
// nmsWindow x nmsWindow neighborhood, at least borderSize pixels away from the border. img must
// have its bounds at the origin.
func detectFAST(img *image.Gray, threshold, nmsWindow int) []corner {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	// the rdk detector wants more than NMatchesCircle contiguous pixels and suppresses over
	// 2*NMSWinSize+1 pixels
	kps := keypoints.ComputeFAST(img, &keypoints.FASTConfig{
		NMatchesCircle: fastArc - 1,
		NMSWinSize:     nmsWindow / 2,
		Threshold:      threshold,
	})

	var offsets [16]int
	for i, p := range circle {
		offsets[i] = p.Y*img.Stride + p.X
	}
	corners := make([]corner, 0, len(kps))
	var diffs [16]int
	for _, kp := range kps {
		if kp.X < borderSize || kp.X >= w-borderSize || kp.Y < borderSize || kp.Y >= h-borderSize {
			continue
		}
		center := kp.Y*img.Stride + kp.X
		v := int(img.Pix[center])
		for i, off := range offsets {
			diffs[i] = int(img.Pix[center+off]) - v
		}
		// the detector reports no response, so corners are ranked by their arc contrast
		score, _ := fastScore(&diffs, threshold)
		corners = append(corners, corner{pt: image.Point{kp.X, kp.Y}, score: score})
	}
	return corners
}

// fastScore reports whether the circle differences contain an arc of fastArc pixels all above
// threshold or all below -threshold. The score is the largest summed excess contrast over such
// an arc.
func fastScore(diffs *[16]int, threshold int) (float64, bool) {
	best := -1
	for _, sign := range [2]int{1, -1} {
		run, sum := 0, 0
		// walk the circle twice so arcs wrapping past the start are counted
		for i := 0; i < 32; i++ {
			d := sign * diffs[i%16]
			if d > threshold {
				run++
				sum += d - threshold
				if run >= fastArc && sum > best {
					best = sum
				}
				if run == 16 {
					break
				}
				continue
			}
			if i >= 16 {
				break
			}
			run, sum = 0, 0
		}
	}
	if best < 0 {
		return 0, false
	}
	return float64(best), true
}

// strongest returns at most n corners ordered by decreasing score.
func strongest(corners []corner, n int) []corner {
	negScores := make([]float64, len(corners))
	for i, c := range corners {
		negScores[i] = -c.score
	}
	order := make([]int, len(corners))
	floats.Argsort(negScores, order)
	if len(order) > n {
		order = order[:n]
	}
	out := make([]corner, len(order))
	for i, idx := range order {
		out[i] = corners[idx]
	}
	return out
}
