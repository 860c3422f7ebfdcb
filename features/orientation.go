package features

import (
	"image"
	"math"
)

const orientationRadius = 15

// orientationRowExtent is the half width of each row of the circular moment mask.
var orientationRowExtent = [orientationRadius + 1]int{15, 15, 15, 15, 14, 14, 14, 13, 13, 12, 11, 10, 9, 8, 6, 3}

// orientation returns the angle of the vector from pt to the intensity centroid of the circular
// patch around it. pt must be at least orientationRadius pixels away from the border.
// The rdk keypoint orientation only accumulates the x >= 0 half of the patch, so it cannot tell
// a centroid on the left from one on the right.
func orientation(img *image.Gray, pt image.Point) float64 {
	m01, m10 := 0, 0
	for dy := -orientationRadius; dy <= orientationRadius; dy++ {
		extent := orientationRowExtent[absInt(dy)]
		row := (pt.Y+dy)*img.Stride + pt.X
		rowSum := 0
		for dx := -extent; dx <= extent; dx++ {
			v := int(img.Pix[row+dx])
			m10 += v * dx
			rowSum += v
		}
		m01 += rowSum * dy
	}
	return math.Atan2(float64(m01), float64(m10))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
