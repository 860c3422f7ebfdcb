// Package testhelper provides helper functions for generating and writing test images.
package testhelper

import (
	"archive/zip"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/rand"

	"github.com/viamrobotics/viam-visual-odometry/frames"
)

const blockSize = 8

// TexturedImage returns a w x h image made of random intensity blocks, slightly blurred, which
// yields many well spread corners.
func TexturedImage(seed uint64, w, h int) *image.Gray {
	rnd := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += blockSize {
		for bx := 0; bx < w; bx += blockSize {
			v := uint8(rnd.Intn(256))
			for y := by; y < by+blockSize && y < h; y++ {
				for x := bx; x < bx+blockSize && x < w; x++ {
					img.Pix[y*img.Stride+x] = v
				}
			}
		}
	}
	return frames.ToGray(imaging.Blur(img, 0.7))
}

// BlankImage returns a w x h image of a single intensity.
func BlankImage(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// CreateTempImageDir writes every image to a new temporary directory, named by names, with the
// format given by each name's extension. It returns the directory path.
func CreateTempImageDir(names []string, imgs []image.Image, logger golog.Logger) (string, error) {
	if len(names) != len(imgs) {
		return "", errors.Errorf("got %d names for %d images", len(names), len(imgs))
	}
	dir, err := os.MkdirTemp("", "vo-frames-*")
	if err != nil {
		return "", err
	}
	for i, name := range names {
		if err := imaging.Save(imgs[i], filepath.Join(dir, name)); err != nil {
			return "", multierr.Combine(err, os.RemoveAll(dir))
		}
	}
	logger.Debugw("wrote test images", "dir", dir, "count", len(names))
	return dir, nil
}

// WriteArchive writes every image into a new zip archive at path, named by names, encoded as PNG.
func WriteArchive(path string, names []string, imgs []image.Image) (err error) {
	if len(names) != len(imgs) {
		return errors.Errorf("got %d names for %d images", len(names), len(imgs))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	zw := zip.NewWriter(f)
	for i, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return multierr.Combine(err, zw.Close())
		}
		if err := imaging.Encode(w, imgs[i], imaging.PNG); err != nil {
			return multierr.Combine(err, zw.Close())
		}
	}
	return zw.Close()
}

// ResetFolder removes all content in path and creates a new directory
// in its place.
func ResetFolder(path string) error {
	dirInfo, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !dirInfo.IsDir() {
		return errors.Errorf("the path passed ResetFolder does not point to a folder: %v", path)
	}
	if err = os.RemoveAll(path); err != nil {
		return err
	}
	return os.Mkdir(path, dirInfo.Mode())
}

// TexturedPlane is a textured rectangle at constant depth Z, facing the camera. The texture
// covers X in [MinX, MinX+Texel*width) and Y in [MinY, MinY+Texel*height).
type TexturedPlane struct {
	Z, MinX, MinY, Texel float64
	Texture              *image.Gray
}

func (pl *TexturedPlane) sample(x, y float64) (uint8, bool) {
	u := (x-pl.MinX)/pl.Texel - 0.5
	v := (y-pl.MinY)/pl.Texel - 0.5
	w, h := pl.Texture.Bounds().Dx(), pl.Texture.Bounds().Dy()
	if u < 0 || v < 0 || u >= float64(w-1) || v >= float64(h-1) {
		return 0, false
	}
	x0, y0 := int(u), int(v)
	fx, fy := u-float64(x0), v-float64(y0)
	at := func(x, y int) float64 {
		return float64(pl.Texture.Pix[y*pl.Texture.Stride+x])
	}
	top := at(x0, y0)*(1-fx) + at(x0+1, y0)*fx
	bottom := at(x0, y0+1)*(1-fx) + at(x0+1, y0+1)*fx
	return uint8(top*(1-fy) + bottom*fy + 0.5), true
}

// RenderPlanes renders planes, nearest first, as seen by a w x h pinhole camera with focal
// length f and the principal point at the image center, placed at center without rotation.
// Pixels that see no plane stay black.
func RenderPlanes(planes []TexturedPlane, center r3.Vector, f float64, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	cx, cy := float64(w)/2, float64(h)/2
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			dx := (float64(px) - cx) / f
			dy := (float64(py) - cy) / f
			for i := range planes {
				depth := planes[i].Z - center.Z
				if depth <= 0 {
					continue
				}
				if v, ok := planes[i].sample(center.X+depth*dx, center.Y+depth*dy); ok {
					img.Pix[py*img.Stride+px] = v
					break
				}
			}
		}
	}
	return img
}
