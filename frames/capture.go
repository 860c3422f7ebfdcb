package frames

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/edaniels/gostream"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/utils"
	goutils "go.viam.com/utils"
)

// Capture reads n frames from cam, waiting interval between reads, and returns them once all
// were read.
func Capture(
	ctx context.Context,
	cam camera.Camera,
	n int,
	interval time.Duration,
	logger golog.Logger,
) ([]Frame, error) {
	ctx, span := trace.StartSpan(ctx, "frames::Capture")
	defer span.End()

	if n <= 0 {
		return nil, errors.Errorf("cannot capture %d frames", n)
	}
	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && !goutils.SelectContextOrWait(ctx, interval) {
			return nil, ctx.Err()
		}
		img, err := readImage(ctx, cam)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to capture frame %d", i)
		}
		frames = append(frames, Frame{Name: fmt.Sprintf("frame_%06d.png", i), Image: ToGray(img)})
	}
	logger.Debugw("captured frames", "count", len(frames))
	return frames, nil
}

// readImage asks cam for a PNG. A lazily encoded PNG is decoded here; any other image is used
// as returned.
func readImage(ctx context.Context, cam camera.Camera) (image.Image, error) {
	// The Camera service server implementation in RDK respects this hint; others may not.
	readImgCtx := gostream.WithMIMETypeHint(ctx, utils.WithLazyMIMEType(utils.MimeTypePNG))
	img, release, err := camera.ReadImage(readImgCtx, cam)
	if release != nil {
		defer release()
	}
	if err != nil {
		return nil, err
	}
	if lazyImg, ok := img.(*rimage.LazyEncodedImage); ok {
		if lazyImg.MIMEType() != utils.MimeTypePNG {
			return nil, errors.Errorf("expected mime type %v, got %v", utils.MimeTypePNG, lazyImg.MIMEType())
		}
		decoded, err := imaging.Decode(bytes.NewReader(lazyImg.RawData()))
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode png")
		}
		return decoded, nil
	}
	return img, nil
}

// Save writes every frame as a PNG into dir, so that a captured sequence can be loaded again
// with LoadDirectory.
func Save(dir string, frames []Frame) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	for _, f := range frames {
		if !IsImageFile(f.Name) {
			return errors.Errorf("frame %q does not have an image extension", f.Name)
		}
		if err := imaging.Save(f.Image, filepath.Join(dir, f.Name)); err != nil {
			return errors.Wrapf(err, "failed to save %q", f.Name)
		}
	}
	return nil
}
