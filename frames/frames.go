// Package frames loads ordered grayscale image sequences from directories and zip archives.
package frames

import (
	"archive/zip"
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/utils"
)

// Frame is a named grayscale image of a sequence.
type Frame struct {
	Name  string
	Image *image.Gray
}

// MimeType returns the image MIME type implied by the file extension of name, or the empty
// string when name is not a supported image file.
func MimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return utils.MimeTypeJPEG
	case ".png":
		return utils.MimeTypePNG
	default:
		return ""
	}
}

// IsImageFile reports whether name has a supported image extension.
func IsImageFile(name string) bool {
	return MimeType(name) != ""
}

// Load reads frames from path, which is either a directory or a zip archive.
func Load(ctx context.Context, path string, logger golog.Logger) ([]Frame, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDirectory(ctx, path, logger)
	}
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return LoadArchive(ctx, path, logger)
	}
	return nil, errors.Errorf("expected a directory or a zip archive, got %q", path)
}

// LoadDirectory decodes every image file directly inside dir, ordered by file name. Other files
// and subdirectories are ignored.
func LoadDirectory(ctx context.Context, dir string, logger golog.Logger) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && IsImageFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	frames := make([]Frame, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := imaging.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode %q", name)
		}
		frames = append(frames, Frame{Name: name, Image: ToGray(img)})
	}
	logger.Debugw("loaded frames", "dir", dir, "count", len(frames))
	return frames, nil
}

// LoadArchive decodes every image file of the zip archive at path, ordered by entry name,
// without extracting the archive.
func LoadArchive(ctx context.Context, path string, logger golog.Logger) (_ []Frame, err error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open archive %q", path)
	}
	defer func() {
		err = multierr.Combine(err, r.Close())
	}()

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() && IsImageFile(f.Name) {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	frames := make([]Frame, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := decodeArchiveFile(f)
		if err != nil {
			return nil, err
		}
		frames = append(frames, Frame{Name: f.Name, Image: ToGray(img)})
	}
	logger.Debugw("loaded frames", "archive", path, "count", len(frames))
	return frames, nil
}

func decodeArchiveFile(f *zip.File) (_ image.Image, err error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", f.Name)
	}
	defer func() {
		err = multierr.Combine(err, rc.Close())
	}()
	img, err := imaging.Decode(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %q", f.Name)
	}
	return img, nil
}

// ToGray converts img to an 8-bit grayscale image whose bounds start at the origin.
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Bounds().Min == (image.Point{}) {
		return gray
	}
	nrgba := imaging.Grayscale(img)
	b := nrgba.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = nrgba.Pix[nrgba.PixOffset(b.Min.X+x, b.Min.Y+y)]
		}
	}
	return out
}
