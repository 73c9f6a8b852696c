// Package imaging produces downsampled copies of input images.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strconv"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/banshee-data/colmap-zup/internal/command"
	"github.com/banshee-data/colmap-zup/internal/fsutil"
)

// Level is one step of the image pyramid.
type Level struct {
	// Dir is the directory name next to images/.
	Dir string
	// Percent is the linear scale relative to the original.
	Percent float64
}

// Pyramid lists the downsampled directories, largest first.
var Pyramid = []Level{
	{Dir: "images_2", Percent: 50},
	{Dir: "images_4", Percent: 25},
	{Dir: "images_8", Percent: 12.5},
}

// FormatPercent renders p the way ImageMagick geometry expects it, e.g. "12.5%".
func FormatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}

// DefaultMagickExecutable is used when no override is given.
const DefaultMagickExecutable = "magick"

// MagickResizer shells out to ImageMagick's mogrify, resizing in place.
type MagickResizer struct {
	Executable string
	Builder    command.Builder
	Output     io.Writer
}

// NewMagickResizer creates a MagickResizer. An empty executable selects
// DefaultMagickExecutable.
func NewMagickResizer(executable string, builder command.Builder, output io.Writer) *MagickResizer {
	if executable == "" {
		executable = DefaultMagickExecutable
	}
	if builder == nil {
		builder = command.NewRealBuilder()
	}
	return &MagickResizer{Executable: executable, Builder: builder, Output: output}
}

// Resize runs "mogrify -resize <percent>% <path>".
func (r *MagickResizer) Resize(ctx context.Context, path string, percent float64) error {
	geometry := FormatPercent(percent)
	cmd := r.Builder.BuildCommand(ctx, r.Executable, "mogrify", "-resize", geometry, path)
	if r.Output != nil {
		cmd.SetOutput(r.Output)
	}
	out, err := cmd.Run()
	if err != nil {
		return command.NewExitError(geometry+" resize", out, err)
	}
	return nil
}

// ErrUnsupportedFormat is returned for images the native resizer cannot
// write back in their own format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// NativeResizer resizes in process with golang.org/x/image, writing the
// result back in the source format.
type NativeResizer struct {
	FS     fsutil.FileSystem
	Kernel draw.Interpolator
	// JPEGQuality is used when re-encoding JPEG files.
	JPEGQuality int
}

// NewNativeResizer creates a NativeResizer using Catmull-Rom filtering.
func NewNativeResizer(fsys fsutil.FileSystem) *NativeResizer {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &NativeResizer{FS: fsys, Kernel: draw.CatmullRom, JPEGQuality: 95}
}

// Resize scales the image at path by percent and overwrites it.
func (r *NativeResizer) Resize(ctx context.Context, path string, percent float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if percent <= 0 {
		return fmt.Errorf("invalid resize percentage %v", percent)
	}

	f, err := r.FS.Open(path)
	if err != nil {
		return err
	}
	src, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	b := src.Bounds()
	w := scaled(b.Dx(), percent)
	h := scaled(b.Dy(), percent)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	r.Kernel.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.JPEGQuality})
	case "png":
		err = png.Encode(&buf, dst)
	case "gif":
		err = gif.Encode(&buf, dst, nil)
	case "bmp":
		err = bmp.Encode(&buf, dst)
	case "tiff":
		err = tiff.Encode(&buf, dst, nil)
	default:
		return fmt.Errorf("%s: %w %q", path, ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fsutil.WriteFileAtomic(r.FS, path, buf.Bytes(), 0644)
}

func scaled(n int, percent float64) int {
	v := int(math.Round(float64(n) * percent / 100))
	if v < 1 {
		return 1
	}
	return v
}
