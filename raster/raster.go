// Package raster converts page images between the formats the OCR engine and
// the container encoders accept.
package raster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/toolexec"
)

// ErrUnsupportedTarget is returned for an output extension with no encoder.
var ErrUnsupportedTarget = errors.New("raster: unsupported output format")

// BitonalThreshold is the luminance below which a pixel becomes black.
const BitonalThreshold = 128

// Converter rewrites images. Inputs Go cannot decode are handed to the
// external ImageMagick `convert` through Runner.
type Converter struct {
	Runner toolexec.Runner
	Logger observability.Logger
}

// Convert reads in and writes out, choosing the encoder from out's extension
// (.tif/.tiff, .png, .ppm, .pbm).
func (c *Converter) Convert(ctx context.Context, in, out string) error {
	img, err := DecodeFile(in)
	if err != nil {
		if c.Runner == nil {
			return err
		}
		observability.OrNop(c.Logger).Debug("native decode failed, using convert",
			observability.String("file", in), observability.Error("error", err))
		if err := c.Runner.Run(ctx, "convert", in, out); err != nil {
			return fmt.Errorf("convert %s: %w", filepath.Base(in), err)
		}
		if _, err := os.Stat(out); err != nil {
			return fmt.Errorf("convert %s: no output: %w", filepath.Base(in), err)
		}
		return nil
	}
	return EncodeFile(out, img)
}

// DecodeFile decodes any format registered with the image package.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// EncodeFile writes img to path atomically in the format implied by the
// extension.
func EncodeFile(path string, img image.Image) error {
	enc, err := encoderFor(path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".raster-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	w := bufio.NewWriter(tmp)
	if err := enc(w, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encoderFor(path string) (func(io.Writer, image.Image) error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	case ".png":
		return png.Encode, nil
	case ".ppm":
		return EncodePPM, nil
	case ".pbm":
		return EncodePBM, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedTarget, filepath.Ext(path))
}

// EncodePPM writes a binary (P6) portable pixmap.
func EncodePPM(w io.Writer, img image.Image) error {
	b := img.Bounds()
	if _, err := fmt.Fprintf(w, "P6\n%d %d\n255\n", b.Dx(), b.Dy()); err != nil {
		return err
	}
	row := make([]byte, 3*b.Dx())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			i := 3 * (x - b.Min.X)
			row[i], row[i+1], row[i+2] = c.R, c.G, c.B
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// EncodePBM writes a binary (P4) portable bitmap, black where the luminance
// is under BitonalThreshold.
func EncodePBM(w io.Writer, img image.Image) error {
	g := Gray(img)
	b := g.Bounds()
	if _, err := fmt.Fprintf(w, "P4\n%d %d\n", b.Dx(), b.Dy()); err != nil {
		return err
	}
	row := make([]byte, (b.Dx()+7)/8)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for i := range row {
			row[i] = 0
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y < BitonalThreshold {
				dx := x - b.Min.X
				row[dx/8] |= 0x80 >> uint(dx%8)
			}
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Gray returns img as an 8-bit grayscale image.
func Gray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, img, b.Min, draw.Src)
	return g
}

// Threshold returns a black and white copy of img using BitonalThreshold.
func Threshold(img image.Image) *image.Gray {
	g := Gray(img)
	b := g.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y >= BitonalThreshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}
