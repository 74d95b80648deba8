package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"strconv"
	"strings"

	_ "golang.org/x/image/tiff"
)

// ErrRegionOutside means a crop region does not overlap the image.
var ErrRegionOutside = errors.New("ocr: region outside image")

// InputOption mutates an OCR input.
type InputOption func(*Input)

// WithLanguages sets language hints on the OCR input.
func WithLanguages(langs ...string) InputOption {
	return func(in *Input) { in.Languages = append([]string(nil), langs...) }
}

// WithRegion crops recognition to region. An empty region clears it.
func WithRegion(region Region) InputOption {
	return func(in *Input) {
		if region.IsEmpty() {
			in.Region = nil
			return
		}
		in.Region = &region
	}
}

// WithDPI sets the image resolution. Zero leaves the engine's default.
func WithDPI(dpi int) InputOption {
	return func(in *Input) {
		if dpi > 0 {
			in.DPI = dpi
		}
	}
}

// ParseLanguages splits a tesseract language list such as "eng+fra".
func ParseLanguages(list string) []string {
	var out []string
	for _, l := range strings.Split(list, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ParseRegion reads "x,y,width,height" in pixels. The empty string is the
// zero Region.
func ParseRegion(s string) (Region, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Region{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("region %q: want x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return Region{}, fmt.Errorf("region %q: bad number %q", s, p)
		}
		v[i] = n
	}
	r := Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if r.IsEmpty() {
		return Region{}, fmt.Errorf("region %q: empty", s)
	}
	return r, nil
}

// Crop decodes data, cuts region out of it and returns the piece as PNG.
func Crop(data []byte, region Region) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode for crop: %w", err)
	}
	rect := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, ErrRegionOutside
	}
	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, errors.New("ocr: image cannot be cropped")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(rect)); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// InputFromFile builds an input for a page image on disk. The bytes are
// loaded so in-process engines can use them; file-based engines use Path.
func InputFromFile(path string, page int, opts ...InputOption) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("read page image: %w", err)
	}
	in := Input{Image: data, Path: path, PageIndex: page}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}

// Accepts reports whether engines read images with extension ext directly;
// anything else is converted to TIFF first.
func Accepts(ext string) bool {
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		return true
	}
	return false
}
