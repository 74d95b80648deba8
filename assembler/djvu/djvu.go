// Package djvu assembles DjVu documents with the djvulibre command line
// tools.
package djvu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wudi/pagegrab/assembler"
	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/raster"
	"github.com/wudi/pagegrab/toolexec"
)

const (
	tempImageBase = "IMG-DJVU-CONVERTER-TEMP-FILE"
	tempTextFmt   = "DJVU-FORMATTED-OCR-TEXT-TEMP-FILE-%d.txt"
)

// Assembler drives c44, cjb2, djvm and djvused.
type Assembler struct {
	Runner toolexec.Runner
	// Raster produces the intermediate PPM/PBM for images the encoders
	// cannot read directly.
	Raster *raster.Converter
	Logger observability.Logger
}

var _ assembler.Assembler = (*Assembler)(nil)

// New returns an Assembler using runner for every tool.
func New(runner toolexec.Runner, log observability.Logger) *Assembler {
	return &Assembler{Runner: runner, Raster: &raster.Converter{Runner: runner, Logger: log}, Logger: log}
}

func (a *Assembler) Ext() string { return ".djvu" }

// ConvertPage encodes image as a single-page DjVu file. JPEGs go straight to
// c44 and TIFFs straight to cjb2 unless ForceConvert is set; everything else
// is first rewritten as a PPM or PBM next to the image.
func (a *Assembler) ConvertPage(ctx context.Context, image, pageFile string, opts assembler.PageOptions) error {
	quality := opts.Quality
	if quality == 0 {
		quality = assembler.DefaultQuality
	}
	if err := os.Remove(pageFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	ext := strings.ToLower(filepath.Ext(image))
	encode := func(in string) error {
		if opts.Bitonal {
			return a.Runner.Run(ctx, "cjb2", in, pageFile)
		}
		return a.Runner.Run(ctx, "c44", "-decibel", strconv.Itoa(quality), in, pageFile)
	}

	var err error
	switch {
	case opts.ForceConvert:
		err = a.viaRaster(ctx, image, opts.Bitonal, encode)
	case !opts.Bitonal && (ext == ".jpg" || ext == ".jpeg"):
		err = encode(image)
	case opts.Bitonal && (ext == ".tif" || ext == ".tiff"):
		err = encode(image)
	default:
		err = a.viaRaster(ctx, image, opts.Bitonal, encode)
	}
	if err != nil {
		observability.OrNop(a.Logger).Warn("page encoding failed",
			observability.String("image", filepath.Base(image)), observability.Error("error", err))
	}
	if outErr := assembler.RequireOutput(pageFile); outErr != nil {
		if err != nil {
			return fmt.Errorf("%w: %v", outErr, err)
		}
		return outErr
	}
	return nil
}

// viaRaster rewrites image as a PPM (or PBM when bitonal) next to it and
// encodes that.
func (a *Assembler) viaRaster(ctx context.Context, image string, bitonal bool, encode func(string) error) error {
	tempExt := ".ppm"
	if bitonal {
		tempExt = ".pbm"
	}
	temp := filepath.Join(filepath.Dir(image), tempImageBase+tempExt)
	defer os.Remove(temp)
	if err := a.Raster.Convert(ctx, image, temp); err != nil {
		return err
	}
	return encode(temp)
}

// AppendPage bundles pageFile into mainFile, creating it on first use.
func (a *Assembler) AppendPage(ctx context.Context, pageFile, mainFile string) error {
	mode := "-i"
	if !assembler.Exists(mainFile) {
		mode = "-c"
	}
	if err := a.Runner.Run(ctx, "djvm", mode, mainFile, pageFile); err != nil {
		return fmt.Errorf("djvm %s: %w", mode, err)
	}
	return assembler.RequireOutput(mainFile)
}

// AttachText replaces the hidden text layer of page (1-based) in container.
func (a *Assembler) AttachText(ctx context.Context, text, container string, page int) error {
	tmp := filepath.Join(filepath.Dir(container), fmt.Sprintf(tempTextFmt, page))
	if err := os.WriteFile(tmp, []byte(assembler.FormatText(text)), 0o644); err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := a.Runner.Run(ctx, "djvused", container, "-e", fmt.Sprintf("select %d; remove-txt", page), "-s"); err != nil {
		return fmt.Errorf("remove text layer: %w", err)
	}
	if err := a.Runner.Run(ctx, "djvused", container, "-e", fmt.Sprintf("select %d; set-txt %s", page, tmp), "-s"); err != nil {
		return fmt.Errorf("set text layer: %w", err)
	}
	return nil
}
