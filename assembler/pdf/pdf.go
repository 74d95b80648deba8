// Package pdf assembles PDF documents in-process with pdfcpu. Each page
// image becomes one page; there is no hidden text layer.
package pdf

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/wudi/pagegrab/assembler"
	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/raster"
)

const tempImageBase = "IMG-PDF-CONVERTER-TEMP-FILE"

// Assembler implements assembler.Assembler on pdfcpu.
type Assembler struct {
	Raster *raster.Converter
	Logger observability.Logger
}

var _ assembler.Assembler = (*Assembler)(nil)

func New(conv *raster.Converter, log observability.Logger) *Assembler {
	return &Assembler{Raster: conv, Logger: log}
}

func (a *Assembler) Ext() string { return ".pdf" }

func config() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// importable lists the formats pdfcpu imports without help.
var importable = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true}

// ConvertPage writes a one-page PDF holding image. Bitonal pages are
// thresholded to black and white first; Quality has no meaning here.
func (a *Assembler) ConvertPage(ctx context.Context, image, pageFile string, opts assembler.PageOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(pageFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	src := image
	if opts.Bitonal || opts.ForceConvert || !importable[strings.ToLower(filepath.Ext(image))] {
		src = filepath.Join(filepath.Dir(image), tempImageBase+".png")
		defer os.Remove(src)
		if err := a.prepare(ctx, image, src, opts.Bitonal); err != nil {
			return fmt.Errorf("%w: %v", assembler.ErrNoOutput, err)
		}
	}
	if err := api.ImportImagesFile([]string{src}, pageFile, pdfcpu.DefaultImportConfig(), config()); err != nil {
		observability.OrNop(a.Logger).Warn("pdf page import failed",
			observability.String("image", filepath.Base(image)), observability.Error("error", err))
		return fmt.Errorf("%w: %v", assembler.ErrNoOutput, err)
	}
	return assembler.RequireOutput(pageFile)
}

func (a *Assembler) prepare(ctx context.Context, in, out string, bitonal bool) error {
	if !bitonal {
		return a.Raster.Convert(ctx, in, out)
	}
	img, err := raster.DecodeFile(in)
	if err != nil {
		return err
	}
	return raster.EncodeFile(out, raster.Threshold(img))
}

// AppendPage copies pageFile to mainFile on first use and otherwise merges
// it onto the end of mainFile.
func (a *Assembler) AppendPage(ctx context.Context, pageFile, mainFile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !assembler.Exists(mainFile) {
		if err := copyFile(pageFile, mainFile); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Base(mainFile), err)
		}
		return nil
	}
	if err := api.MergeAppendFile([]string{pageFile}, mainFile, false, config()); err != nil {
		return fmt.Errorf("merge into %s: %w", filepath.Base(mainFile), err)
	}
	return nil
}

func (a *Assembler) AttachText(context.Context, string, string, int) error {
	return assembler.ErrTextLayerUnsupported
}

// PageCount returns the number of pages in a PDF file.
func PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
