package page

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/ocr"
	"github.com/wudi/pagegrab/raster"
)

const tiffTempFmt = "TESSERACT-OCR-TIFF-TEMP-FILE-%d.tiff"

// ObtainText makes the page's text available, from the cache, the source
// or local recognition, and caches whatever was obtained.
//
// With preferCache an existing cache file is used verbatim and nothing else
// runs. With forceLocal the source's text is skipped and the page is
// recognized locally. Otherwise the source is asked first and local
// recognition is a fallback only when Env.FallbackOCR is set.
func (r *Record) ObtainText(ctx context.Context, preferCache, forceLocal bool) error {
	cache := TextCachePath(r.env.Dir, r.Number)
	if preferCache {
		data, err := os.ReadFile(cache)
		switch {
		case err == nil:
			r.setText(string(data), "Saved")
			r.setStatus("OCR text already exists (~%d chars).", len([]rune(r.Text)))
			return nil
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("read text cache: %w", err)
		}
	}

	var text, method string
	if !forceLocal && r.env.Source != nil {
		r.env.Source.SetPage(r.Number)
		t, err := r.env.Source.PageText(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("source text unavailable", observability.Error("error", err))
		}
		if t != "" {
			text, method = t, "Retrieved from source"
		}
	}
	if text == "" {
		if !forceLocal && !r.env.FallbackOCR {
			r.setStatus("Not OCR'd.")
			return nil
		}
		t, err := r.RecognizeLocally(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("recognition failed", observability.Error("error", err))
			r.setStatus("Not OCR'd.")
			return nil
		}
		text, method = t, fmt.Sprintf("OCR'd with %s", r.engineName())
	}

	if err := os.MkdirAll(r.env.Dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(cache, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write text cache: %w", err)
	}
	r.setText(text, method)
	r.setStatus("OCR text completed (%s: ~%d chars).", method, len([]rune(text)))
	return nil
}

func (r *Record) setText(text, method string) {
	r.Text = text
	r.HasText = true
	r.TextMethod = method
	r.State = Recognized
}

func (r *Record) engineName() string {
	if r.env.OCR == nil {
		return "OCR"
	}
	return r.env.OCR.Name()
}

// RecognizeLocally runs the OCR engine on the page image, converting it to
// TIFF first when the engine cannot read it and running the cleaning
// pipeline when enabled. Intermediate files are always removed.
func (r *Record) RecognizeLocally(ctx context.Context) (string, error) {
	if r.env.OCR == nil {
		return "", errors.New("no ocr engine configured")
	}
	if r.LocalPath == "" {
		return "", errors.New("no local image")
	}
	in := r.LocalPath
	var temps []string
	defer func() {
		for _, t := range temps {
			os.Remove(t)
		}
	}()

	if !ocr.Accepts(r.Ext) {
		tiff := filepath.Join(r.env.Dir, fmt.Sprintf(tiffTempFmt, r.Number))
		temps = append(temps, tiff)
		conv := r.env.Raster
		if conv == nil {
			conv = &raster.Converter{Runner: r.env.Runner, Logger: r.env.Logger}
		}
		if err := conv.Convert(ctx, in, tiff); err != nil {
			return "", fmt.Errorf("convert for ocr: %w", err)
		}
		in = tiff
	}

	if r.env.CleanText && r.env.Clean.Len() > 0 {
		ext := filepath.Ext(in)
		cleaned := strings.TrimSuffix(in, ext) + ".cleaned" + ext
		temps = append(temps, cleaned)
		r.log.Info("cleaning image before recognition")
		if err := r.env.Clean.Run(ctx, r.env.Runner, in, cleaned); err != nil {
			return "", fmt.Errorf("clean image: %w", err)
		}
		in = cleaned
	}

	opts := append([]ocr.InputOption{ocr.WithLanguages(r.env.Languages...)}, r.env.OCROptions...)
	input, err := ocr.InputFromFile(in, r.Number, opts...)
	if err != nil {
		return "", err
	}
	res, err := r.env.OCR.Recognize(ctx, input)
	if err != nil {
		return "", err
	}
	return res.PlainText, nil
}

// DumpText appends the page's text to the accumulation file.
func (r *Record) DumpText(path string) error {
	if !r.HasText {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "\n\n===Page %d===\n\n%s", r.Number, r.Text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
