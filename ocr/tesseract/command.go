package tesseract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/pagegrab/ocr"
	"github.com/wudi/pagegrab/toolexec"
)

// CommandEngine runs the tesseract binary. Output goes to a temporary text
// file next to the image which is removed after reading.
type CommandEngine struct {
	Runner toolexec.Runner
	// Binary defaults to "tesseract".
	Binary string
}

func (e *CommandEngine) Name() string { return "tesseract" }

func (e *CommandEngine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if in.Path == "" {
		return ocr.Result{}, errors.New("tesseract: input has no file path")
	}
	bin := e.Binary
	if bin == "" {
		bin = "tesseract"
	}
	base := filepath.Join(filepath.Dir(in.Path), fmt.Sprintf("TESSERACT-OCR-TXT-TEMP-FILE-%d", in.PageIndex))
	txt := base + ".txt"
	defer os.Remove(txt)

	image := in.Path
	if in.Region != nil {
		data := in.Image
		if len(data) == 0 {
			var err error
			if data, err = os.ReadFile(in.Path); err != nil {
				return ocr.Result{}, err
			}
		}
		cropped, err := ocr.Crop(data, *in.Region)
		if err != nil {
			return ocr.Result{}, err
		}
		image = base + ".png"
		if err := os.WriteFile(image, cropped, 0o644); err != nil {
			return ocr.Result{}, err
		}
		defer os.Remove(image)
	}

	args := []string{image, base}
	if len(in.Languages) > 0 {
		args = append(args, "-l", strings.Join(in.Languages, "+"))
	}
	if in.DPI > 0 {
		args = append(args, "--dpi", strconv.Itoa(in.DPI))
	}
	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-c", k+"="+in.Metadata[k])
	}
	if err := e.Runner.Run(ctx, bin, args...); err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract: %w", err)
	}
	data, err := os.ReadFile(txt)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ocr.Result{}, err
	}
	// a clean exit without a text file means nothing was recognized
	return ocr.Result{PlainText: strings.TrimSpace(string(data))}, nil
}

// New returns the engine registered under kind: "gosseract" (default) or
// "command".
func New(kind string, runner toolexec.Runner) (ocr.Engine, error) {
	switch strings.ToLower(kind) {
	case "", "gosseract":
		return NewEngine(), nil
	case "command", "tesseract":
		return &CommandEngine{Runner: runner}, nil
	}
	return nil, fmt.Errorf("unknown ocr engine %q", kind)
}
