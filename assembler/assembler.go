// Package assembler turns page images into pages of an output container and
// appends them, in order, to the job's document.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrNoOutput means a tool ran but the expected file does not exist.
	ErrNoOutput = errors.New("assembler: no output produced")
	// ErrTextLayerUnsupported is returned by containers without hidden text.
	ErrTextLayerUnsupported = errors.New("assembler: text layers not supported")
)

// PageOptions controls single-page encoding.
type PageOptions struct {
	// Bitonal selects the two-colour encoder.
	Bitonal bool
	// Quality is the continuous-tone encoder target in decibels (16..50).
	Quality int
	// ForceConvert routes every image through an intermediate raster, even
	// formats the encoders could read directly.
	ForceConvert bool
}

// DefaultQuality is used when PageOptions.Quality is zero.
const DefaultQuality = 48

// Assembler builds a multi-page container.
//
// AppendPage has no index: it always adds at the end, creating the
// container when it does not exist yet. Callers must append in page order.
type Assembler interface {
	// Ext is the container's file extension, including the dot.
	Ext() string
	ConvertPage(ctx context.Context, image, pageFile string, opts PageOptions) error
	AppendPage(ctx context.Context, pageFile, mainFile string) error
	// AttachText replaces the hidden text of the 1-based page index.
	AttachText(ctx context.Context, text, container string, page int) error
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// RequireOutput returns ErrNoOutput unless path exists.
func RequireOutput(path string) error {
	if !Exists(path) {
		return fmt.Errorf("%w: %s", ErrNoOutput, path)
	}
	return nil
}

// FormatText serializes text as a DjVu hidden-text page: one region with a
// line per source line, backslashes and quotes escaped.
func FormatText(text string) string {
	var b strings.Builder
	b.WriteString("(page 0 0 1 1\n")
	for _, line := range strings.Split(text, "\n") {
		line = strings.ReplaceAll(line, `\`, `\\`)
		line = strings.ReplaceAll(line, `"`, `\"`)
		fmt.Fprintf(&b, "(line 0 0 1 1 \"%s\")\n", strings.TrimSpace(line))
	}
	b.WriteString(")\n")
	return b.String()
}
