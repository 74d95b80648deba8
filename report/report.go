// Package report renders an end-of-run report as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wudi/pagegrab/grab"
	"github.com/wudi/pagegrab/page"
)

// Meta identifies the run being reported.
type Meta struct {
	Title   string
	Source  string
	ID      string
	BookURL string
}

// FileName is the report's name inside the book directory.
func FileName(prefix string) string { return prefix + "-report.html" }

// Markdown builds the report text.
func Markdown(meta Meta, sum grab.Summary, pages []page.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", escape(meta.Title))
	if meta.BookURL != "" {
		fmt.Fprintf(&b, "Source: %s, document [%s](%s)\n\n", escape(meta.Source), escape(meta.ID), meta.BookURL)
	} else {
		fmt.Fprintf(&b, "Source: %s, document %s\n\n", escape(meta.Source), escape(meta.ID))
	}

	outcome := "completed"
	switch {
	case sum.Err != nil:
		outcome = "failed: " + escape(sum.Err.Error())
	case sum.Aborted:
		outcome = "aborted"
	}
	fmt.Fprintf(&b, "- Pages %d to %d (%d), run %s in %s\n", sum.First, sum.Last, sum.Pages, outcome, sum.Elapsed.Round(time.Second))
	fmt.Fprintf(&b, "- Acquired %d, missing %d, converted %d, appended %d, published %d\n",
		sum.Acquired, sum.Missing, sum.Converted, sum.Appended, sum.Published)
	if sum.Container != "" {
		fmt.Fprintf(&b, "- Container `%s` (%s)\n", filepath.Base(sum.Container), page.SizeText(sum.ContainerSize, "MB"))
	}

	b.WriteString("\n| Page | State | Text | Status |\n|---|---|---|---|\n")
	for _, p := range pages {
		text := "-"
		if p.HasText {
			text = fmt.Sprintf("%s (%d chars)", p.TextMethod, len([]rune(p.Text)))
		}
		fmt.Fprintf(&b, "| %04d | %s | %s | %s |\n", p.Number, p.State, escape(text), escape(p.Status))
	}
	return b.String()
}

// Render converts the report to an HTML document.
func Render(w io.Writer, meta Meta, sum grab.Summary, pages []page.Info) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(meta, sum, pages)), &body); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n%s</body></html>\n",
		htmlEscaper.Replace(meta.Title), body.Bytes())
	return err
}

// WriteFile renders the report to dir/FileName(prefix) and returns the
// path.
func WriteFile(dir, prefix string, meta Meta, sum grab.Summary, pages []page.Info) (string, error) {
	path := filepath.Join(dir, FileName(prefix))
	var buf bytes.Buffer
	if err := Render(&buf, meta, sum, pages); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var mdEscaper = strings.NewReplacer("|", `\|`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", "\n", " ")

func escape(s string) string { return mdEscaper.Replace(s) }

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
