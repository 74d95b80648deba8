// Package page drives a single page through acquisition, text recognition,
// conversion and publication.
//
// Every step records a human-readable status on the Record. Network and
// tool failures are per-page: they set the status (and Failed for
// acquisition) and return normally. Only local filesystem errors and
// context cancellation are returned to the caller.
package page

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wudi/pagegrab/assembler"
	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/ocr"
	"github.com/wudi/pagegrab/publish"
	"github.com/wudi/pagegrab/raster"
	"github.com/wudi/pagegrab/source"
	"github.com/wudi/pagegrab/toolexec"
)

// State is how far a page has progressed.
type State int

const (
	Queued State = iota
	LocatorFound
	ImageLocated
	Downloading
	Saved
	Missing
	Recognized
	Converted
	Appended
	Published
)

var stateNames = [...]string{"queued", "locator-found", "image-located", "downloading", "saved", "missing", "recognized", "converted", "appended", "published"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ImageExts are the extensions recognised when looking for a page image
// already on disk.
var ImageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff", ".jp2", ".ppm", ".pgm", ".pnm", ".pbm"}

// Env is what a Record needs from the job. It is shared by all pages.
type Env struct {
	// Dir is the book directory holding page images and text caches.
	Dir       string
	Source    *source.Source
	OCR       ocr.Engine
	Raster    *raster.Converter
	Runner    toolexec.Runner
	Assembler assembler.Assembler
	Publisher publish.Publisher

	// Clean runs before recognition when CleanText is set.
	Clean     toolexec.Pipeline
	CleanText bool
	// FallbackOCR recognizes locally when the source has no text.
	FallbackOCR bool
	Languages   []string
	OCROptions  []ocr.InputOption

	PageOptions assembler.PageOptions
	Prefix      string
	Template    string

	Logger observability.Logger
}

// Info is the observable state of a page.
type Info struct {
	Number int
	State  State
	Status string

	LocatorURL string
	ImageURL   string
	LocalPath  string
	Ext        string
	ImageSize  int64

	Text       string
	HasText    bool
	TextMethod string

	PageSize      int64
	ContainerSize int64
	PublishedAs   string

	// Failed is set when acquisition failed.
	Failed bool
}

// Record is one page of a job. It is owned by a single goroutine.
type Record struct {
	Info
	env *Env
	log observability.Logger
}

// New creates the record for page n.
func New(n int, env *Env) *Record {
	return &Record{
		Info: Info{Number: n, State: Queued, Status: "Queued."},
		env:  env,
		log:  observability.OrNop(env.Logger).With(observability.Int("page", n)),
	}
}

// Snapshot returns a copy safe to hand to observers.
func (r *Record) Snapshot() Info { return r.Info }

// Acquired reports whether the page image is on disk.
func (r *Record) Acquired() bool { return r.LocalPath != "" }

func (r *Record) setStatus(format string, args ...interface{}) {
	r.Status = fmt.Sprintf(format, args...)
	r.log.Info(r.Status)
}

// BaseName is the zero-padded page number used for every per-page file.
func BaseName(n int) string { return fmt.Sprintf("%04d", n) }

// TextCachePath is where recognized text for page n is cached.
func TextCachePath(dir string, n int) string {
	return filepath.Join(dir, BaseName(n)+".txt")
}

// AdoptLocalFile marks an image already present on disk as acquired.
func (r *Record) AdoptLocalFile(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	r.LocalPath = path
	r.Ext = filepath.Ext(path)
	r.ImageSize = st.Size()
	r.State = Saved
	r.Status = "File already exists locally."
	return nil
}

// MarkMissing records that the page has no image and will not get one.
func (r *Record) MarkMissing() {
	r.State = Missing
	r.Failed = true
	r.setStatus("Page missing and not downloaded")
}

// FindLocal looks in dir for an image of page n. An exact NNNN<ext> name
// wins; otherwise the last file (in name order) containing NNNN with a known
// image extension is used.
func FindLocal(dir string, n int) (string, bool) {
	base := BaseName(n)
	matches, err := filepath.Glob(filepath.Join(dir, "*"+base+"*.*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	var found string
	for _, m := range matches {
		ext := filepath.Ext(m)
		if !isImageExt(ext) {
			continue
		}
		if strings.TrimSuffix(filepath.Base(m), ext) == base {
			return m, true
		}
		found = m
	}
	return found, found != ""
}

func isImageExt(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range ImageExts {
		if e == ext {
			return true
		}
	}
	return false
}

// SizeText renders a byte count the way status lines show it.
func SizeText(n int64, unit string) string {
	switch {
	case n <= 0:
		return "?"
	case unit == "B":
		return fmt.Sprintf("%d B", n)
	case unit == "kB" || n < 1<<20:
		return fmt.Sprintf("%d kB", n/1024)
	default:
		return fmt.Sprintf("%d MB", n>>20)
	}
}
