package ocr

import "context"

// Region is a crop rectangle in pixels, origin at the top left.
type Region struct {
	X, Y          int
	Width, Height int
}

// IsEmpty reports whether the region covers no pixels.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Input is one page image handed to an engine.
type Input struct {
	// Image holds the encoded bytes for in-process engines.
	Image []byte
	// Path is the same image on disk, for engines that read files.
	Path      string
	PageIndex int
	// DPI overrides the resolution the engine assumes; zero keeps its guess.
	DPI       int
	Languages []string
	// Region limits recognition to part of the page. Nil means all of it.
	Region *Region
	// Metadata holds engine variables such as tessedit_pageseg_mode.
	Metadata map[string]string
}

// Result is the text recognized on one page.
type Result struct {
	PlainText string
}

// Engine recognizes the text of a page image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}
