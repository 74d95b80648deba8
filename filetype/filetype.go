// Package filetype identifies page images by their magic numbers rather than
// by whatever a server or URL claims they are.
package filetype

import "strings"

// Format is a detected image format. The zero value means unknown.
type Format string

const (
	Unknown Format = ""
	JPEG    Format = "jpeg"
	PNG     Format = "png"
	GIF     Format = "gif"
	TIFF    Format = "tif"
	JP2     Format = "jp2"
)

// UnknownExt is the extension given to files whose format was not detected.
const UnknownExt = ".UNKNOWN"

// Ext returns the file extension used when persisting an image of format f.
func (f Format) Ext() string {
	switch f {
	case JPEG:
		return ".jpg"
	case PNG:
		return ".png"
	case GIF:
		return ".gif"
	case TIFF:
		return ".tif"
	case JP2:
		return ".jp2"
	default:
		return UnknownExt
	}
}

// Rule maps byte offsets to expected values. Negative offsets count from the
// end of the buffer, so -1 is the last byte.
type Rule map[int]byte

type signature struct {
	format Format
	rules  []Rule
}

// signatures is ordered; the first format with a fully matching rule wins.
var signatures = []signature{
	{JPEG, []Rule{{0: 0xFF, 1: 0xD8, -2: 0xFF, -1: 0xD9}}},
	{PNG, []Rule{{0: 0x89, 1: 0x50, 2: 0x4E, 3: 0x47, 4: 0x0D, 5: 0x0A, 6: 0x1A, 7: 0x0A}}},
	{GIF, []Rule{
		{0: 0x47, 1: 0x49, 2: 0x46, 3: 0x38, 4: 0x37, 5: 0x61},
		{0: 0x47, 1: 0x49, 2: 0x46, 3: 0x38, 4: 0x39, 5: 0x61},
	}},
	{TIFF, []Rule{
		{0: 0x49, 1: 0x49, 2: 0x2A, 3: 0x00},
		{0: 0x4D, 1: 0x4D, 2: 0x00, 3: 0x2A},
	}},
	{JP2, []Rule{{0: 0x00, 1: 0x00, 2: 0x00, 3: 0x0C, 4: 0x6A, 5: 0x50, 6: 0x20, 7: 0x20, 8: 0x0D, 9: 0x0A}}},
}

// Detect returns the format whose signature matches data, or Unknown.
func Detect(data []byte) Format {
	for _, sig := range signatures {
		for _, rule := range sig.rules {
			if rule.Match(data) {
				return sig.format
			}
		}
	}
	return Unknown
}

// Match reports whether every offset in r holds the expected byte. Offsets
// that fall outside data never match.
func (r Rule) Match(data []byte) bool {
	if len(r) == 0 {
		return false
	}
	for off, want := range r {
		idx := off
		if off < 0 {
			idx = len(data) + off
		}
		if idx < 0 || idx >= len(data) || data[idx] != want {
			return false
		}
	}
	return true
}

// FromExt maps a file extension (with dot, any case) to a format.
func FromExt(ext string) Format {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return JPEG
	case ".png":
		return PNG
	case ".gif":
		return GIF
	case ".tif", ".tiff":
		return TIFF
	case ".jp2":
		return JP2
	default:
		return Unknown
	}
}
