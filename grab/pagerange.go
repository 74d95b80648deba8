package grab

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wudi/pagegrab/page"
)

// GuessPageRange finds the first page with an image in dir and extends the
// range while consecutive pages have images too. A page has an image when
// an image file's name contains its four-digit number.
func GuessPageRange(dir string) (first, last int, ok bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, false
	}
	present := make(map[int]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !isImage(ext) {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		for i := 0; i+4 <= len(stem); i++ {
			w := stem[i : i+4]
			if !isDigits(w) {
				continue
			}
			n, _ := strconv.Atoi(w)
			present[n] = true
		}
	}
	if len(present) == 0 {
		return 0, 0, false
	}
	first = -1
	for n := range present {
		if first < 0 || n < first {
			first = n
		}
	}
	last = first
	for present[last+1] {
		last++
	}
	return first, last, true
}

func isImage(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range page.ImageExts {
		if e == ext {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
