package ocr

import "strconv"

// Tesseract variables set through Input.Metadata.
const (
	VarPageSegMode = "tessedit_pageseg_mode"
	VarWhitelist   = "tessedit_char_whitelist"
)

// WithTesseractPSM sets the page segmentation mode. Zero leaves the
// engine's default.
func WithTesseractPSM(mode int) InputOption {
	return func(in *Input) {
		if mode <= 0 {
			return
		}
		setMeta(in, VarPageSegMode, strconv.Itoa(mode))
	}
}

// WithTesseractWhitelist restricts recognition to chars.
func WithTesseractWhitelist(chars string) InputOption {
	return func(in *Input) {
		if chars == "" {
			return
		}
		setMeta(in, VarWhitelist, chars)
	}
}

func setMeta(in *Input, k, v string) {
	if in.Metadata == nil {
		in.Metadata = make(map[string]string)
	}
	in.Metadata[k] = v
}
