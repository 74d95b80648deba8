// Package publish hands saved page images to an external publication
// target: a directory, a Cloud Storage bucket or a Supabase storage bucket.
package publish

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// ErrExists is returned when the target already holds an item of the same
// name and overwriting was not requested.
var ErrExists = errors.New("publish: item already exists")

// Item is one page image to publish.
type Item struct {
	Name        string
	Description string
	Path        string
	ContentType string
}

// Publisher uploads items.
type Publisher interface {
	Publish(ctx context.Context, it Item) error
}

// Name is the published name of a page: "<prefix> - NNNN<ext>".
func Name(prefix string, page int, ext string) string {
	return fmt.Sprintf("%s - %04d%s", prefix, page, ext)
}

// Description is the wiki template call describing a page.
func Description(template string, page int) string {
	return fmt.Sprintf("{{%s|%04d}}", template, page)
}

// imageTypes covers page formats missing from mime's builtin table.
var imageTypes = map[string]string{
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".jp2":  "image/jp2",
	".bmp":  "image/bmp",
	".ppm":  "image/x-portable-pixmap",
	".pbm":  "image/x-portable-bitmap",
}

// NewItem builds the item for a page image stored at path.
func NewItem(prefix, template string, page int, path string) Item {
	ext := filepath.Ext(path)
	ct := imageTypes[strings.ToLower(ext)]
	if ct == "" {
		ct = mime.TypeByExtension(strings.ToLower(ext))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Item{
		Name:        Name(prefix, page, ext),
		Description: Description(template, page),
		Path:        path,
		ContentType: ct,
	}
}
