package page

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wudi/pagegrab/filetype"
	"github.com/wudi/pagegrab/observability"
)

// DownloadPolicy bounds image download attempts.
type DownloadPolicy struct {
	Attempts int
	// MinBytes is the corruption threshold: bodies of MinBytes or fewer
	// bytes are treated as error pages and retried.
	MinBytes int
}

// DefaultDownloadPolicy is ten attempts with a 1000 byte threshold.
var DefaultDownloadPolicy = DownloadPolicy{Attempts: 10, MinBytes: 1000}

var errNoSource = errors.New("page: no source configured")

// LocatePage records the locator page URL, if the source uses one.
func (r *Record) LocatePage() error {
	src := r.env.Source
	if src == nil {
		return errNoSource
	}
	src.SetPage(r.Number)
	u, err := src.PageURL()
	if err != nil {
		r.Failed = true
		r.setStatus("Locator page URL could not be built: %v", err)
		return nil
	}
	r.LocatorURL = u
	if u != "" {
		r.State = LocatorFound
		r.setStatus("Found HTML page URL: %s", u)
	}
	return nil
}

// LocateImage resolves the image URL. It reports false when the image
// could not be located.
func (r *Record) LocateImage(ctx context.Context) (bool, error) {
	src := r.env.Source
	if src == nil {
		return false, errNoSource
	}
	src.SetPage(r.Number)
	u, err := src.ImageURL(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.Failed = true
		r.setStatus("Image URL not found: %v", err)
		return false, nil
	}
	r.ImageURL = u
	r.State = ImageLocated
	r.setStatus("Found image URL: %s", u)
	return true, nil
}

// FetchImage downloads the located image, retrying failed and undersized
// downloads up to the policy's attempt count. It returns nil data when no
// acceptable body was obtained.
func (r *Record) FetchImage(ctx context.Context, p DownloadPolicy) ([]byte, error) {
	if r.ImageURL == "" {
		r.Failed = true
		r.setStatus("Image not found.")
		return nil, nil
	}
	r.State = Downloading
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := r.env.Source.Fetch(ctx, r.ImageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn("image fetch failed", observability.Int("attempt", attempt), observability.Error("error", err))
			continue
		}
		if len(data) <= p.MinBytes {
			r.log.Warn("possibly corrupt image, retrying",
				observability.Int("attempt", attempt), observability.Int("bytes", len(data)))
			continue
		}
		r.ImageSize = int64(len(data))
		r.log.Info("got image file", observability.String("size", SizeText(r.ImageSize, "kB")))
		return data, nil
	}
	r.Failed = true
	r.setStatus("Image not found.")
	return nil, nil
}

// PersistImage writes data as NNNN<ext> in the book directory, with the
// extension taken from the bytes' magic number. Undetected formats are kept
// under filetype.UnknownExt.
func (r *Record) PersistImage(data []byte) error {
	if err := os.MkdirAll(r.env.Dir, 0o755); err != nil {
		return fmt.Errorf("create book directory: %w", err)
	}
	raw := filepath.Join(r.env.Dir, BaseName(r.Number))
	if err := os.WriteFile(raw, data, 0o644); err != nil {
		return fmt.Errorf("write page %d: %w", r.Number, err)
	}
	format := filetype.Detect(data)
	if format == filetype.Unknown {
		r.log.Error("unknown file format")
	} else {
		r.log.Debug("identified file format", observability.String("format", string(format)))
	}
	path := raw + format.Ext()
	if err := os.Rename(raw, path); err != nil {
		return fmt.Errorf("rename page %d: %w", r.Number, err)
	}
	r.LocalPath = path
	r.Ext = format.Ext()
	r.ImageSize = int64(len(data))
	r.State = Saved
	r.Failed = false
	r.setStatus("Saved image file to local file system.")
	return nil
}
