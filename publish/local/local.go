// Package local publishes page images by copying them into a directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/publish"
)

// DescriptionSuffix names the file holding an item's description next to
// the published copy.
const DescriptionSuffix = ".description.txt"

// Publisher copies items into Dir.
type Publisher struct {
	Dir string
	// Force overwrites items that were already published.
	Force  bool
	Logger observability.Logger
}

// New returns a Publisher for dir.
func New(dir string, force bool, log observability.Logger) *Publisher {
	return &Publisher{Dir: dir, Force: force, Logger: log}
}

func (p *Publisher) Publish(ctx context.Context, it publish.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("create publish directory: %w", err)
	}
	src, err := os.Open(it.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := filepath.Join(p.Dir, it.Name)
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if p.Force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(dst, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return publish.ErrExists
		}
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", it.Name, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if it.Description != "" {
		if err := os.WriteFile(dst+DescriptionSuffix, []byte(it.Description+"\n"), 0o644); err != nil {
			return err
		}
	}
	observability.OrNop(p.Logger).Debug("published page", observability.String("file", dst))
	return nil
}
