package page

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/wudi/pagegrab/assembler"
	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/publish"
)

func (r *Record) containerName() string {
	return strings.ToUpper(strings.TrimPrefix(r.env.Assembler.Ext(), "."))
}

// Convert encodes the page image as the single-page working container. It
// reports false when no page was produced; that is not retried.
func (r *Record) Convert(ctx context.Context, pageFile string) (bool, error) {
	err := r.env.Assembler.ConvertPage(ctx, r.LocalPath, pageFile, r.env.PageOptions)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.log.Error("page conversion failed", observability.Error("error", err))
		r.setStatus("Page NOT converted to %s. An error occured in the conversion", r.containerName())
		return false, nil
	}
	st, err := os.Stat(pageFile)
	if err != nil {
		return false, err
	}
	r.PageSize = st.Size()
	r.State = Converted
	r.setStatus("Page converted to %s. (%s)", r.containerName(), SizeText(r.PageSize, "kB"))
	return true, nil
}

// InjectText attaches the page's text to page index of container. It is a
// no-op without text or for containers without text layers.
func (r *Record) InjectText(ctx context.Context, container string, index int) (bool, error) {
	if !r.HasText {
		return false, nil
	}
	err := r.env.Assembler.AttachText(ctx, r.Text, container, index)
	switch {
	case err == nil:
		r.setStatus("OCR text added to %s page.", r.containerName())
		return true, nil
	case errors.Is(err, assembler.ErrTextLayerUnsupported):
		r.log.Debug("container has no text layer")
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		r.log.Warn("text layer not added", observability.Error("error", err))
		r.setStatus("OCR text NOT added to %s page.", r.containerName())
		return false, nil
	}
}

// Append adds the working page to the end of the main container.
func (r *Record) Append(ctx context.Context, pageFile, mainFile string) (bool, error) {
	if err := r.env.Assembler.AppendPage(ctx, pageFile, mainFile); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.log.Error("append failed", observability.Error("error", err))
		r.setStatus("Page NOT appended to %s: %v", r.containerName(), err)
		return false, nil
	}
	st, err := os.Stat(mainFile)
	if err != nil {
		return false, err
	}
	r.ContainerSize = st.Size()
	r.State = Appended
	r.setStatus("Page appended to %s. (Page size %s, total size: %s)",
		r.containerName(), SizeText(r.PageSize, "kB"), SizeText(r.ContainerSize, "MB"))
	return true, nil
}

// Publish uploads the page image under its generated name.
func (r *Record) Publish(ctx context.Context) (bool, error) {
	if r.env.Publisher == nil {
		return false, errors.New("page: no publisher configured")
	}
	it := publish.NewItem(r.env.Prefix, r.env.Template, r.Number, r.LocalPath)
	r.log.Info("page is going to be published", observability.String("name", it.Name))
	err := r.env.Publisher.Publish(ctx, it)
	switch {
	case err == nil:
		r.PublishedAs = it.Name
		r.State = Published
		r.setStatus("File published as: %s", it.Name)
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, publish.ErrExists):
		r.setStatus("File already published as: %s", it.Name)
		return false, nil
	default:
		r.log.Warn("publish failed", observability.Error("error", err))
		r.setStatus("File NOT published: %v", err)
		return false, nil
	}
}
