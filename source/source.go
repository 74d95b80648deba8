// Package source knows how each online repository exposes a document's page
// images and page text.
//
// A repository is described by a Definition: a set of optional URL builders
// and HTML extractors. Which of them are present is the repository's
// capability set, queried with Has. A Source binds a Definition to one
// document and a fetcher and walks it page by page.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/wudi/pagegrab/observability"
)

var (
	// ErrNoImageURL means the page's image location could not be resolved.
	ErrNoImageURL = errors.New("source: image url not found")
	// ErrInvalidDefinition marks a Definition whose capabilities are
	// inconsistent.
	ErrInvalidDefinition = errors.New("source: invalid definition")
)

// Capability names an optional operation of a Definition.
type Capability int

const (
	CapLocatorPage Capability = iota + 1
	CapImageURL
	CapTextURL
	CapExtractImageURL
	CapExtractPageText
)

func (c Capability) String() string {
	switch c {
	case CapLocatorPage:
		return "locator-page"
	case CapImageURL:
		return "image-url"
	case CapTextURL:
		return "text-url"
	case CapExtractImageURL:
		return "extract-image-url"
	case CapExtractPageText:
		return "extract-page-text"
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

type (
	// BookURLFunc builds the human-facing URL of a document.
	BookURLFunc func(id string) (string, error)
	// PageURLFunc builds a per-page URL.
	PageURLFunc func(id string, page int) (string, error)
	// ExtractFunc pulls a value out of a parsed HTML document. An empty
	// result means nothing was found.
	ExtractFunc func(doc *html.Node) (string, error)
)

// Definition describes one repository.
type Definition struct {
	Key         string
	Description string

	BookURL BookURLFunc
	// LocatorPageURL is set for repositories where an HTML page must be
	// fetched to discover the image location.
	LocatorPageURL PageURLFunc
	// ImageURL is set when the image location can be built directly.
	ImageURL PageURLFunc
	// TextURL is set when the repository serves text for a page.
	TextURL PageURLFunc

	ExtractImageURL ExtractFunc
	ExtractPageText ExtractFunc

	// TextIsDirect means TextURL serves plain text, not HTML.
	TextIsDirect bool
}

// Has reports whether the definition provides c.
func (d Definition) Has(c Capability) bool {
	switch c {
	case CapLocatorPage:
		return d.LocatorPageURL != nil
	case CapImageURL:
		return d.ImageURL != nil
	case CapTextURL:
		return d.TextURL != nil
	case CapExtractImageURL:
		return d.ExtractImageURL != nil
	case CapExtractPageText:
		return d.ExtractPageText != nil
	}
	return false
}

// Capabilities lists the optional operations present, in declaration order.
func (d Definition) Capabilities() []Capability {
	var out []Capability
	for c := CapLocatorPage; c <= CapExtractPageText; c++ {
		if d.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks that the capability set is consistent.
func (d Definition) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, d.Key, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(d.Key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidDefinition)
	}
	if d.BookURL == nil {
		return fail("no book url")
	}
	if d.Has(CapLocatorPage) != d.Has(CapExtractImageURL) {
		return fail("a locator page and an image url extractor must be defined together")
	}
	if !d.Has(CapLocatorPage) && !d.Has(CapImageURL) {
		return fail("no way to locate page images")
	}
	if d.Has(CapTextURL) && !d.TextIsDirect && !d.Has(CapExtractPageText) {
		return fail("html page text needs a text extractor")
	}
	return nil
}

// Fetcher retrieves a URL's body.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Source is a Definition bound to a document. It keeps a page cursor and is
// meant for one page at a time.
type Source struct {
	def  Definition
	id   string
	f    Fetcher
	log  observability.Logger
	page int
}

// New binds def to the document id.
func New(def Definition, id string, f Fetcher, log observability.Logger) (*Source, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.New("source: nil fetcher")
	}
	return &Source{def: def, id: id, f: f, log: observability.OrNop(log).With(observability.String("source", def.Key))}, nil
}

func (s *Source) Definition() Definition { return s.def }
func (s *Source) Key() string            { return s.def.Key }
func (s *Source) ID() string             { return s.id }

// SetPage moves the cursor.
func (s *Source) SetPage(n int) { s.page = n }

// Page returns the cursor.
func (s *Source) Page() int { return s.page }

// BookURL returns the document's landing page.
func (s *Source) BookURL() (string, error) { return s.def.BookURL(s.id) }

// PageURL returns the current page's locator URL, or "" when the repository
// does not use locator pages.
func (s *Source) PageURL() (string, error) {
	if !s.def.Has(CapLocatorPage) {
		return "", nil
	}
	return s.def.LocatorPageURL(s.id, s.page)
}

// ImageURL resolves the current page's image location, fetching and parsing
// the locator page when the repository requires it.
func (s *Source) ImageURL(ctx context.Context) (string, error) {
	locator, err := s.PageURL()
	if err != nil {
		return "", err
	}
	if locator == "" {
		if !s.def.Has(CapImageURL) {
			return "", ErrNoImageURL
		}
		u, err := s.def.ImageURL(s.id, s.page)
		if err != nil {
			return "", err
		}
		if u == "" {
			return "", ErrNoImageURL
		}
		return u, nil
	}

	doc, err := s.fetchHTML(ctx, locator)
	if err != nil {
		return "", err
	}
	found, err := s.def.ExtractImageURL(doc)
	if err != nil {
		return "", fmt.Errorf("extract image url: %w", err)
	}
	if found == "" {
		return "", ErrNoImageURL
	}
	return resolve(locator, found)
}

// Fetch retrieves u through the source's fetcher.
func (s *Source) Fetch(ctx context.Context, u string) ([]byte, error) {
	return s.f.Get(ctx, u)
}

// PageText returns the repository's text for the current page. The empty
// string with a nil error means the repository has none.
func (s *Source) PageText(ctx context.Context) (string, error) {
	if !s.def.Has(CapTextURL) {
		return "", nil
	}
	u, err := s.def.TextURL(s.id, s.page)
	if err != nil || u == "" {
		return "", err
	}
	if s.def.TextIsDirect {
		body, err := s.f.Get(ctx, u)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(body)), nil
	}
	doc, err := s.fetchHTML(ctx, u)
	if err != nil {
		return "", err
	}
	text, err := s.def.ExtractPageText(doc)
	if err != nil {
		return "", fmt.Errorf("extract page text: %w", err)
	}
	return text, nil
}

func (s *Source) fetchHTML(ctx context.Context, u string) (*html.Node, error) {
	body, err := s.f.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", u, err)
	}
	s.log.Debug("parsed html page", observability.String("url", u), observability.Int("page", s.page))
	return doc, nil
}

// resolve makes ref absolute relative to base.
func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("bad image reference %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
