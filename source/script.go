package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/net/html"

	"github.com/wudi/pagegrab/scripting"
)

// ScriptTimeout bounds a single call into a scripted source.
var ScriptTimeout = 5 * time.Second

// LoadScript reads a JavaScript repository definition from path.
//
// The script must declare a global `source` object with a string `key` and
// a `bookURL(id)` function, plus any of `description`, `imageURL(id, n)`,
// `locatorPageURL(id, n)`, `textURL(id, n)`, `textIsDirect`,
// `extractImageURL(html)` and `extractPageText(html)`. Extractors receive the
// parsed page re-serialized as HTML and return a string.
func LoadScript(path string) (Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	return ParseScript(string(src))
}

// ParseScript is LoadScript for source text already in memory.
func ParseScript(src string) (Definition, error) {
	eng := scripting.NewEngine()
	ctx, cancel := context.WithTimeout(context.Background(), ScriptTimeout)
	defer cancel()
	if _, err := eng.Execute(ctx, src); err != nil {
		return Definition{}, fmt.Errorf("load source script: %w", err)
	}
	key, ok := eng.Lookup("source.key")
	if !ok {
		return Definition{}, fmt.Errorf("%w: script declares no source.key", ErrInvalidDefinition)
	}
	d := Definition{Key: fmt.Sprint(key)}
	if desc, ok := eng.Lookup("source.description"); ok {
		d.Description = fmt.Sprint(desc)
	}
	if direct, ok := eng.Lookup("source.textIsDirect"); ok {
		d.TextIsDirect, _ = direct.(bool)
	}
	if eng.IsFunction("source.bookURL") {
		d.BookURL = func(id string) (string, error) { return callString(eng, "source.bookURL", id) }
	}
	d.ImageURL = scriptPageURL(eng, "source.imageURL")
	d.LocatorPageURL = scriptPageURL(eng, "source.locatorPageURL")
	d.TextURL = scriptPageURL(eng, "source.textURL")
	d.ExtractImageURL = scriptExtract(eng, "source.extractImageURL")
	d.ExtractPageText = scriptExtract(eng, "source.extractPageText")
	if err := d.Validate(); err != nil {
		return Definition{}, err
	}
	return d, nil
}

func scriptPageURL(eng *scripting.GojaEngine, name string) PageURLFunc {
	if !eng.IsFunction(name) {
		return nil
	}
	return func(id string, page int) (string, error) { return callString(eng, name, id, page) }
}

func scriptExtract(eng *scripting.GojaEngine, name string) ExtractFunc {
	if !eng.IsFunction(name) {
		return nil
	}
	return func(doc *html.Node) (string, error) {
		var buf bytes.Buffer
		if err := html.Render(&buf, doc); err != nil {
			return "", err
		}
		return callString(eng, name, buf.String())
	}
}

func callString(eng *scripting.GojaEngine, name string, args ...interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ScriptTimeout)
	defer cancel()
	v, err := eng.Call(ctx, name, args...)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}
