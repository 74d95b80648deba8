package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"
)

const demoScript = `
var source = {
	key: "demo",
	description: "Demo repository",
	bookURL: function(id) { return "http://demo.example/" + id; },
	locatorPageURL: function(id, n) { return "http://demo.example/" + id + "/view/" + n; },
	extractImageURL: function(page) {
		var m = /data-full="([^"]+)"/.exec(page);
		return m ? m[1] : "";
	},
	textURL: function(id, n) { return "http://demo.example/" + id + "/text/" + n; },
	textIsDirect: true
};
`

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.js")
	if err := os.WriteFile(path, []byte(demoScript), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	if d.Key != "demo" || d.Description != "Demo repository" || !d.TextIsDirect {
		t.Fatalf("unexpected definition %+v", d)
	}
	if d.Has(CapImageURL) || !d.Has(CapLocatorPage) || !d.Has(CapExtractImageURL) {
		t.Fatalf("unexpected capabilities %v", d.Capabilities())
	}

	r, err := Builtin().With(d)
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeFetcher{pages: map[string]string{
		"http://demo.example/b1/view/3": `<div><img data-full="/img/b1/3.png"></div>`,
		"http://demo.example/b1/text/3": "third page\n",
	}}
	src, err := r.Open("DEMO", "b1", f, nil)
	if err != nil {
		t.Fatal(err)
	}
	src.SetPage(3)
	img, err := src.ImageURL(context.Background())
	if err != nil {
		t.Fatalf("ImageURL() error = %v", err)
	}
	if img != "http://demo.example/img/b1/3.png" {
		t.Fatalf("unexpected image url %q", img)
	}
	text, err := src.PageText(context.Background())
	if err != nil || text != "third page" {
		t.Fatalf("PageText() = %q, %v", text, err)
	}
}

func TestParseScriptRequiresKey(t *testing.T) {
	if _, err := ParseScript(`var source = {bookURL: function(id) { return id; }};`); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
}

func TestScriptCallsAreBounded(t *testing.T) {
	old := ScriptTimeout
	ScriptTimeout = 20 * time.Millisecond
	defer func() { ScriptTimeout = old }()

	d, err := ParseScript(`var source = {
		key: "SPIN",
		bookURL: function(id) { return id; },
		locatorPageURL: function(id, n) { return "http://spin.example/" + n; },
		extractImageURL: function(page) { while (true) {} }
	};`)
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}
	doc, _ := html.Parse(strings.NewReader(""))
	if _, err := d.ExtractImageURL(doc); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func mustParse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}
