package textclean

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		newline bool
		want    string
	}{
		{"entity and break", "<p>A &amp; B<br/></p>", true, "A & B\n"},
		{"break removed", "<p>A<br>B</p>", false, "AB"},
		{"numeric entities", "caf&#233; &#x263A;", true, "café ☺"},
		{"unknown entity kept", "a &bogus; b", true, "a &bogus; b"},
		{"leading whitespace", "\n\n   <div>  first line  <BR>\tsecond\t</div>", true, "first line\nsecond"},
		{"nested tags", "<div><span class=\"x\">in</span><b>side</b></div>", true, "inside"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in, tc.newline); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeLeavesNoMarkup(t *testing.T) {
	got := Normalize("<p>A &amp; B<br/></p>", true)
	if strings.ContainsAny(got, "<>") || strings.Contains(got, "&amp;") {
		t.Fatalf("residual markup in %q", got)
	}
}

func TestNormalizeNode(t *testing.T) {
	doc, err := html.Parse(strings.NewReader("<div id=\"modeTexte\"><div>Line one<br>Line &quot;two&quot;</div></div>"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := NormalizeNode(doc, true)
	if err != nil {
		t.Fatalf("NormalizeNode() error = %v", err)
	}
	if got != "Line one\nLine \"two\"" {
		t.Fatalf("unexpected text %q", got)
	}
}
