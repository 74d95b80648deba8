package source

import (
	"fmt"
	"regexp"

	"golang.org/x/net/html"

	"github.com/wudi/pagegrab/textclean"
)

func bookURL(format string) BookURLFunc {
	return func(id string) (string, error) { return fmt.Sprintf(format, id), nil }
}

func pageURL(build func(id string, page int) string) PageURLFunc {
	return func(id string, page int) (string, error) { return build(id, page), nil }
}

// Hathi is the HathiTrust Digital Library. Page text is served as plain text.
var Hathi = Definition{
	Key:         "HATHI",
	Description: "Hathi Trust",
	BookURL:     bookURL("http://babel.hathitrust.org/cgi/pt?id=%s"),
	ImageURL: pageURL(func(id string, n int) string {
		return fmt.Sprintf("http://services.hathitrust.org/htd/pageimage/%s/%d", id, n)
	}),
	TextURL: pageURL(func(id string, n int) string {
		return fmt.Sprintf("http://services.hathitrust.org/htd/pageocr/%s/%d", id, n)
	}),
	TextIsDirect: true,
}

// Sceti is SCETI at the University of Pennsylvania, which needs a locator
// page per image.
var Sceti = Definition{
	Key:         "SCETI",
	Description: "SCETI, University of Pennsylvania",
	BookURL:     bookURL("http://sceti.library.upenn.edu/sceti/printedbooksNew/index.cfm?TextID=%s&PagePosition=1"),
	LocatorPageURL: pageURL(func(id string, n int) string {
		return fmt.Sprintf("http://sceti.library.upenn.edu/sceti/printedbooksNew/image.cfm?PagePosition=%d&TextID=%s", n, id)
	}),
	ExtractImageURL: extractScetiImage,
}

// Bielefeld is the University of Bielefeld digital library.
var Bielefeld = Definition{
	Key:         "BFELD",
	Description: "University of Bielefeld: Digital Library",
	BookURL:     bookURL("http://www.ub.uni-bielefeld.de/diglib/more/%s/"),
	ImageURL: pageURL(func(id string, n int) string {
		return fmt.Sprintf("http://www.ub.uni-bielefeld.de/diglib/more/%s/jpeg/%08d.jpg", id, n)
	}),
}

// Gallica is the Bibliothèque nationale de France. Ids look like
// btv1b8402704r.
var Gallica = Definition{
	Key:         "GALLICA",
	Description: "Gallica: Bibliothèque Nationale de France",
	BookURL:     bookURL("http://gallica.bnf.fr/ark:/12148/%s"),
	ImageURL: pageURL(func(id string, n int) string {
		return fmt.Sprintf("http://gallica.bnf.fr/proxy?method=R&ark=%s.f%d&l=%d", id, n, 50)
	}),
	TextURL: pageURL(func(id string, n int) string {
		return fmt.Sprintf("http://gallica.bnf.fr/ark:/12148/%s/f%d.texte", id, n)
	}),
	ExtractPageText: extractGallicaText,
}

var scetiLevel = regexp.MustCompile(`level=\d`)

// extractScetiImage prefers the image input named "myimage" and otherwise
// takes the last <img>. The zoom level is forced to full size.
func extractScetiImage(doc *html.Node) (string, error) {
	var src string
	for _, in := range findAll(doc, isElement("input")) {
		if name, _ := attr(in, "name"); name == "myimage" {
			src, _ = attr(in, "src")
		}
	}
	if src == "" {
		for _, img := range findAll(doc, isElement("img")) {
			if v, ok := attr(img, "src"); ok {
				src = v
			}
		}
	}
	if src == "" {
		return "", nil
	}
	return scetiLevel.ReplaceAllString(src, "level=0"), nil
}

// extractGallicaText reads the last div directly inside div#modeTexte.
func extractGallicaText(doc *html.Node) (string, error) {
	var last *html.Node
	containers := findAll(doc, func(n *html.Node) bool {
		id, _ := attr(n, "id")
		return n.Data == "div" && id == "modeTexte"
	})
	for _, c := range containers {
		if divs := childElements(c, "div"); len(divs) > 0 {
			last = divs[len(divs)-1]
		}
	}
	if last == nil {
		return "", nil
	}
	return textclean.NormalizeNode(last, true)
}
