// Package extract defines the extractor capability applied to fetched
// documents and a set of general-purpose built-ins.
package extract

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Extractor turns a parsed document into a flat mapping of extracted
// fields. Extractors run in caller-supplied order; their outputs are
// unioned pointwise, later keys overwriting earlier ones.
type Extractor interface {
	Name() string
	Apply(doc *goquery.Document, url string) (map[string]any, error)
}

// Func adapts a plain function into an Extractor.
type Func struct {
	ExtractorName string
	Fn            func(doc *goquery.Document, url string) (map[string]any, error)
}

func (f Func) Name() string {
	return f.ExtractorName
}

func (f Func) Apply(doc *goquery.Document, url string) (map[string]any, error) {
	return f.Fn(doc, url)
}

// ByName resolves built-in extractors from their names.
func ByName(names []string) ([]Extractor, error) {
	out := make([]Extractor, 0, len(names))
	for _, name := range names {
		switch name {
		case "links":
			out = append(out, Links{})
		case "text":
			out = append(out, Text{})
		case "images":
			out = append(out, Images{})
		case "metadata":
			out = append(out, Metadata{})
		default:
			return nil, fmt.Errorf("unknown extractor %q", name)
		}
	}
	return out, nil
}
